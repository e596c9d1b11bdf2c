package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/remux-dev/remux/internal/codec"
)

// verifyTimeout bounds the version exchange. Generous because the
// server may be cold-starting behind an ssh hop.
const verifyTimeout = 60 * time.Second

// IncompatibleVersionError means both ends are healthy but speak
// different protocol versions.
type IncompatibleVersionError struct {
	ClientVersion uint64
	ServerVersion uint64
	ServerString  string
}

func (e *IncompatibleVersionError) Error() string {
	return fmt.Sprintf(
		"server %s speaks codec version %d but this client speaks %d; update the older side",
		e.ServerString, e.ServerVersion, e.ClientVersion)
}

// VerifyVersionCompat confirms both ends speak the same codec
// version. It must be the first call on a fresh connection: nothing
// else is safe to decode until versions agree.
func (c *Client) VerifyVersionCompat(ctx context.Context) (*codec.GetCodecVersionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	resp, err := c.GetCodecVersion(ctx)
	if err != nil {
		var corrupt *codec.CorruptFrameError
		switch {
		case errors.As(err, &corrupt):
			return nil, fmt.Errorf(
				"%w (if this server is reached via ssh, check for shell startup output corrupting the stream)", err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf(
				"server did not answer the version exchange; it may predate version checks: %w", err)
		}
		return nil, err
	}

	if resp.CodecVers != codec.Version {
		return nil, &IncompatibleVersionError{
			ClientVersion: codec.Version,
			ServerVersion: resp.CodecVers,
			ServerString:  resp.VersionString,
		}
	}
	return resp, nil
}
