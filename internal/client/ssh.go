package client

import (
	"context"
	"fmt"

	"github.com/remux-dev/remux/internal/codec"
	"github.com/remux-dev/remux/internal/pki"
	"github.com/remux-dev/remux/internal/transport"
)

// bootstrapTLSCreds asks the remote server for a signed client
// certificate over an ssh session and stores it for future TLS
// connections. The remote side starts the server if needed, mints a
// cert and writes a single GetTlsCredsResponse PDU to stdout.
func bootstrapTLSCreds(ctx context.Context, destination, proxyPath string, store *pki.Store) error {
	if store == nil {
		return fmt.Errorf("explicit pem_cert is configured; nothing to bootstrap")
	}
	dest, err := transport.ParseDestination(destination)
	if err != nil {
		return err
	}
	if proxyPath == "" {
		proxyPath = "remux"
	}

	stream, err := transport.SpawnSSHProxy(ctx, dest, []string{proxyPath, "cli", "tlscreds"})
	if err != nil {
		return err
	}
	defer stream.Close()

	decoded, err := codec.Decode(stream)
	if err != nil {
		return fmt.Errorf("reading credentials from %s: %w", dest.String(), err)
	}
	creds, ok := decoded.Pdu.(*codec.GetTlsCredsResponse)
	if !ok {
		return fmt.Errorf("remote sent %s instead of TLS credentials", codec.PduName(decoded.Pdu))
	}
	if err := store.Save(creds.CACertPEM, creds.ClientCertPEM); err != nil {
		return fmt.Errorf("storing credentials: %w", err)
	}
	return nil
}
