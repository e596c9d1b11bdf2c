package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Destination identifies an ssh endpoint, written [user@]host[:port].
// Port 0 means whatever the user's ssh config says.
type Destination struct {
	User string
	Host string
	Port int
}

// ParseDestination parses [user@]host[:port]. IPv6 hosts with a port
// use the usual bracket form, [::1]:2222.
func ParseDestination(s string) (Destination, error) {
	var d Destination
	if s == "" {
		return d, errors.New("empty ssh destination")
	}
	if user, rest, ok := strings.Cut(s, "@"); ok {
		d.User = user
		s = rest
	}
	if host, port, err := net.SplitHostPort(s); err == nil {
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			return d, fmt.Errorf("invalid ssh port %q", port)
		}
		d.Host, d.Port = host, p
	} else {
		d.Host = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	}
	if d.Host == "" {
		return d, fmt.Errorf("ssh destination %q has no host", s)
	}
	return d, nil
}

func (d Destination) String() string {
	host := d.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if d.Port != 0 {
		host = host + ":" + strconv.Itoa(d.Port)
	}
	if d.User != "" {
		return d.User + "@" + host
	}
	return host
}

// SpawnSSHProxy starts ssh running the given command on dest and
// adapts its stdio into a Stream. ssh is left free to prompt for
// authentication: stderr is inherited and BatchMode is not forced, so
// password and keyboard-interactive auth work exactly as they do for
// a manual ssh.
func SpawnSSHProxy(ctx context.Context, dest Destination, command []string) (Stream, error) {
	if len(command) == 0 {
		return nil, errors.New("empty ssh proxy command")
	}
	args := []string{"-T"}
	if dest.User != "" {
		args = append(args, "-l", dest.User)
	}
	if dest.Port != 0 {
		args = append(args, "-p", strconv.Itoa(dest.Port))
	}
	args = append(args, dest.Host)
	args = append(args, command...)

	cmd := exec.CommandContext(ctx, "ssh", args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ssh %s: %w", dest, err)
	}
	return &procStream{cmd: cmd, in: stdin, out: stdout}, nil
}

// procStream adapts a child process's stdio into a Stream.
type procStream struct {
	cmd       *exec.Cmd
	in        io.WriteCloser
	out       io.ReadCloser
	closeOnce sync.Once
}

func (p *procStream) Read(b []byte) (int, error)  { return p.out.Read(b) }
func (p *procStream) Write(b []byte) (int, error) { return p.in.Write(b) }

func (p *procStream) Close() error {
	p.closeOnce.Do(func() {
		p.in.Close()
		p.out.Close()
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
		// Reap; the error is the kill we just sent.
		p.cmd.Wait()
	})
	return nil
}
