package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/remux-dev/remux/internal/config"
	"github.com/remux-dev/remux/internal/pki"
	"github.com/remux-dev/remux/internal/transport"
)

// Reconnectable establishes the stream for one domain and decides
// whether a dropped connection is worth redialing.
type Reconnectable interface {
	// Label names the endpoint for logs and status messages.
	Label() string

	// Connect establishes a fresh stream. initial is true only for
	// the first connection of a client's life; connectors use it to
	// gate side effects like auto-starting a server or bootstrapping
	// credentials.
	Connect(ctx context.Context, initial bool) (transport.Stream, error)

	// ShouldReconnect reports the domain's reconnect policy.
	ShouldReconnect() bool
}

// nextBackoff doubles the delay up to the cap.
func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

// ForDomain builds the connector for a configured domain.
func ForDomain(dom config.Domain, log *slog.Logger) (Reconnectable, error) {
	if log == nil {
		log = slog.New(discardHandler{})
	}
	switch d := dom.(type) {
	case *config.UnixDomain:
		return NewUnixConnector(d, log), nil
	case *config.TLSClient:
		return NewTLSConnector(d, log)
	case *config.SSHDomain:
		return NewSSHConnector(d), nil
	case *config.QUICClient:
		return NewQUICConnector(d)
	}
	return nil, fmt.Errorf("unsupported domain kind %s", dom.Kind())
}

// --- unix sockets ---

const (
	unixDialAttempts = 10
	unixDialBackoff  = 50 * time.Millisecond
	spawnGracePeriod = 200 * time.Millisecond
)

// UnixConnector dials a local mux server socket, optionally starting
// the server when it is not running yet.
type UnixConnector struct {
	dom *config.UnixDomain
	log *slog.Logger

	// NoAutoStart suppresses server spawning regardless of the
	// domain's configuration. Set by "attach --no-auto-start".
	NoAutoStart bool
}

func NewUnixConnector(dom *config.UnixDomain, log *slog.Logger) *UnixConnector {
	return &UnixConnector{dom: dom, log: log}
}

func (u *UnixConnector) Label() string { return u.dom.Label() }

// ShouldReconnect is false for unix sockets: the server lives on this
// machine, so a dropped connection means it exited on purpose.
func (u *UnixConnector) ShouldReconnect() bool { return false }

func (u *UnixConnector) Connect(ctx context.Context, initial bool) (transport.Stream, error) {
	path := u.dom.SocketPath

	if !u.dom.SkipPermissionsCheck {
		err := transport.CheckSocketOwnership(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	justSpawned := false
	var lastErr error
	for attempt := 0; attempt < unixDialAttempts; attempt++ {
		conn, err := transport.DialUnix(path)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if initial && !justSpawned && !u.NoAutoStart && !u.dom.NoServeAutomatically {
			u.log.Info("no server on socket, spawning one", "path", path)
			if spawnErr := u.spawnServer(); spawnErr != nil {
				return nil, fmt.Errorf("start mux server: %w", spawnErr)
			}
			justSpawned = true
			// Grace period: the freshly spawned server needs a moment
			// to bind its socket.
			if err := sleepCtx(ctx, spawnGracePeriod); err != nil {
				return nil, err
			}
			continue
		}

		if err := sleepCtx(ctx, time.Duration(attempt+1)*unixDialBackoff); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("connecting to %s: %w", path, lastErr)
}

// spawnServer starts the mux server in the background. The server
// daemonizes itself; the intermediate process is reaped off to the
// side.
func (u *UnixConnector) spawnServer() error {
	argv := u.dom.ServeCommand
	if len(argv) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate own executable: %w", err)
		}
		argv = []string{exe, "start", "--daemonize"}
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- TLS ---

// TLSConnector dials a remote mux over mutually authenticated TLS,
// bootstrapping credentials over ssh when none are stored.
type TLSConnector struct {
	dom   *config.TLSClient
	store *pki.Store
	log   *slog.Logger
}

func NewTLSConnector(dom *config.TLSClient, log *slog.Logger) (*TLSConnector, error) {
	t := &TLSConnector{dom: dom, log: log}
	if dom.PEMCert == "" {
		store, err := pki.ForDomain(dom.Name())
		if err != nil {
			return nil, err
		}
		t.store = store
	}
	return t, nil
}

func (t *TLSConnector) Label() string { return t.dom.Label() }

// ShouldReconnect is true for TLS: stored credentials redial without
// any interaction, so a flaky network should not lose the session.
func (t *TLSConnector) ShouldReconnect() bool { return true }

func (t *TLSConnector) Connect(ctx context.Context, initial bool) (transport.Stream, error) {
	if t.needsBootstrap() {
		if t.dom.BootstrapViaSSH == "" {
			return nil, fmt.Errorf("no TLS credentials for %s and no bootstrap_via_ssh configured", t.dom.Name())
		}
		t.log.Info("no stored TLS credentials, bootstrapping", "via", t.dom.BootstrapViaSSH)
		if err := t.bootstrap(ctx); err != nil {
			return nil, fmt.Errorf("fetch TLS credentials: %w", err)
		}
	}

	conf, err := t.tlsConfig()
	if err != nil {
		return nil, err
	}

	conn, err := transport.DialTLS(ctx, t.dom.RemoteAddress, conf)
	if err != nil {
		// A refused port on first connect usually means the server is
		// not running; starting it over ssh also refreshes creds.
		if initial && t.dom.BootstrapViaSSH != "" && errors.Is(err, syscall.ECONNREFUSED) {
			t.log.Info("TLS port refused, bootstrapping via ssh", "via", t.dom.BootstrapViaSSH)
			if berr := t.bootstrap(ctx); berr != nil {
				return nil, fmt.Errorf("%v; ssh bootstrap also failed: %w", err, berr)
			}
			if conf, err = t.tlsConfig(); err != nil {
				return nil, err
			}
			conn, err = transport.DialTLS(ctx, t.dom.RemoteAddress, conf)
		}
		if err != nil {
			return nil, err
		}
	}
	return transport.WithWriteTimeout(conn, t.dom.WriteTimeoutOrDefault()), nil
}

func (t *TLSConnector) needsBootstrap() bool {
	if t.dom.PEMCert != "" {
		return false
	}
	return !t.store.Exists()
}

func (t *TLSConnector) tlsConfig() (*tls.Config, error) {
	conf, err := buildClientTLS(t.dom.PEMCert, t.dom.PEMPrivateKey, t.dom.PEMCA, t.dom.PEMRootCerts, t.store, t.dom.AcceptInvalidHostnames)
	if err == nil && t.dom.ExpectedCN != "" {
		conf.ServerName = t.dom.ExpectedCN
	}
	return conf, err
}

func (t *TLSConnector) bootstrap(ctx context.Context) error {
	return bootstrapTLSCreds(ctx, t.dom.BootstrapViaSSH, t.dom.RemoteProxyPath, t.store)
}

// --- ssh ---

// SSHConnector runs the mux server's proxy mode over an ssh session.
type SSHConnector struct {
	dom *config.SSHDomain
}

func NewSSHConnector(dom *config.SSHDomain) *SSHConnector {
	return &SSHConnector{dom: dom}
}

func (s *SSHConnector) Label() string { return s.dom.Label() }

// ShouldReconnect is false for ssh: redialing may prompt for
// authentication, and a prompt nobody is watching for looks like a
// hang.
func (s *SSHConnector) ShouldReconnect() bool { return false }

func (s *SSHConnector) Connect(ctx context.Context, initial bool) (transport.Stream, error) {
	dest, err := transport.ParseDestination(s.dom.RemoteAddress)
	if err != nil {
		return nil, err
	}
	if s.dom.Username != "" {
		dest.User = s.dom.Username
	}

	command := s.dom.OverrideProxyCommand
	if len(command) == 0 {
		proxy := s.dom.RemoteProxyPath
		if proxy == "" {
			proxy = "remux"
		}
		command = []string{proxy, "cli", "proxy"}
	}
	if !initial {
		// Never silently boot a brand new (empty) server during what
		// the user believes is a resume.
		command = append(command[:len(command):len(command)], "--no-auto-start")
	}
	return transport.SpawnSSHProxy(ctx, dest, command)
}

// --- QUIC ---

// QUICConnector dials a remote mux over QUIC with the same
// credential model as TLS.
type QUICConnector struct {
	dom   *config.QUICClient
	store *pki.Store
}

func NewQUICConnector(dom *config.QUICClient) (*QUICConnector, error) {
	q := &QUICConnector{dom: dom}
	if dom.PEMCert == "" {
		store, err := pki.ForDomain(dom.Name())
		if err != nil {
			return nil, err
		}
		q.store = store
	}
	return q, nil
}

func (q *QUICConnector) Label() string { return q.dom.Label() }

// ShouldReconnect is true for QUIC, same reasoning as TLS.
func (q *QUICConnector) ShouldReconnect() bool { return true }

func (q *QUICConnector) Connect(ctx context.Context, initial bool) (transport.Stream, error) {
	if q.dom.PEMCert == "" && !q.store.Exists() {
		return nil, fmt.Errorf("no TLS credentials for %s; configure pem_cert or attach once via a tls domain that bootstraps them", q.dom.Name())
	}
	conf, err := buildClientTLS(q.dom.PEMCert, q.dom.PEMPrivateKey, q.dom.PEMCA, q.dom.PEMRootCerts, q.store, q.dom.AcceptInvalidHostnames)
	if err != nil {
		return nil, err
	}
	if q.dom.ExpectedCN != "" {
		conf.ServerName = q.dom.ExpectedCN
	}
	conn, err := transport.DialQUIC(ctx, q.dom.RemoteAddress, conf)
	if err != nil {
		return nil, err
	}
	return transport.WithWriteTimeout(conn, q.dom.WriteTimeoutOrDefault()), nil
}

// buildClientTLS resolves the credential sources: explicit PEM paths
// from the config win; otherwise the pki store for the domain.
func buildClientTLS(pemCert, pemKey, pemCA string, pemRoots []string, store *pki.Store, acceptInvalidHostnames bool) (*tls.Config, error) {
	certPath, keyPath := pemCert, pemKey
	var caPaths []string
	if pemCA != "" {
		caPaths = append(caPaths, pemCA)
	}
	caPaths = append(caPaths, pemRoots...)

	if certPath == "" {
		certPath = store.CertPath()
		keyPath = ""
		if len(caPaths) == 0 {
			caPaths = []string{store.CAPath()}
		}
	}
	return transport.ClientTLSConfig(certPath, keyPath, caPaths, acceptInvalidHostnames)
}
