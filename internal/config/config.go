// Package config loads the client configuration: the set of mux
// domains this machine can attach to.
//
// Configuration is a single YAML file found via:
//   - REMUX_CONFIG environment variable, or
//   - --config flag passed to the command, or
//   - ~/.config/remux/remux.yaml
//
// A missing default file is not an error; the built-in unix domain is
// always available so a fresh install can attach with zero config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind classifies the transport a domain connects over.
type Kind int

const (
	KindUnix Kind = iota
	KindTLS
	KindSSH
	KindQUIC
)

func (k Kind) String() string {
	switch k {
	case KindUnix:
		return "unix"
	case KindTLS:
		return "tls"
	case KindSSH:
		return "ssh"
	case KindQUIC:
		return "quic"
	default:
		return "unknown"
	}
}

// Domain is one configured mux endpoint. The concrete types carry the
// transport-specific fields; connection code type-switches on them.
type Domain interface {
	Kind() Kind
	// Name uniquely identifies the domain within the config.
	Name() string
	// Label is the human-readable form used in logs and errors.
	Label() string
	// EchoThreshold is the input round-trip latency above which the
	// client flags the connection as slow. Zero disables the check.
	EchoThreshold() time.Duration
}

// UnixDomain attaches to a mux server over a local unix socket.
type UnixDomain struct {
	// DomainName defaults to "unix".
	DomainName string `yaml:"name"`

	// SocketPath is the server socket. Default: <runtime dir>/mux.sock.
	SocketPath string `yaml:"socket_path"`

	// NoServeAutomatically stops the client from spawning a server
	// when the socket is not there.
	NoServeAutomatically bool `yaml:"no_serve_automatically"`

	// ServeCommand overrides the argv used to spawn the server.
	// Default: [<this executable>, "start", "--daemonize"].
	ServeCommand []string `yaml:"serve_command"`

	// SkipPermissionsCheck accepts a socket owned by another user.
	SkipPermissionsCheck bool `yaml:"skip_permissions_check"`

	// LocalEchoThresholdMS is the EchoThreshold in milliseconds.
	LocalEchoThresholdMS uint64 `yaml:"local_echo_threshold_ms"`
}

func (d *UnixDomain) Kind() Kind { return KindUnix }
func (d *UnixDomain) Name() string {
	if d.DomainName == "" {
		return "unix"
	}
	return d.DomainName
}
func (d *UnixDomain) Label() string {
	return fmt.Sprintf("unix mux %s", d.SocketPath)
}
func (d *UnixDomain) EchoThreshold() time.Duration {
	return time.Duration(d.LocalEchoThresholdMS) * time.Millisecond
}

// TLSClient attaches to a remote mux server over mutually
// authenticated TLS.
type TLSClient struct {
	// DomainName defaults to "tls:" plus the remote address.
	DomainName string `yaml:"name"`

	// RemoteAddress is the host:port of the server's TLS listener.
	RemoteAddress string `yaml:"remote_address"`

	// BootstrapViaSSH is an ssh destination ([user@]host[:port]) used
	// to fetch TLS credentials when none are stored yet, or when the
	// TLS port is not reachable.
	BootstrapViaSSH string `yaml:"bootstrap_via_ssh"`

	// RemoteProxyPath is the server binary's path on the remote host,
	// used by the ssh bootstrap. Default: "remux".
	RemoteProxyPath string `yaml:"remote_proxy_path"`

	// PEMCert, PEMPrivateKey and PEMCA override the stored
	// credentials. PEMPrivateKey may be empty when the key lives in
	// the PEMCert file.
	PEMCert       string   `yaml:"pem_cert"`
	PEMPrivateKey string   `yaml:"pem_private_key"`
	PEMCA         string   `yaml:"pem_ca"`
	PEMRootCerts  []string `yaml:"pem_root_certs"`

	// AcceptInvalidHostnames keeps chain verification but skips
	// hostname matching, for servers reached via port forwards.
	AcceptInvalidHostnames bool `yaml:"accept_invalid_hostnames"`

	// ExpectedCN verifies the certificate against this name instead of
	// the dialed host, for servers reached via port forwards.
	ExpectedCN string `yaml:"expected_cn"`

	// WriteTimeout bounds each write on the connection, as a duration
	// string ("60s"). Default: 60s. Reads are never bounded.
	WriteTimeout string `yaml:"write_timeout"`

	LocalEchoThresholdMS uint64 `yaml:"local_echo_threshold_ms"`
}

func (d *TLSClient) Kind() Kind { return KindTLS }
func (d *TLSClient) Name() string {
	if d.DomainName == "" {
		return "tls:" + d.RemoteAddress
	}
	return d.DomainName
}
func (d *TLSClient) Label() string {
	return fmt.Sprintf("tls mux %s", d.RemoteAddress)
}
func (d *TLSClient) EchoThreshold() time.Duration {
	return time.Duration(d.LocalEchoThresholdMS) * time.Millisecond
}

// WriteTimeoutOrDefault parses WriteTimeout, defaulting to a minute.
// Validate has already rejected unparseable values.
func (d *TLSClient) WriteTimeoutOrDefault() time.Duration {
	return parseTimeout(d.WriteTimeout)
}

// SSHDomain attaches by running the mux server's proxy mode over an
// ssh session. Authentication is ssh's problem, which means prompts
// may appear; reconnects are therefore never automatic.
type SSHDomain struct {
	// DomainName defaults to "ssh:" plus the remote address.
	DomainName string `yaml:"name"`

	// RemoteAddress is an ssh destination, [user@]host[:port].
	RemoteAddress string `yaml:"remote_address"`

	// Username overrides the user part of RemoteAddress.
	Username string `yaml:"username"`

	// RemoteProxyPath is the server binary's path on the remote host.
	// Default: "remux".
	RemoteProxyPath string `yaml:"remote_proxy_path"`

	// OverrideProxyCommand replaces the whole remote command line,
	// for hosts where the proxy hides behind a wrapper script.
	OverrideProxyCommand []string `yaml:"override_proxy_command"`

	LocalEchoThresholdMS uint64 `yaml:"local_echo_threshold_ms"`
}

func (d *SSHDomain) Kind() Kind { return KindSSH }
func (d *SSHDomain) Name() string {
	if d.DomainName == "" {
		return "ssh:" + d.RemoteAddress
	}
	return d.DomainName
}
func (d *SSHDomain) Label() string {
	return fmt.Sprintf("ssh mux %s", d.RemoteAddress)
}
func (d *SSHDomain) EchoThreshold() time.Duration {
	return time.Duration(d.LocalEchoThresholdMS) * time.Millisecond
}

// QUICClient attaches over QUIC. Credentials work exactly as for
// TLSClient; the transport gains connection migration and loses head
// of line blocking.
type QUICClient struct {
	// DomainName defaults to "quic:" plus the remote address.
	DomainName string `yaml:"name"`

	// RemoteAddress is the host:port of the server's UDP listener.
	RemoteAddress string `yaml:"remote_address"`

	PEMCert       string   `yaml:"pem_cert"`
	PEMPrivateKey string   `yaml:"pem_private_key"`
	PEMCA         string   `yaml:"pem_ca"`
	PEMRootCerts  []string `yaml:"pem_root_certs"`

	AcceptInvalidHostnames bool `yaml:"accept_invalid_hostnames"`

	// ExpectedCN verifies the certificate against this name instead of
	// the dialed host.
	ExpectedCN string `yaml:"expected_cn"`

	// WriteTimeout bounds each write, as a duration string. Default:
	// 60s.
	WriteTimeout string `yaml:"write_timeout"`

	LocalEchoThresholdMS uint64 `yaml:"local_echo_threshold_ms"`
}

func (d *QUICClient) Kind() Kind { return KindQUIC }
func (d *QUICClient) Name() string {
	if d.DomainName == "" {
		return "quic:" + d.RemoteAddress
	}
	return d.DomainName
}
func (d *QUICClient) Label() string {
	return fmt.Sprintf("quic mux %s", d.RemoteAddress)
}
func (d *QUICClient) EchoThreshold() time.Duration {
	return time.Duration(d.LocalEchoThresholdMS) * time.Millisecond
}
func (d *QUICClient) WriteTimeoutOrDefault() time.Duration {
	return parseTimeout(d.WriteTimeout)
}

const defaultWriteTimeout = time.Minute

func parseTimeout(s string) time.Duration {
	if s == "" {
		return defaultWriteTimeout
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultWriteTimeout
	}
	return d
}

// Config is the whole client configuration.
type Config struct {
	UnixDomains []*UnixDomain `yaml:"unix_domains"`
	TLSClients  []*TLSClient  `yaml:"tls_clients"`
	SSHDomains  []*SSHDomain  `yaml:"ssh_domains"`
	QUICClients []*QUICClient `yaml:"quic_clients"`
}

// Default returns the zero-config configuration: just the local unix
// domain.
func Default() *Config {
	return &Config{
		UnixDomains: []*UnixDomain{{
			DomainName: "unix",
			SocketPath: DefaultSocketPath(),
		}},
	}
}

// RuntimeDir is where sockets live: $XDG_RUNTIME_DIR/remux, falling
// back to ~/.local/share/remux.
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "remux")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "remux")
	}
	return filepath.Join(home, ".local", "share", "remux")
}

// DefaultSocketPath is the unix domain's socket when none is
// configured.
func DefaultSocketPath() string {
	return filepath.Join(RuntimeDir(), "mux.sock")
}

func defaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}
	return filepath.Join(dir, "remux", "remux.yaml"), nil
}

// Load loads configuration from REMUX_CONFIG, falling back to the
// default path. Only an explicitly named file is required to exist.
func Load() (*Config, error) {
	if path := os.Getenv("REMUX_CONFIG"); path != "" {
		return LoadFile(path)
	}
	path, err := defaultConfigPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file. Fields absent
// from the file keep their defaults, and the built-in unix domain is
// added unless the file configures its own unix domains.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(cfg.UnixDomains) == 0 {
		cfg.UnixDomains = Default().UnixDomains
	}
	for _, d := range cfg.UnixDomains {
		if d.SocketPath == "" {
			d.SocketPath = DefaultSocketPath()
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks domain fields and name uniqueness.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, d := range c.Domains() {
		name := d.Name()
		if seen[name] {
			return fmt.Errorf("duplicate domain name %q", name)
		}
		seen[name] = true
	}
	for _, d := range c.TLSClients {
		if d.RemoteAddress == "" {
			return fmt.Errorf("tls domain %q has no remote_address", d.Name())
		}
		if err := checkTimeout(d.WriteTimeout); err != nil {
			return fmt.Errorf("tls domain %q: %w", d.Name(), err)
		}
	}
	for _, d := range c.QUICClients {
		if d.RemoteAddress == "" {
			return fmt.Errorf("quic domain %q has no remote_address", d.Name())
		}
		if err := checkTimeout(d.WriteTimeout); err != nil {
			return fmt.Errorf("quic domain %q: %w", d.Name(), err)
		}
	}
	for _, d := range c.SSHDomains {
		if d.RemoteAddress == "" {
			return fmt.Errorf("ssh domain %q has no remote_address", d.Name())
		}
	}
	return nil
}

func checkTimeout(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.ParseDuration(s); err != nil {
		return fmt.Errorf("invalid write_timeout %q: %w", s, err)
	}
	return nil
}

// Domains returns every configured domain, unix domains first. The
// first entry is the default attach target.
func (c *Config) Domains() []Domain {
	out := make([]Domain, 0, len(c.UnixDomains)+len(c.TLSClients)+len(c.SSHDomains)+len(c.QUICClients))
	for _, d := range c.UnixDomains {
		out = append(out, d)
	}
	for _, d := range c.TLSClients {
		out = append(out, d)
	}
	for _, d := range c.SSHDomains {
		out = append(out, d)
	}
	for _, d := range c.QUICClients {
		out = append(out, d)
	}
	return out
}

// Domain looks up a domain by name.
func (c *Config) Domain(name string) (Domain, bool) {
	for _, d := range c.Domains() {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}
