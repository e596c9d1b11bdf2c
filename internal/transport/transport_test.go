package transport

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestParseDestination(t *testing.T) {
	cases := []struct {
		in   string
		want Destination
	}{
		{"host", Destination{Host: "host"}},
		{"user@host", Destination{User: "user", Host: "host"}},
		{"host:2222", Destination{Host: "host", Port: 2222}},
		{"user@host:2222", Destination{User: "user", Host: "host", Port: 2222}},
		{"[::1]:22", Destination{Host: "::1", Port: 22}},
		{"user@[fe80::1]:2200", Destination{User: "user", Host: "fe80::1", Port: 2200}},
		{"::1", Destination{Host: "::1"}},
	}
	for _, c := range cases {
		got, err := ParseDestination(c.in)
		if err != nil {
			t.Fatalf("%q: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("%q: got %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestParseDestinationErrors(t *testing.T) {
	for _, in := range []string{"", "user@", "host:notaport", "host:0", "host:70000"} {
		if _, err := ParseDestination(in); err == nil {
			t.Fatalf("%q: expected error", in)
		}
	}
}

func TestDestinationString(t *testing.T) {
	cases := []struct {
		d    Destination
		want string
	}{
		{Destination{Host: "host"}, "host"},
		{Destination{User: "u", Host: "host", Port: 22}, "u@host:22"},
		{Destination{Host: "::1", Port: 2222}, "[::1]:2222"},
	}
	for _, c := range cases {
		if got := c.d.String(); got != c.want {
			t.Fatalf("got %q, want %q", got, c.want)
		}
	}
}

func TestDialUnixRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mux.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	if err := CheckSocketOwnership(path); err != nil {
		t.Fatalf("own socket failed ownership check: %v", err)
	}

	conn, err := DialUnix(path)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 4)
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "ping" {
		t.Fatalf("got %q, want %q", got, "ping")
	}
}

func TestCheckSocketOwnershipRejectsNonSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-socket")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := CheckSocketOwnership(path); err == nil {
		t.Fatal("plain file passed the socket check")
	}
	if err := CheckSocketOwnership(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("missing path passed the socket check")
	}
}

func TestDialUnixMissingSocket(t *testing.T) {
	if _, err := DialUnix(filepath.Join(t.TempDir(), "missing.sock")); err == nil {
		t.Fatal("expected error dialing a missing socket")
	}
}

func TestWithWriteTimeout(t *testing.T) {
	// net.Pipe writes block until the other side reads, so with no
	// reader the deadline has to fire.
	client, server := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := WithWriteTimeout(client, 50*time.Millisecond)
	if _, err := s.Write([]byte("stalled")); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestWithWriteTimeoutPassthrough(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	defer client.Close()

	if s := WithWriteTimeout(client, 0); s != Stream(client) {
		t.Fatal("zero timeout should not wrap")
	}

	plain := struct{ Stream }{client}
	if s := WithWriteTimeout(plain, time.Second); s != Stream(plain) {
		t.Fatal("stream without deadlines should not wrap")
	}
}

// certToPEM flattens a generated certificate into the two PEM blobs
// the credential store would hold: the cert alone (CA role here) and
// cert plus key concatenated (client credential file layout).
func certToPEM(t *testing.T, cert tls.Certificate) (certPEM, certAndKeyPEM []byte) {
	t.Helper()
	var buf bytes.Buffer
	if err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]}); err != nil {
		t.Fatal(err)
	}
	certPEM = append([]byte(nil), buf.Bytes()...)

	keyDER, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey.(*ecdsa.PrivateKey))
	if err != nil {
		t.Fatal(err)
	}
	if err := pem.Encode(&buf, &pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}); err != nil {
		t.Fatal(err)
	}
	return certPEM, buf.Bytes()
}

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatal(err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	if time.Now().After(leaf.NotAfter) {
		t.Fatal("certificate already expired")
	}
	found := false
	for _, name := range leaf.DNSNames {
		if name == "localhost" {
			found = true
		}
	}
	if !found {
		t.Fatalf("certificate lacks localhost SAN: %v", leaf.DNSNames)
	}
}

func TestClientTLSConfigMissingFiles(t *testing.T) {
	dir := t.TempDir()
	if _, err := ClientTLSConfig(filepath.Join(dir, "missing.pem"), "", nil, false); err == nil {
		t.Fatal("expected error for missing client certificate")
	}
}

func TestClientTLSConfigBadCA(t *testing.T) {
	dir := t.TempDir()
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatal(err)
	}
	_, certAndKey := certToPEM(t, cert)
	certPath := filepath.Join(dir, "cert.pem")
	if err := os.WriteFile(certPath, certAndKey, 0o600); err != nil {
		t.Fatal(err)
	}
	caPath := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(caPath, []byte("not a pem"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ClientTLSConfig(certPath, "", []string{caPath}, false); err == nil {
		t.Fatal("expected error for junk CA bundle")
	}
}

func startTLSEchoServer(t *testing.T, cert tls.Certificate, wantClientCert bool) net.Listener {
	t.Helper()
	conf := ServerTLSConfig(cert)
	if wantClientCert {
		pool := x509.NewCertPool()
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			t.Fatal(err)
		}
		pool.AddCert(leaf)
		conf.ClientAuth = tls.RequireAndVerifyClientCert
		conf.ClientCAs = pool
	}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", conf)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()
	return ln
}

func TestDialTLSMutualAuth(t *testing.T) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatal(err)
	}
	ln := startTLSEchoServer(t, cert, true)
	defer ln.Close()

	dir := t.TempDir()
	caPEM, certAndKey := certToPEM(t, cert)
	certPath := filepath.Join(dir, "cert.pem")
	caPath := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(certPath, certAndKey, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(caPath, caPEM, 0o600); err != nil {
		t.Fatal(err)
	}

	conf, err := ClientTLSConfig(certPath, "", []string{caPath}, false)
	if err != nil {
		t.Fatal(err)
	}
	// The cert's SAN says localhost; the listener is on 127.0.0.1.
	conf.ServerName = "localhost"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := DialTLS(ctx, ln.Addr().String(), conf)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 5)
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestDialTLSAcceptInvalidHostnames(t *testing.T) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatal(err)
	}
	ln := startTLSEchoServer(t, cert, false)
	defer ln.Close()

	dir := t.TempDir()
	caPEM, certAndKey := certToPEM(t, cert)
	certPath := filepath.Join(dir, "cert.pem")
	caPath := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(certPath, certAndKey, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(caPath, caPEM, 0o600); err != nil {
		t.Fatal(err)
	}

	conf, err := ClientTLSConfig(certPath, "", []string{caPath}, true)
	if err != nil {
		t.Fatal(err)
	}
	// Deliberately wrong name: chain verification must still pass,
	// hostname verification must be skipped.
	conf.ServerName = "definitely-not-in-the-cert"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := DialTLS(ctx, ln.Addr().String(), conf)
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()
}

func TestDialTLSRejectsUntrustedServer(t *testing.T) {
	serverCert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatal(err)
	}
	ln := startTLSEchoServer(t, serverCert, false)
	defer ln.Close()

	// Client trusts a different CA entirely.
	otherCert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	caPEM, certAndKey := certToPEM(t, otherCert)
	certPath := filepath.Join(dir, "cert.pem")
	caPath := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(certPath, certAndKey, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(caPath, caPEM, 0o600); err != nil {
		t.Fatal(err)
	}

	for _, acceptInvalid := range []bool{false, true} {
		conf, err := ClientTLSConfig(certPath, "", []string{caPath}, acceptInvalid)
		if err != nil {
			t.Fatal(err)
		}
		conf.ServerName = "localhost"
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err = DialTLS(ctx, ln.Addr().String(), conf)
		cancel()
		if err == nil {
			t.Fatalf("acceptInvalid=%v: dial to untrusted server succeeded", acceptInvalid)
		}
	}
}

func TestQUICRoundTrip(t *testing.T) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatal(err)
	}
	ln, err := ListenQUIC(0, cert)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	echoErr := make(chan error, 1)
	go func() {
		stream, err := ln.Accept(ctx)
		if err != nil {
			echoErr <- err
			return
		}
		defer stream.Close()
		buf := make([]byte, 5)
		if _, err := io.ReadFull(stream, buf); err != nil {
			echoErr <- err
			return
		}
		_, err = stream.Write(buf)
		echoErr <- err
	}()

	conf := &tls.Config{InsecureSkipVerify: true}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(ln.Port()))
	stream, err := DialQUIC(ctx, addr, conf)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	if _, err := stream.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 5)
	if _, err := io.ReadFull(stream, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
	if err := <-echoErr; err != nil {
		t.Fatal(err)
	}
}
