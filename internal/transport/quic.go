package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// alpnMux is the ALPN protocol name for mux-over-QUIC. Both ends must
// offer it or the handshake fails before any PDU moves.
const alpnMux = "remux-mux"

const (
	quicKeepAlive   = 15 * time.Second
	quicIdleTimeout = 60 * time.Second
)

func quicConfig() *quic.Config {
	// Keepalives hold NAT bindings open; the idle timeout still
	// reaps connections whose peer vanished without closing.
	return &quic.Config{
		KeepAlivePeriod: quicKeepAlive,
		MaxIdleTimeout:  quicIdleTimeout,
	}
}

// DialQUIC connects to addr over QUIC and opens the single
// bidirectional stream all PDUs travel on. The returned stream
// supports write deadlines.
func DialQUIC(ctx context.Context, addr string, tlsConf *tls.Config) (Stream, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	conf := tlsConf.Clone()
	conf.NextProtos = []string{alpnMux}
	if conf.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			conf.ServerName = host
		}
	}

	qconn, err := tr.Dial(ctx, udpAddr, conf, quicConfig())
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("QUIC dial %s: %w", addr, err)
	}

	// The stream is announced to the peer by its first Write; the
	// client always speaks first (version exchange), so nothing extra
	// is needed here.
	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		qconn.CloseWithError(1, "no stream")
		tr.Close()
		return nil, fmt.Errorf("open mux stream: %w", err)
	}

	return &quicStream{tr: tr, qconn: qconn, stream: stream}, nil
}

// quicStream binds a QUIC connection to its one mux stream so Close
// tears the whole thing down.
type quicStream struct {
	tr     *quic.Transport
	qconn  *quic.Conn
	stream *quic.Stream
}

func (q *quicStream) Read(b []byte) (int, error)  { return q.stream.Read(b) }
func (q *quicStream) Write(b []byte) (int, error) { return q.stream.Write(b) }

func (q *quicStream) SetWriteDeadline(t time.Time) error {
	return q.stream.SetWriteDeadline(t)
}

func (q *quicStream) Close() error {
	q.stream.CancelRead(0)
	q.stream.Close()
	q.qconn.CloseWithError(0, "closed")
	if q.tr != nil {
		return q.tr.Close()
	}
	return nil
}

// QUICListener accepts mux streams. The server side uses it, and so
// do tests standing in for one.
type QUICListener struct {
	tr   *quic.Transport
	ln   *quic.Listener
	port int
}

// ListenQUIC listens on the given UDP port (0 picks one) presenting
// cert.
func ListenQUIC(port int, cert tls.Certificate) (*QUICListener, error) {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	tlsConf := ServerTLSConfig(cert)
	tlsConf.NextProtos = []string{alpnMux}

	ln, err := tr.Listen(tlsConf, quicConfig())
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("QUIC listen: %w", err)
	}

	return &QUICListener{
		tr:   tr,
		ln:   ln,
		port: udpConn.LocalAddr().(*net.UDPAddr).Port,
	}, nil
}

// Port returns the UDP port the listener is bound to.
func (l *QUICListener) Port() int {
	return l.port
}

// Accept waits for a connection and its first bidirectional stream.
func (l *QUICListener) Accept(ctx context.Context) (Stream, error) {
	qconn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept QUIC connection: %w", err)
	}
	stream, err := qconn.AcceptStream(ctx)
	if err != nil {
		qconn.CloseWithError(1, "no stream")
		return nil, fmt.Errorf("accept mux stream: %w", err)
	}
	return &quicStream{qconn: qconn, stream: stream}, nil
}

// Close shuts down the listener and underlying transport.
func (l *QUICListener) Close() error {
	l.ln.Close()
	return l.tr.Close()
}
