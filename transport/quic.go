package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/big"
	"time"

	quic "github.com/quic-go/quic-go"

	"github.com/cumulusmesh/fabric/channel"
)

// QUICTransport is a second byte-transport implementation alongside the
// socket transport: one QUIC stream framed with the exact same
// uint32-length-prefix wire format, so channel.NewSerializedChannel is
// agnostic to which of the two it rides on. One logical channel maps to
// one stream rather than a full net.PacketConn shim.
type QUICTransport struct {
	*framed
	stream quic.Stream
}

// NewQUICTransport wraps an already-open QUIC stream (from
// DialQUIC or a ListenQUIC accept loop) as a framed byte channel.
func NewQUICTransport(stream quic.Stream) *QUICTransport {
	qt := &QUICTransport{stream: stream}
	qt.framed = newFramed(stream, qt.teardown)
	return qt
}

func (qt *QUICTransport) ChannelType() string { return "QUICTransport" }

func (qt *QUICTransport) teardown() {
	qt.stream.CancelRead(0)
	_ = qt.stream.Close()
}

var _ channel.Channel[[]byte, []byte] = (*QUICTransport)(nil)

// DialQUIC opens a QUIC connection to addr and returns one bidirectional
// stream wrapped as a QUICTransport. One fabric logical channel maps to
// one QUIC stream; multi-channel callers dial once per sub-channel so
// that head-of-line blocking on one priority class doesn't stall the
// QUIC connection's other streams either.
func DialQUIC(ctx context.Context, addr string) (*QUICTransport, error) {
	conn, err := quic.DialAddr(ctx, addr, insecureClientTLSConfig(), nil)
	if err != nil {
		return nil, fmt.Errorf("transport: quic dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: quic open stream: %w", err)
	}
	return NewQUICTransport(stream), nil
}

// ListenQUIC listens for incoming QUIC connections on addr, accepting one
// stream per connection and handing each to accept as a QUICTransport.
// It runs until ctx is cancelled.
func ListenQUIC(ctx context.Context, addr string, accept func(*QUICTransport)) error {
	tlsConf, err := selfSignedServerTLSConfig()
	if err != nil {
		return fmt.Errorf("transport: quic tls setup: %w", err)
	}
	listener, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		return fmt.Errorf("transport: quic listen %s: %w", addr, err)
	}
	defer listener.Close()

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warningf("transport: quic accept: %v", err)
			continue
		}
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			log.Warningf("transport: quic accept stream: %v", err)
			continue
		}
		accept(NewQUICTransport(stream))
	}
}

// selfSignedServerTLSConfig satisfies QUIC's mandatory TLS 1.3
// handshake with a freshly generated, unverified certificate. This
// fabric carries no encryption or authentication of its own; the
// certificate exists only because the QUIC protocol requires one, not to
// provide any security guarantee.
func selfSignedServerTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"fabric-quic"},
	}, nil
}

func insecureClientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{"fabric-quic"},
	}
}
