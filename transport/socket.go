package transport

import (
	"net"
	"syscall"
	"time"

	"github.com/cumulusmesh/fabric/channel"
	"github.com/cumulusmesh/fabric/fabriclog"
)

// maxChunk bounds a single read of a frame's payload so that a frame
// larger than 1 MiB is pulled off the wire in pieces instead of in one
// large allocation.
const maxChunk = 1 << 20

// backoffCap and backoffBudget bound the writer goroutine's retry of a
// transient send failure (EAGAIN/EINTR/EWOULDBLOCK): capped exponential
// backoff, ten seconds of cumulative wait before giving up and
// disconnecting.
const (
	backoffCap    = time.Second
	backoffBudget = 10 * time.Second
)

var log = fabriclog.GetLogger("fabric/transport")

// SocketTransport is the framed, length-prefixed byte transport built on
// a net.Conn. It registers the connection's raw descriptor with the
// package's descriptorRegistry so a concurrently-tearing-down prior
// transport on the same fd integer cannot race its setup.
type SocketTransport struct {
	*framed
	conn  net.Conn
	guard *descriptorGuard
}

// NewSocketTransport wraps conn (already dialed or accepted) as a framed
// byte channel. The reader and writer goroutines start immediately;
// inbound frames are buffered until SetHandlers is called, matching
// every other channel implementation in this package.
func NewSocketTransport(conn net.Conn) (*SocketTransport, error) {
	guard, err := acquireDescriptorFor(conn)
	if err != nil {
		return nil, err
	}

	st := &SocketTransport{conn: conn, guard: guard}
	st.framed = newFramed(conn, st.teardown)
	return st, nil
}

func (st *SocketTransport) ChannelType() string { return "SocketTransport" }

// teardown shuts both directions of the socket down, closes it, and
// releases its descriptor back to the registry. It is called exactly
// once, from framed.shutdown's sync.Once (reached via Disconnect or an
// I/O error in either loop).
func (st *SocketTransport) teardown() {
	if tc, ok := st.conn.(interface {
		CloseRead() error
		CloseWrite() error
	}); ok {
		_ = tc.CloseRead()
		_ = tc.CloseWrite()
	}
	_ = st.conn.Close()
	if st.guard != nil {
		st.guard.release()
	}
}

var _ channel.Channel[[]byte, []byte] = (*SocketTransport)(nil)

// acquireDescriptorFor reserves conn's raw OS descriptor in the
// process-wide registry so that a concurrently-closing prior transport on
// the same integer fd cannot race this one's setup. Connections that
// don't expose a raw descriptor (e.g. an in-process net.Pipe) skip the
// registry entirely — there is no OS-level reuse to guard against.
func acquireDescriptorFor(conn net.Conn) (*descriptorGuard, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil, nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, nil
	}
	var fd int
	if err := raw.Control(func(fdv uintptr) { fd = int(fdv) }); err != nil {
		return nil, nil
	}
	return acquireDescriptor(fd)
}
