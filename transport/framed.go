package transport

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	channels "gopkg.in/eapache/channels.v1"

	"github.com/cumulusmesh/fabric/channel"
)

// rawStream is the minimal surface both the socket transport and the QUIC
// transport need: a blocking, ordered byte stream that a reader and a
// writer goroutine can each own half of. net.Conn and quic.Stream both
// satisfy it.
type rawStream interface {
	io.Reader
	io.Writer
}

// framed implements the length-prefixed framing and reader/writer
// goroutine split once, shared by SocketTransport and QUICTransport
// so the two differ only in how they obtain and tear down the underlying
// stream (OS descriptor registry vs QUIC stream cancellation).
type framed struct {
	stream rawStream
	once   sync.Once
	writeQ *channels.InfiniteChannel

	mu             sync.Mutex
	handlersSet    bool
	disconnected   bool
	onMessage      channel.OnMessage[[]byte]
	onDisconnected channel.OnDisconnected
	pending        [][]byte

	readWG   sync.WaitGroup
	teardown func()
}

func newFramed(stream rawStream, teardown func()) *framed {
	f := &framed{
		stream:   stream,
		writeQ:   channels.NewInfiniteChannel(),
		teardown: teardown,
	}
	f.readWG.Add(2)
	go f.readLoop()
	go f.writeLoop()
	return f
}

func (f *framed) Write(msg []byte) error {
	frame := make([]byte, 4+len(msg))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(msg)))
	copy(frame[4:], msg)

	// The disconnected check and the enqueue happen under one critical
	// section: shutdown flips the flag before closing the queue, so a
	// Write that passes the check can never race a send onto a closed
	// queue. InfiniteChannel's In() never blocks, so holding the mutex
	// across the send is safe.
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disconnected {
		return channel.ErrDisconnected
	}
	f.writeQ.In() <- frame
	return nil
}

func (f *framed) SetHandlers(onMessage channel.OnMessage[[]byte], onDisconnected channel.OnDisconnected) {
	f.mu.Lock()
	f.onMessage = onMessage
	f.onDisconnected = onDisconnected
	f.handlersSet = true

	buffered := f.pending
	f.pending = nil
	wasDisconnected := f.disconnected
	f.mu.Unlock()

	for _, v := range buffered {
		onMessage(v)
	}
	if wasDisconnected {
		onDisconnected()
	}
}

// Disconnect tears the transport down and joins both goroutines. It is
// idempotent; the disconnect handler fires exactly once, from whichever
// call — local Disconnect or an I/O error inside a loop goroutine —
// reaches the shutdown first.
func (f *framed) Disconnect() {
	f.shutdown()
	f.readWG.Wait()
}

// shutdown performs the once-only half of Disconnect. The read and write
// loops call it directly on an I/O error rather than Disconnect, since a
// loop goroutine joining itself would deadlock; teardown unblocks
// whichever loop is still parked in a kernel read or write, and each loop
// then exits on its own.
func (f *framed) shutdown() {
	f.once.Do(func() {
		f.mu.Lock()
		f.disconnected = true
		f.mu.Unlock()

		f.teardown()
		f.writeQ.Close()

		f.mu.Lock()
		handlersSet := f.handlersSet
		onDisconnected := f.onDisconnected
		f.mu.Unlock()

		if handlersSet && onDisconnected != nil {
			onDisconnected()
		}
	})
}

func (f *framed) readLoop() {
	defer f.readWG.Done()

	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(f.stream, lenBuf); err != nil {
			f.shutdown()
			return
		}
		n := binary.LittleEndian.Uint32(lenBuf)

		payload := make([]byte, n)
		if err := readChunked(f.stream, payload); err != nil {
			f.shutdown()
			return
		}

		f.deliver(payload)
	}
}

func (f *framed) deliver(payload []byte) {
	f.mu.Lock()
	if !f.handlersSet {
		f.pending = append(f.pending, payload)
		f.mu.Unlock()
		return
	}
	onMessage := f.onMessage
	f.mu.Unlock()
	onMessage(payload)
}

func (f *framed) writeLoop() {
	defer f.readWG.Done()

	for raw := range f.writeQ.Out() {
		frame, ok := raw.([]byte)
		if !ok {
			continue
		}
		if err := f.sendWithRetry(frame); err != nil {
			f.shutdown()
			return
		}
	}
}

func (f *framed) sendWithRetry(frame []byte) error {
	delay := 10 * time.Millisecond
	var waited time.Duration

	for off := 0; off < len(frame); {
		n, err := f.stream.Write(frame[off:])
		off += n
		if err == nil {
			continue
		}
		if !isTransient(err) {
			return err
		}
		if waited >= backoffBudget {
			log.Errorf("transport: write retry budget exhausted: %v", err)
			return err
		}
		log.Warningf("transport: transient write error, retrying: %v", err)
		time.Sleep(delay)
		waited += delay
		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}
	return nil
}

// readChunked fills buf in pieces of at most maxChunk bytes, so a frame
// far larger than 1 MiB doesn't force one giant contiguous read off the
// kernel at once.
func readChunked(r io.Reader, buf []byte) error {
	for off := 0; off < len(buf); {
		end := off + maxChunk
		if end > len(buf) {
			end = len(buf)
		}
		n, err := io.ReadFull(r, buf[off:end])
		off += n
		if err != nil {
			return err
		}
	}
	return nil
}

func isTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) || errors.Is(err, unix.EWOULDBLOCK)
}
