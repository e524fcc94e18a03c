package wire

import "io"

// countingWriter implements io.Writer by discarding bytes and only
// tallying how many would have been written. It backs the byte-count
// serializer flavor, used to pre-compute frame sizes before allocating
// a real buffer.
type countingWriter struct {
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += len(p)
	return len(p), nil
}

var _ io.Writer = (*countingWriter)(nil)
