package worker

import "sync"

const (
	captureLimit  = 5000
	captureHead   = 2500
	captureTail   = 2500
	elisionMarker = "\n...\n"
)

// CaptureBuffer retains a worker's diagnostic stream under a fixed bound.
// Once more than captureLimit bytes have been written it keeps the first
// captureHead bytes and the most recent captureTail bytes, so memory stays
// bounded no matter how long the worker runs.
type CaptureBuffer struct {
	mu        sync.Mutex
	head      []byte
	tail      []byte
	truncated bool
}

func (b *CaptureBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.truncated {
		b.head = append(b.head, p...)
		if len(b.head) > captureLimit {
			b.tail = append([]byte(nil), b.head[len(b.head)-captureTail:]...)
			b.head = b.head[:captureHead:captureHead]
			b.truncated = true
		}
		return len(p), nil
	}

	b.tail = append(b.tail, p...)
	if len(b.tail) > captureTail {
		b.tail = append([]byte(nil), b.tail[len(b.tail)-captureTail:]...)
	}
	return len(p), nil
}

// String returns the captured output, with an elision marker standing in for
// whatever the bound discarded.
func (b *CaptureBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.truncated {
		return string(b.head)
	}
	return string(b.head) + elisionMarker + string(b.tail)
}
