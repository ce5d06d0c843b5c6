package capture

import (
	"context"
	"sync"

	"gocv.io/x/gocv"
)

// Latest holds the most recent frame as JPEG so that viewers can share
// the pipeline's camera without reading from it themselves.
type Latest struct {
	mu      sync.Mutex
	jpeg    []byte
	seq     uint64
	changed chan struct{}
}

// NewLatest creates an empty Latest.
func NewLatest() *Latest {
	return &Latest{changed: make(chan struct{})}
}

// Store encodes frame and publishes it to waiting viewers.
func (l *Latest) Store(frame *gocv.Mat) error {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return err
	}
	defer buf.Close()
	l.StoreJPEG(append([]byte(nil), buf.GetBytes()...))
	return nil
}

// StoreJPEG publishes already encoded data. data must not be modified
// afterwards.
func (l *Latest) StoreJPEG(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jpeg = data
	l.seq++
	close(l.changed)
	l.changed = make(chan struct{})
}

// Next blocks until a frame newer than after is stored, then returns it
// with its sequence number. Pass 0 to get the current frame if any.
func (l *Latest) Next(ctx context.Context, after uint64) ([]byte, uint64, error) {
	for {
		l.mu.Lock()
		if l.seq > after && l.jpeg != nil {
			data, seq := l.jpeg, l.seq
			l.mu.Unlock()
			return data, seq, nil
		}
		changed := l.changed
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, after, ctx.Err()
		case <-changed:
		}
	}
}
