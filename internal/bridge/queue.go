package bridge

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sipsorcery/sipspeech/internal/metrics"
)

const (
	// DefaultQueueCapacity bounds the recognition sample queue.
	DefaultQueueCapacity = 100

	// readAttemptTimeout is how long one dequeue attempt may wait for audio.
	readAttemptTimeout = 100 * time.Millisecond
	// maxReadAttempts bounds the total wait before a read is satisfied with
	// silence instead.
	maxReadAttempts = 10
)

// SampleQueue decouples the packet-arrival cadence from the recognition
// engine's read cadence. Writes come from the packet-receive path and never
// block: at capacity the oldest entry is evicted. Reads come from the
// engine's own thread through the io.Reader pull-stream contract and block
// at most maxReadAttempts * readAttemptTimeout.
type SampleQueue struct {
	logger *slog.Logger
	m      *metrics.Metrics

	items     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// NewSampleQueue creates a queue holding at most capacity entries.
func NewSampleQueue(capacity int, logger *slog.Logger, m *metrics.Metrics) *SampleQueue {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SampleQueue{
		logger: logger,
		m:      m,
		items:  make(chan []byte, capacity),
		closed: make(chan struct{}),
	}
}

// Write appends a PCM buffer. It never blocks and never fails; when the
// queue is full the oldest entry is dropped to admit the newest.
func (q *SampleQueue) Write(sample []byte) {
	select {
	case <-q.closed:
		return
	default:
	}
	buf := make([]byte, len(sample))
	copy(buf, sample)
	for {
		select {
		case q.items <- buf:
			if q.m != nil {
				q.m.QueueDepth.Set(float64(len(q.items)))
			}
			return
		default:
		}
		// full: evict the oldest entry and retry
		select {
		case <-q.items:
			q.logger.Warn("recognition queue full, dropping oldest sample")
			if q.m != nil {
				q.m.QueueDrops.Inc()
			}
		default:
		}
	}
}

// Read implements the engine's pull-stream contract. It returns as many
// bytes as one queued entry provides, up to len(p) (short reads are normal
// and the engine must tolerate them). If no entry arrives within the attempt
// budget it fills p entirely with silence: a zero read would be interpreted
// as end-of-stream and terminate recognition, whereas full-size silence just
// signals a pause. After Close it returns 0, io.EOF immediately.
func (q *SampleQueue) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		select {
		case <-q.closed:
			return 0, io.EOF
		case sample := <-q.items:
			if q.m != nil {
				q.m.QueueDepth.Set(float64(len(q.items)))
			}
			n := len(sample)
			if n > len(p) {
				n = len(p)
			}
			copy(p, sample[:n])
			return n, nil
		case <-time.After(readAttemptTimeout):
		}
	}
	if q.m != nil {
		q.m.ReadStarvation.Inc()
	}
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// Len reports the number of buffered entries.
func (q *SampleQueue) Len() int { return len(q.items) }

// Close marks the queue closed, clears its contents and wakes any blocked
// reader so it can observe io.EOF without sitting out the full timeout.
func (q *SampleQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
		for {
			select {
			case <-q.items:
			default:
				if q.m != nil {
					q.m.QueueDepth.Set(0)
				}
				return
			}
		}
	})
}
