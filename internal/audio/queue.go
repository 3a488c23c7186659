// Package audio provides the bounded frame queue that decouples
// participant track readers from the recognizer feed loop.
package audio

import (
	"context"
	"sync"

	"dialogue-transcription-service/internal/models"
)

// FrameQueue is a bounded FIFO of audio frames with multiple producers
// and a single consumer.
//
// Full-queue policy: the OLDEST buffered frame is dropped to make room
// for the new one.
//
// Enqueue never blocks. Dequeue blocks until a frame is available or
// the queue is closed; after Close, pending frames drain in order
// before the closed signal is observed. Enqueue after Close is a
// silent no-op.
type FrameQueue struct {
	mu      sync.Mutex
	frames  chan *models.AudioFrame
	closed  bool
	dropped uint64
}

// NewFrameQueue creates a queue holding at most capacity frames.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &FrameQueue{
		frames: make(chan *models.AudioFrame, capacity),
	}
}

// Enqueue adds a frame to the queue. When the queue is full the oldest
// buffered frame is dropped. Returns false only when the queue is
// closed.
func (q *FrameQueue) Enqueue(frame *models.AudioFrame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	for {
		select {
		case q.frames <- frame:
			return true
		default:
		}
		// Full: evict the oldest frame, then retry. The consumer may
		// have raced us to it, so loop rather than assume one eviction
		// frees a slot.
		select {
		case <-q.frames:
			q.dropped++
		default:
		}
	}
}

// Dequeue removes the oldest frame. It blocks until a frame arrives,
// the queue is closed and drained (returns nil, false), or ctx is
// cancelled (returns nil, false).
func (q *FrameQueue) Dequeue(ctx context.Context) (*models.AudioFrame, bool) {
	select {
	case frame, ok := <-q.frames:
		return frame, ok
	case <-ctx.Done():
		return nil, false
	}
}

// Close marks the queue closed. Idempotent. Buffered frames remain
// dequeueable; once drained, Dequeue observes the closed signal.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.frames)
}

// Depth returns the number of buffered frames.
func (q *FrameQueue) Depth() int {
	return len(q.frames)
}

// Dropped returns the number of frames evicted by the full-queue
// policy.
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
