package vislam

import "sync"

// DefaultQueueDepth bounds the frame queue when no depth is configured.
// Sixteen frames is ~0.5s of backlog at 30fps; beyond that the engine has
// fallen behind and fresher frames are worth more than stale ones.
const DefaultQueueDepth = 16

// FrameQueue is a bounded, thread-safe FIFO of camera frames awaiting
// processing. Frames are dequeued in exactly the order they were enqueued.
// When the queue is full the oldest unprocessed frame is evicted and released
// (drop-oldest policy), so a sustained camera/engine speed mismatch degrades
// to frame drops rather than unbounded growth.
//
// The queue's lock guards only push/pop and is never held while calling into
// the estimation engine.
type FrameQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames []*CameraFrame
	depth  int
	closed bool
}

// NewFrameQueue creates a queue bounded at depth frames. A depth <= 0 uses
// DefaultQueueDepth.
func NewFrameQueue(depth int) *FrameQueue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	q := &FrameQueue{
		frames: make([]*CameraFrame, 0, depth),
		depth:  depth,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a frame, evicting and releasing the oldest queued frame if
// the queue is full. Returns true when an eviction occurred. Push on a closed
// queue releases the frame immediately and reports it dropped.
func (q *FrameQueue) Push(frame *CameraFrame) (dropped bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		frame.Release()
		return true
	}
	if len(q.frames) >= q.depth {
		oldest := q.frames[0]
		q.frames = q.frames[1:]
		oldest.Release()
		dropped = true
	}
	q.frames = append(q.frames, frame)
	q.cond.Signal()
	q.mu.Unlock()
	return dropped
}

// Pop blocks until a frame is available or the queue is closed. The second
// return is false once the queue has been closed; remaining frames are not
// delivered (Drain reclaims them), so a stop signal unblocks the worker
// promptly.
func (q *FrameQueue) Pop() (*CameraFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	frame := q.frames[0]
	q.frames = q.frames[1:]
	return frame, true
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Close marks the queue closed and wakes any blocked Pop. Subsequent pushes
// are dropped.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Drain releases every queued frame and returns how many were reclaimed.
// Called after Close during shutdown so no buffer outlives the pipeline.
func (q *FrameQueue) Drain() int {
	q.mu.Lock()
	frames := q.frames
	q.frames = nil
	q.mu.Unlock()
	for _, f := range frames {
		f.Release()
	}
	return len(frames)
}
