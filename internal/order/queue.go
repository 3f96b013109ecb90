package order

import "context"

// Queue buffers intents before execution.
type Queue struct {
	ch chan Intent
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{ch: make(chan Intent, size)}
}

// Enqueue blocks until there is room or ctx is done.
func (q *Queue) Enqueue(ctx context.Context, in Intent) error {
	select {
	case q.ch <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue reports false when the queue is full.
func (q *Queue) TryEnqueue(in Intent) bool {
	select {
	case q.ch <- in:
		return true
	default:
		return false
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Close() {
	close(q.ch)
}

// Drain consumes intents with a handler until context is canceled or the queue is closed.
func (q *Queue) Drain(ctx context.Context, handler func(Intent)) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-q.ch:
			if !ok {
				return
			}
			handler(in)
		}
	}
}
