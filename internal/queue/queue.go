// Package queue carries import job ids to workers and pause/cancel requests
// to running jobs. Redis backs both when several processes share the work;
// Memory serves a single process and tests.
package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/JonMunkholm/productimport/internal/core"
)

// DefaultBuffer is the in-memory queue capacity.
const DefaultBuffer = 1024

// Memory is an in-process Dispatcher and Signaler.
type Memory struct {
	jobs chan uuid.UUID

	mu      sync.Mutex
	signals map[uuid.UUID]core.Signal
}

var (
	_ core.Dispatcher = (*Memory)(nil)
	_ core.Signaler   = (*Memory)(nil)
)

// NewMemory creates a queue holding up to buffer pending job ids.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Memory{
		jobs:    make(chan uuid.UUID, buffer),
		signals: make(map[uuid.UUID]core.Signal),
	}
}

// Enqueue adds a job id, blocking while the buffer is full.
func (m *Memory) Enqueue(ctx context.Context, id uuid.UUID) error {
	select {
	case m.jobs <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a job id is available or ctx is done.
func (m *Memory) Dequeue(ctx context.Context) (uuid.UUID, error) {
	select {
	case id := <-m.jobs:
		return id, nil
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	}
}

// Len returns the number of queued job ids.
func (m *Memory) Len() int {
	return len(m.jobs)
}

// Raise records sig for the job. A pending cancel is never replaced by pause.
func (m *Memory) Raise(ctx context.Context, id uuid.UUID, sig core.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sig == core.SignalPause && m.signals[id] == core.SignalCancel {
		return nil
	}
	m.signals[id] = sig
	return nil
}

// Take returns and clears the pending signal.
func (m *Memory) Take(ctx context.Context, id uuid.UUID) (core.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sig := m.signals[id]
	delete(m.signals, id)
	return sig, nil
}
