// Package index is the recyclable index-access layer. It serializes writers
// through a WriterSlot, commits with bounded retries, replaces the writer
// after a configurable number of entries and serves queries from reader
// snapshots that never touch the slot.
package index

import (
	"context"
	"errors"
	"sync"

	"github.com/Aman-CERP/recyclix/internal/engine"
)

// Slot errors.
var (
	// ErrSlotClosed is returned by Acquire once the slot is closed.
	ErrSlotClosed = errors.New("writer slot is closed")

	// ErrSlotOccupied is returned by Install when a writer is present.
	ErrSlotOccupied = errors.New("writer slot is occupied")
)

// SlotState describes the slot for stats output.
type SlotState string

const (
	SlotIdle   SlotState = "idle"
	SlotBusy   SlotState = "busy"
	SlotEmpty  SlotState = "empty"
	SlotClosed SlotState = "closed"
)

// WriterSlot holds the single writer of an index. The writer moves through a
// one-element channel: Acquire receives it, WriterGuard.Release sends it
// back. present tracks whether a writer exists at all, lent out or not; it
// is false between Take and Install.
type WriterSlot struct {
	mu      sync.Mutex
	present bool
	ch      chan engine.Writer

	closed    chan struct{}
	closeOnce sync.Once
}

// NewWriterSlot returns a slot holding w. A nil w leaves the slot empty.
func NewWriterSlot(w engine.Writer) *WriterSlot {
	s := &WriterSlot{
		ch:     make(chan engine.Writer, 1),
		closed: make(chan struct{}),
	}
	if w != nil {
		s.present = true
		s.ch <- w
	}
	return s
}

// Acquire waits until the writer is idle and returns a guard for it. While
// the slot is empty callers keep waiting; only ctx or Close end the wait.
func (s *WriterSlot) Acquire(ctx context.Context) (*WriterGuard, error) {
	select {
	case <-s.closed:
		return nil, ErrSlotClosed
	default:
	}

	// An idle writer is handed out even when ctx is already done.
	select {
	case w := <-s.ch:
		return s.guard(w)
	default:
	}

	select {
	case w := <-s.ch:
		return s.guard(w)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, ErrSlotClosed
	}
}

func (s *WriterSlot) guard(w engine.Writer) (*WriterGuard, error) {
	select {
	case <-s.closed:
		s.ch <- w
		return nil, ErrSlotClosed
	default:
	}
	return &WriterGuard{slot: s, writer: w}, nil
}

// Take removes the writer, waiting for the current holder to release it,
// and leaves the slot empty. It returns nil, nil when the slot is already
// empty. Only the recycler and shutdown call Take.
func (s *WriterSlot) Take(ctx context.Context) (engine.Writer, error) {
	s.mu.Lock()
	if !s.present {
		s.mu.Unlock()
		return nil, nil
	}
	s.present = false
	s.mu.Unlock()

	select {
	case w := <-s.ch:
		return w, nil
	default:
	}

	select {
	case w := <-s.ch:
		return w, nil
	case <-ctx.Done():
		s.mu.Lock()
		s.present = true
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Install places w into the empty slot and wakes one waiter.
func (s *WriterSlot) Install(w engine.Writer) error {
	if w == nil {
		return errors.New("install: nil writer")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.present {
		return ErrSlotOccupied
	}
	s.present = true
	s.ch <- w
	return nil
}

// Close makes every pending and future Acquire fail with ErrSlotClosed.
// Take still works so the owner can retire the writer.
func (s *WriterSlot) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// State reports the slot state.
func (s *WriterSlot) State() SlotState {
	select {
	case <-s.closed:
		return SlotClosed
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !s.present:
		return SlotEmpty
	case len(s.ch) == 0:
		return SlotBusy
	default:
		return SlotIdle
	}
}

// WriterGuard grants exclusive use of the writer until Release.
type WriterGuard struct {
	slot   *WriterSlot
	writer engine.Writer
	once   sync.Once
}

// Writer returns the guarded writer. It is never nil.
func (g *WriterGuard) Writer() engine.Writer {
	return g.writer
}

// Release returns the writer to the slot. Calling it more than once is a
// no-op.
func (g *WriterGuard) Release() {
	g.once.Do(func() { g.slot.ch <- g.writer })
}
