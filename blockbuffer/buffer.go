// Package blockbuffer implements the fixed-capacity circular queue of
// planned motion blocks described in spec.md §3/§4.1: single producer (the
// planner, foreground), single consumer (the stepper executor, simulated
// interrupt context).
package blockbuffer

import (
	"errors"

	"github.com/Smitter/GRBL-LM4F120H5QR/machine"
)

// ErrFull is returned by GetWriteSlot when the caller declines to wait.
var ErrFull = errors.New("blockbuffer: full")

// Buffer is a ring of machine.Block slots. Empty iff head == tail; full iff
// next(head) == tail — one slot is always kept vacant so those two
// conditions stay distinguishable.
type Buffer struct {
	slots   []machine.Block
	head    int // next write index
	tail    int // next read index
	planned int // boundary between already-optimized and optimizable blocks
}

// New allocates a buffer with room for capacity-1 usable blocks (the
// classic one-slot-sacrificed ring discipline).
func New(capacity int) *Buffer {
	if capacity < 2 {
		capacity = 2
	}
	return &Buffer{slots: make([]machine.Block, capacity)}
}

func (b *Buffer) cap() int { return len(b.slots) }

func (b *Buffer) next(i int) int { return (i + 1) % b.cap() }
func (b *Buffer) prev(i int) int { return (i - 1 + b.cap()) % b.cap() }

// Empty reports whether the buffer holds no blocks.
func (b *Buffer) Empty() bool { return b.head == b.tail }

// Full reports whether the buffer has no room for another block.
func (b *Buffer) Full() bool { return b.next(b.head) == b.tail }

// Len returns the number of committed, undiscarded blocks.
func (b *Buffer) Len() int {
	if b.head >= b.tail {
		return b.head - b.tail
	}
	return b.cap() - b.tail + b.head
}

// Capacity returns the number of slots (including the one always left
// vacant).
func (b *Buffer) Capacity() int { return b.cap() }

// GetWriteSlot returns a pointer to the slot at head, cooperatively
// yielding (calling poll, which should service sys.pending and return
// false to give up) until a slot is free. The caller must fully
// initialize the returned block before calling CommitWrite — CommitWrite
// is the single publication point a concurrent PeekCurrent synchronizes
// against.
func (b *Buffer) GetWriteSlot(poll func() bool) (*machine.Block, error) {
	for b.Full() {
		if poll == nil || !poll() {
			return nil, ErrFull
		}
	}
	return &b.slots[b.head], nil
}

// CommitWrite advances head, publishing the block written into the slot
// GetWriteSlot returned. Every field of that block must already be set:
// this is the ordering point after which the consumer may observe it.
func (b *Buffer) CommitWrite() {
	b.head = b.next(b.head)
}

// PeekCurrent returns the slot at tail, or nil if the buffer is empty.
// Called only from the stepper executor.
func (b *Buffer) PeekCurrent() *machine.Block {
	if b.Empty() {
		return nil
	}
	return &b.slots[b.tail]
}

// DiscardCurrent advances tail past the block the stepper just finished
// executing. If tail crosses planned, planned moves with it so the
// planner never tries to recompute a block that no longer exists.
func (b *Buffer) DiscardCurrent() {
	if b.Empty() {
		return
	}
	discarded := b.tail
	b.tail = b.next(b.tail)
	if b.planned == discarded {
		b.planned = b.tail
	}
}

// Reset empties the buffer and resets the planned boundary. Used on
// init/abort.
func (b *Buffer) Reset() {
	b.head, b.tail, b.planned = 0, 0, 0
}

// HeadIndex, TailIndex, and PlannedIndex expose the raw ring positions so
// the planner's reverse/forward recalculation passes can walk the
// not-yet-executing range [planned, head).
func (b *Buffer) HeadIndex() int    { return b.head }
func (b *Buffer) TailIndex() int    { return b.tail }
func (b *Buffer) PlannedIndex() int { return b.planned }

// SetPlannedIndex moves the planned boundary, used by the planner's
// nominal-length optimization barrier.
func (b *Buffer) SetPlannedIndex(idx int) { b.planned = idx }

// At returns a pointer to the slot at raw ring index idx.
func (b *Buffer) At(idx int) *machine.Block { return &b.slots[idx] }

// Next and Prev wrap a raw ring index by one slot.
func (b *Buffer) Next(idx int) int { return b.next(idx) }
func (b *Buffer) Prev(idx int) int { return b.prev(idx) }

// NewestIndex returns the ring index of the most recently committed
// block (the one just before head), or -1 if the buffer is empty.
func (b *Buffer) NewestIndex() int {
	if b.Empty() {
		return -1
	}
	return b.prev(b.head)
}
