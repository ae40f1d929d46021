package blockdev

import (
	"fmt"
	"sync"
)

// Allocator is a simple free-list block allocator. It models the external
// alloc_blocks/free_layer_blocks/update_block_map collaborator named in the
// core spec: the registry and flush pipeline call it to reserve contiguous
// runs and to release a layer's blocks on removal, but own none of its
// internal bookkeeping.
type Allocator struct {
	mu       sync.Mutex
	next     uint64 // first never-yet-allocated block
	total    uint64
	free     []uint64run // reclaimed ranges; adjacent ranges are not coalesced
	byLayer  map[uint32][]uint64run
	metaHint map[uint64]bool // block -> was allocated with the metadata hint
}

type uint64run struct {
	base  uint64
	count uint64
}

// NewAllocator creates an allocator over a device of totalBlocks blocks.
// Block 0 is reserved for the global superblock.
func NewAllocator(totalBlocks uint64) *Allocator {
	return &Allocator{
		next:     1,
		total:    totalBlocks,
		byLayer:  make(map[uint32][]uint64run),
		metaHint: make(map[uint64]bool),
	}
}

// Alloc reserves a contiguous run of count blocks and returns the lowest
// block address in the run. The metadata hint records that this run backs
// filesystem metadata (superblocks, inode-index pages) rather than file
// data; this implementation does not place metadata specially, but keeps
// the hint for statistics and for FreeLayerBlocks bookkeeping.
func (a *Allocator) Alloc(layer uint32, count uint64, metadata bool) (uint64, error) {
	if count == 0 {
		return 0, fmt.Errorf("blockdev: alloc: zero-length run")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, r := range a.free {
		if r.count >= count {
			base := r.base
			if r.count == count {
				a.free = append(a.free[:i], a.free[i+1:]...)
			} else {
				a.free[i] = uint64run{base: r.base + count, count: r.count - count}
			}
			a.reserve(layer, base, count, metadata)
			return base, nil
		}
	}
	if a.next+count > a.total {
		return 0, fmt.Errorf("blockdev: alloc: device full (want %d blocks, %d remain)", count, a.total-a.next)
	}
	base := a.next
	a.next += count
	a.reserve(layer, base, count, metadata)
	return base, nil
}

func (a *Allocator) reserve(layer uint32, base, count uint64, metadata bool) {
	a.byLayer[layer] = append(a.byLayer[layer], uint64run{base: base, count: count})
	if metadata {
		for b := base; b < base+count; b++ {
			a.metaHint[b] = true
		}
	}
}

// FreeLayerBlocks releases every block reservation this allocator has
// recorded for layer, returning them to the free list.
func (a *Allocator) FreeLayerBlocks(layer uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.byLayer[layer] {
		a.free = append(a.free, r)
		for b := r.base; b < r.base+r.count; b++ {
			delete(a.metaHint, b)
		}
	}
	delete(a.byLayer, layer)
}

// UpdateBlockMap persists the allocator's live/free accounting. This
// in-memory implementation has nothing durable to flush beyond what the
// caller already writes as part of the superblock; it exists so the
// orchestrator has a named call site matching the external interface.
func (a *Allocator) UpdateBlockMap() error {
	return nil
}

// Used returns the number of blocks handed out and not yet freed, for
// statistics.
func (a *Allocator) Used() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var freeCount uint64
	for _, r := range a.free {
		freeCount += r.count
	}
	return a.next - 1 - freeCount
}
