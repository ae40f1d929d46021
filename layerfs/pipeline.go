package layerfs

import (
	"encoding/binary"
	"fmt"

	"github.com/google/lcfs/internal/superblock"
)

// NewInodeBlock allocates a fresh in-progress inode-index buffer for l,
// first flushing and staging the previous one if the pending cluster has
// reached its size limit (spec.md §4.5's new_inode_block). It must only be
// called while l's request lock is held by the caller (normal request
// path), and never while gfs.registryLock is held.
func NewInodeBlock(gfs *GFS, l *Layer) error {
	l.plock.Lock()
	defer l.plock.Unlock()

	if l.inodeBlockCount >= gfs.clusterSize {
		if err := flushLocked(gfs, l); err != nil {
			return err
		}
	}
	if l.inodeBlocks != nil {
		l.inodeBlockPages = l.pcache.GetPageNoBlock(l.inodeBlocks, l.inodeBlockPages)
		l.inodeBlocks = nil
	}
	l.inodeBlocks = make([]byte, superblock.BlockSize)
	l.inodeIndex = 0
	l.inodeBlockCount++
	return nil
}

// FlushInodeBlocks flushes l's pending inode-index cluster to disk as one
// clustered write, chaining it onto the layer's existing inode-block chain
// (spec.md §4.5's flush). It is a no-op when nothing is pending.
func FlushInodeBlocks(gfs *GFS, l *Layer) error {
	l.plock.Lock()
	defer l.plock.Unlock()
	return flushLocked(gfs, l)
}

func flushLocked(gfs *GFS, l *Layer) error {
	if l.inodeBlockCount == 0 {
		return nil
	}
	if l.inodeBlocks != nil {
		l.inodeBlockPages = l.pcache.GetPageNoBlock(l.inodeBlocks, l.inodeBlockPages)
		l.inodeBlocks = nil
	}

	gfs.allocLock.Lock()
	base, err := gfs.alloc.Alloc(uint32(l.gindex), l.inodeBlockCount, true)
	gfs.allocLock.Unlock()
	if err != nil {
		return fmt.Errorf("layerfs: flush inode blocks: %w", err)
	}

	fpage := l.inodeBlockPages
	page := fpage
	count := l.inodeBlockCount
	for page != nil {
		count--
		l.pcache.AddPageBlockHash(page, base+count)
		if page == fpage {
			// chain head: preserve the prior chain by pointing at the
			// layer's current sb_inode_block.
			putIbNext(page.Data, l.super.InodeBlock)
		} else {
			putIbNext(page.Data, base+count+1)
		}
		page = page.Next
	}
	if count != 0 {
		invariant("flushInodeBlocks: layer %d: page list length did not match inodeBlockCount", l.gindex)
	}

	if err := l.pcache.FlushPageCluster(gfs.dev, fpage, l.inodeBlockCount); err != nil {
		return fmt.Errorf("layerfs: flush inode blocks: %w", err)
	}

	l.super.InodeBlock = base
	l.inodeBlockCount = 0
	l.inodeBlockPages = nil
	return nil
}

// putIbNext writes the forward chain pointer that begins every inode-index
// block (spec.md §6).
func putIbNext(data []byte, next uint64) {
	binary.LittleEndian.PutUint64(data[:8], next)
}

// ibNext reads the forward chain pointer from an inode-index block, used by
// a crash-time (or test) reader reconstructing the chain from
// sb_inode_block.
func ibNext(data []byte) uint64 {
	return binary.LittleEndian.Uint64(data[:8])
}

// WalkInodeBlockChain follows l's on-disk inode-index chain starting at
// sb_inode_block, reading at most max blocks, and returns the block
// addresses visited in chain order. It exists so callers (tests included)
// can verify the ordering guarantee spec.md §4.5 and §8 describe: each
// flushed cluster's chain entry point is strictly lower than the next,
// more recently flushed cluster's, so a single-page-per-flush chain (the
// common case once steady state is reached) always reads back in strictly
// decreasing block-address order.
func WalkInodeBlockChain(gfs *GFS, l *Layer, max int) ([]uint64, error) {
	var blocks []uint64
	next := l.super.InodeBlock
	for next != 0 && len(blocks) < max {
		blocks = append(blocks, next)
		buf, err := gfs.dev.ReadBlock(next)
		if err != nil {
			return blocks, fmt.Errorf("layerfs: walk inode-block chain: %w", err)
		}
		next = ibNext(buf)
	}
	return blocks, nil
}
