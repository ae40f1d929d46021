package layerfs

import (
	"fmt"

	"github.com/google/lcfs/internal/logger"
	"github.com/google/lcfs/internal/pagecache"
	"github.com/google/lcfs/internal/stats"
	"github.com/google/lcfs/internal/superblock"
)

// spliceIntoGraph implements the two insertion shapes of spec.md §4.3. It
// must be called with registryLock held and after l.sblock has already
// been assigned.
func spliceIntoGraph(l *Layer, parent, anchor *Layer) {
	switch {
	case anchor != nil:
		l.next = anchor.next
		anchor.next = l
		l.super.NextSnap = anchor.super.NextSnap
		anchor.super.NextSnap = l.sblock
		anchor.super.Flags |= superblock.FlagDirty
	case parent != nil:
		parent.snap = l
		parent.super.ChildSnap = l.sblock
		parent.super.Flags |= superblock.FlagDirty
	}
}

// detachFromGraph implements lc_removeSnap: splice l out of whichever
// sibling chain it occupies, fixing up the parent's child pointer or the
// preceding sibling's next pointer and their on-disk counterparts.
func detachFromGraph(gfs *GFS, l *Layer) {
	pfs := l.parent
	if pfs != nil && pfs.snap == l {
		pfs.snap = l.next
		pfs.super.ChildSnap = l.super.NextSnap
		pfs.super.Flags |= superblock.FlagDirty
		return
	}

	var node *Layer
	if pfs != nil {
		node = pfs.snap
	} else {
		node = gfs.globalLayer()
	}
	for node != nil {
		if node.next == l {
			node.next = l.next
			node.super.NextSnap = l.super.NextSnap
			node.super.Flags |= superblock.FlagDirty
			return
		}
		node = node.next
	}
	invariant("detachFromGraph: layer %d not found in any sibling chain", l.gindex)
}

// recoverForest rebuilds the entire layer forest from disk by walking
// sibling (sb_next_snap) and child (sb_child_snap) pointers starting from
// the global layer, producing a deterministic, disk-order-preserving
// forest (spec.md §4.3 tie-breaks, §4.4 Recovery).
func recoverForest(gfs *GFS, global *Layer) error {
	gfs.registryLock.Lock()
	defer gfs.registryLock.Unlock()
	return recoverSnapshots(gfs, global)
}

func recoverSnapshots(gfs *GFS, pfs *Layer) error {
	nfs := pfs
	block := pfs.super.NextSnap
	for block != 0 {
		fs, err := initfs(gfs, nfs, block, false)
		if err != nil {
			return err
		}
		nfs = fs
		block = fs.super.NextSnap
	}

	nfs = pfs
	for nfs != nil {
		block = nfs.super.ChildSnap
		if block != 0 {
			fs, err := initfs(gfs, nfs, block, true)
			if err != nil {
				return err
			}
			if err := recoverSnapshots(gfs, fs); err != nil {
				return err
			}
		}
		nfs = nfs.next
	}
	return nil
}

// initfs reads the superblock at block and installs the recovered layer
// into the graph and registry, aliasing pcache/ilock per the family
// ownership rule (spec.md §3 invariant 6): a first child or a sibling with
// a common parent aliases its family's cache; a sibling of a parentless
// layer starts a brand new family with its own cache.
func initfs(gfs *GFS, pfs *Layer, block uint64, isChild bool) (*Layer, error) {
	buf, err := gfs.dev.ReadBlock(block)
	if err != nil {
		return nil, fmt.Errorf("layerfs: recover: read superblock at block %d: %w", block, err)
	}
	super, err := superblock.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("layerfs: recover: decode superblock at block %d: %w", block, err)
	}

	l := newLayer(gfs, super.Flags&superblock.FlagRDWR != 0)
	l.sblock = block
	l.super = super
	l.root = super.Root

	switch {
	case isChild:
		if pfs.snap != nil {
			invariant("recover: parent layer %d already has a first child", pfs.gindex)
		}
		pfs.snap = l
		l.parent = pfs
		l.pcache = pfs.pcache
		l.ilock = pfs.ilock
	case pfs.parent == nil:
		if pfs.next != nil {
			invariant("recover: base layer %d already has a next sibling", pfs.gindex)
		}
		l.pcache = pagecache.New(4096)
		l.ilock = newMutex()
		pfs.next = l
	default:
		if pfs.next != nil {
			invariant("recover: layer %d already has a next sibling", pfs.gindex)
		}
		l.parent = pfs.parent
		l.pcache = pfs.pcache
		l.ilock = pfs.ilock
		pfs.next = l
	}

	idx := super.Index
	if idx >= uint32(gfs.cap) {
		return nil, fmt.Errorf("layerfs: recover: layer index %d exceeds registry capacity %d", idx, gfs.cap)
	}
	if gfs.layers[idx] != nil {
		invariant("recover: slot %d already occupied while recovering layer at block %d", idx, block)
	}
	l.gindex = int32(idx)
	gfs.layers[idx] = l
	gfs.roots[idx] = l.root
	if int32(idx) > gfs.highWater {
		gfs.highWater = int32(idx)
	}
	l.stat = stats.New(fmt.Sprintf("%d", idx))

	logger.Infof("recovered layer parent=%d root=%d index=%d block=%d",
		parentRootOrMinus1(l), l.root, l.gindex, block)
	return l, nil
}

func parentRootOrMinus1(l *Layer) int64 {
	if l.parent == nil {
		return -1
	}
	return int64(l.parent.root)
}
