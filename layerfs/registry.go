package layerfs

import (
	"fmt"

	"github.com/google/lcfs/internal/pagecache"
	"github.com/google/lcfs/internal/stats"
	"github.com/google/lcfs/internal/superblock"
)

// AddLayer creates a new layer as either the first child of parent (anchor
// nil) or a snapshot spliced after anchor in its sibling chain (spec.md
// §4.1's add / §4.3's two insertion shapes). Exactly one of parent, anchor
// must be non-nil.
func AddLayer(gfs *GFS, parent, anchor *Layer, rw bool) (*Layer, error) {
	if (parent == nil) == (anchor == nil) {
		return nil, fmt.Errorf("layerfs: AddLayer requires exactly one of parent or anchor")
	}

	target := parent
	if anchor != nil {
		target = anchor
	}
	lock(target, true)
	defer unlock(target, true)

	l := newLayer(gfs, rw)

	switch {
	case anchor != nil:
		l.parent = anchor.parent
		if anchor.parent == nil {
			// anchor is itself a base layer: a sibling of a base layer is a
			// brand new top-level family, not a descendant of anchor's.
			l.pcache = pagecache.New(4096)
			l.ilock = newMutex()
		} else {
			l.pcache = anchor.pcache
			l.ilock = anchor.ilock
		}
	case parent != nil:
		if parent.snap != nil {
			return nil, fmt.Errorf("layerfs: AddLayer: parent already has a first child")
		}
		l.parent = parent
		l.pcache = parent.pcache
		l.ilock = parent.ilock
	}

	l.root = gfs.allocateRoot()

	if err := gfs.addToRegistry(l, parent, anchor); err != nil {
		return nil, err
	}
	return l, nil
}

// allocateRoot picks a fresh root inode number for a new layer. Root inode
// numbers only need to be unique within a layer's own namespace (they are
// always looked up together with the layer's registry slot), so every
// layer can reuse the same small constant.
func (gfs *GFS) allocateRoot() uint64 {
	return RootInode
}

// addToRegistry implements lc_addfs: find a free slot, install the layer,
// allocate its on-disk superblock block, and splice it into the graph.
func (gfs *GFS) addToRegistry(l *Layer, parent, anchor *Layer) error {
	gfs.registryLock.Lock()
	defer gfs.registryLock.Unlock()

	slot := -1
	for i := 1; i < gfs.cap; i++ {
		if gfs.layers[i] == nil {
			slot = i
			break
		}
	}
	if slot == -1 {
		return ErrNoSlotAvailable
	}

	l.gindex = int32(slot)
	l.super = gfs.super.Derive(l.root)
	l.super.Index = uint32(slot)
	// The new superblock has never been written; mark it dirty so the next
	// sync persists it.
	l.super.Flags |= superblock.FlagDirty
	gfs.layers[slot] = l
	gfs.roots[slot] = l.root
	if int32(slot) > gfs.highWater {
		gfs.highWater = int32(slot)
	}
	l.stat = stats.New(fmt.Sprintf("%d", slot))

	gfs.allocLock.Lock()
	sblock, err := gfs.alloc.Alloc(uint32(slot), 1, true)
	gfs.allocLock.Unlock()
	if err != nil {
		gfs.layers[slot] = nil
		gfs.roots[slot] = 0
		l.gindex = -1
		return fmt.Errorf("layerfs: addToRegistry: %w", err)
	}
	l.sblock = sblock

	spliceIntoGraph(l, parent, anchor)
	return nil
}

// RemoveLayer detaches l from both the graph and the registry and then
// destroys it, freeing its blocks, caches, and locks (spec.md's lifecycle:
// a layer is detached and then destroyed). l must have no children: a layer
// that still has a child is refused with ErrHasChildren, so callers must
// remove bottom-up (spec.md §9 Open Question 3). l's request lock is held
// in exclusive mode for the whole removal.
func RemoveLayer(gfs *GFS, l *Layer) error {
	if l.snap != nil {
		return ErrHasChildren
	}
	if l.gindex <= 0 || int(l.gindex) >= gfs.cap {
		return ErrNotInRegistry
	}

	lock(l, true)
	defer unlock(l, true)

	gfs.registryLock.Lock()
	detachFromGraph(gfs, l)

	idx := l.gindex
	gfs.layers[idx] = nil
	gfs.roots[idx] = 0
	if idx == gfs.highWater {
		if gfs.highWater == 0 {
			invariant("removeLayer: highWater already 0")
		}
		gfs.highWater--
	}
	l.gindex = -1
	l.removed = true
	gfs.registryLock.Unlock()

	gfs.allocLock.Lock()
	gfs.alloc.FreeLayerBlocks(uint32(idx))
	gfs.allocLock.Unlock()

	return l.destroy()
}

// GetLayerForInode resolves ino's owning layer and locks it in the
// requested mode, returning a handle that remembers the mode so Unlock
// cannot be called the wrong way (spec.md's get_layer_for_inode /
// get_by_inode).
func GetLayerForInode(gfs *GFS, ino uint64, exclusive bool) (*LockedLayer, error) {
	idx := GetFsHandle(ino)
	if int(idx) >= gfs.cap {
		return nil, fmt.Errorf("layerfs: inode %d: slot %d out of range", ino, idx)
	}
	l := gfs.layers[idx]
	if l == nil {
		return nil, fmt.Errorf("layerfs: inode %d: %w", ino, ErrNotInRegistry)
	}
	lock(l, exclusive)
	if int(l.gindex) != int(idx) || gfs.roots[idx] != l.root {
		unlock(l, exclusive)
		invariant("getLayerForInode: slot %d layer state changed under us", idx)
	}
	return &LockedLayer{layer: l, exclusive: exclusive}, nil
}

// GetIndexForLookup implements lc_getIndex / get_index_for_lookup: the only
// place a namespace boundary is crossed implicitly. From the global layer,
// a lookup of a child whose parent directory is the configured snapshot
// root and whose inode handle matches a mounted layer's root resolves to
// that layer's slot; every other lookup stays in the current layer.
func GetIndexForLookup(gfs *GFS, current *Layer, parentDirIno, childIno uint64) int32 {
	if current.gindex == 0 && gfs.snapRoot != 0 && parentDirIno == gfs.snapRoot {
		root := GetInodeHandle(childIno)
		for i := int32(1); i <= gfs.highWater; i++ {
			if gfs.roots[i] == root {
				return i
			}
		}
	}
	return current.gindex
}
