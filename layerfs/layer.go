package layerfs

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/lcfs/internal/inodecache"
	"github.com/google/lcfs/internal/logger"
	"github.com/google/lcfs/internal/pagecache"
	"github.com/google/lcfs/internal/stats"
	"github.com/google/lcfs/internal/superblock"
)

// Layer is one independent filesystem namespace: either the global layer
// (slot 0) or a layer created by AddLayer as a base, child, or sibling
// snapshot of another. See spec.md §3 for the full field-by-field contract.
type Layer struct {
	gfs *GFS

	// gindex is this layer's registry slot, or -1 when detached.
	gindex int32

	sblock uint64
	super  *superblock.Super
	root   uint64

	readOnly bool
	removed  bool

	ctime time.Time
	atime time.Time

	// Graph links. parent/snap/next are non-owning.
	parent *Layer
	snap   *Layer // first child
	next   *Layer // next sibling

	// pcache and ilock are shared within a parent/child family; only the
	// family root (parent == nil) owns and destroys them.
	pcache PageCache
	ilock  *sync.Mutex

	icache InodeCache

	rwlock lockedRWMutex
	plock  sync.Mutex
	alock  sync.Mutex

	stat *stats.LayerStats

	// Inode-block flush pipeline state (spec.md §4.5), guarded by plock.
	inodeBlocks     []byte
	inodeIndex      int
	inodeBlockCount uint64
	inodeBlockPages *pagecache.Page

	// Lifetime counters. The assertion-only ones must read zero at destroy.
	blocks uint64
	freed  uint64
	icount int64
	pcount int64

	blockInodesCount int64
	blockMetaCount   int64
	dpcount          int64
	inodePagesCount  int64
}

// newLayer allocates a fresh, otherwise-empty Layer. Callers finish wiring
// parent/pcache/ilock per the ownership rules in AddLayer/initfs before the
// layer is usable.
func newLayer(gfs *GFS, rw bool) *Layer {
	now := gfs.clock.Now()
	l := &Layer{
		gfs:      gfs,
		gindex:   -1,
		readOnly: !rw,
		ctime:    now,
		atime:    now,
		icache:   inodecache.New(),
	}
	gfs.count.Add(1)
	return l
}

// isFamilyRoot reports whether l owns (rather than aliases) pcache/ilock.
func (l *Layer) isFamilyRoot() bool {
	return l.parent == nil
}

// Root returns l's root inode number within its own namespace.
func (l *Layer) Root() uint64 { return l.root }

// Index returns l's registry slot.
func (l *Layer) Index() int32 { return l.gindex }

// DirLookup resolves name within dir (a local inode number already known to
// be a directory in l's namespace), the request-path call site
// GetIndexForLookup expects to run after (spec.md's get_index_for_lookup).
func (l *Layer) DirLookup(dirIno uint64, name string) (uint64, bool) {
	dir, ok := l.icache.Get(dirIno)
	if !ok {
		return 0, false
	}
	ino := l.icache.DirLookup(dir, name)
	if ino == inodecache.InvalidInode {
		return 0, false
	}
	return ino, true
}

// destroy releases a layer's resources. RemoveLayer calls it after detaching
// the layer from the graph and the registry; Unmount calls it for every
// layer at teardown without detaching them first.
// Matching lc_destroyFs, it never frees a cache this layer merely aliases
// from a parent.
func (l *Layer) destroy() error {
	logger.Infof("%s", l.stat.Summary())

	if l.blockInodesCount != 0 || l.blockMetaCount != 0 || l.dpcount != 0 ||
		l.inodePagesCount != 0 {
		invariant("layer %d: non-zero assertion counters at destroy (blockInodes=%d blockMeta=%d dp=%d inodePages=%d)",
			l.gindex, l.blockInodesCount, l.blockMetaCount, l.dpcount, l.inodePagesCount)
	}
	if l.inodeBlockCount != 0 || l.inodeBlockPages != nil || l.inodeBlocks != nil {
		invariant("layer %d: inode-block pipeline not empty at destroy", l.gindex)
	}

	if err := l.icache.Destroy(true); err != nil {
		return fmt.Errorf("layerfs: destroy layer: %w", err)
	}
	l.icount = int64(l.icache.Count())

	if l.pcache != nil && l.isFamilyRoot() {
		l.pcache.Destroy()
		l.pcount = int64(l.pcache.Resident())
	} else {
		l.pcount = 0
	}

	l.stat.Unregister()

	if l.icount != 0 || l.pcount != 0 {
		invariant("layer %d: icount=%d pcount=%d at destroy, want 0", l.gindex, l.icount, l.pcount)
	}

	l.gfs.count.Add(-1)
	return nil
}
