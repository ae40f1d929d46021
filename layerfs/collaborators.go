package layerfs

import (
	"github.com/google/lcfs/internal/blockdev"
	"github.com/google/lcfs/internal/inodecache"
	"github.com/google/lcfs/internal/pagecache"
)

// Allocator is the block allocator collaborator named in spec.md §1/§6:
// alloc_blocks, free_layer_blocks, update_block_map. *blockdev.Allocator
// satisfies this; tests may substitute a fake with deterministic failure
// injection.
type Allocator interface {
	Alloc(layer uint32, count uint64, metadata bool) (uint64, error)
	FreeLayerBlocks(layer uint32)
	UpdateBlockMap() error
}

// PageCache is the page cache collaborator named in spec.md §1/§6:
// pcache_init (via pagecache.New), destroy_pages, get_page_no_block,
// flush_page_cluster, add_page_block_hash, flush_dirty_pages.
// *pagecache.Cache satisfies this.
type PageCache interface {
	GetPageNoBlock(data []byte, prevHead *pagecache.Page) *pagecache.Page
	AddPageBlockHash(page *pagecache.Page, block uint64)
	FlushPageCluster(dev blockdev.Device, head *pagecache.Page, count uint64) error
	FlushDirtyPages(dev blockdev.Device) error
	Destroy()
	Resident() int
}

// InodeCache is the inode cache/inode operations collaborator named in
// spec.md §1/§6: icache_init, destroy_inodes, read_inodes, sync_inodes,
// dir_lookup, get_inode, root_init. *inodecache.Cache satisfies this.
type InodeCache interface {
	RootInit(root uint64) *inodecache.Inode
	Get(ino uint64) (*inodecache.Inode, bool)
	DirLookup(dir *inodecache.Inode, name string) uint64
	ReadInodes(root uint64) error
	SyncInodes() error
	Count() int
	Destroy(remove bool) error
}
