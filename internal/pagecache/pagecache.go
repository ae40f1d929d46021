// Package pagecache implements the page cache collaborator shared by every
// layer in a parent/child family: an LRU-bounded cache of block-sized pages
// plus the small bit of list plumbing the inode-block flush pipeline needs
// to stage pages before they have been assigned a disk address.
package pagecache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/google/lcfs/internal/blockdev"
)

// Page is one cached block-sized buffer. Pages produced by the inode-block
// pipeline start out "unblocked" (HasBlock false) and are threaded through
// Next until the pipeline assigns each one a disk address.
type Page struct {
	Data     []byte
	Block    uint64
	HasBlock bool
	Dirty    bool

	// Next chains pages together for a pending flush cluster. It is not an
	// LRU link; it is the inode-block pipeline's own singly linked list.
	Next *Page
}

// Cache is an LRU page cache. Capacity bounds resident pages the way the
// teacher's temp-file leaser bounds resident file descriptors: a fixed
// budget enforced under one mutex, with eviction of the coldest entry.
type Cache struct {
	mu       sync.Mutex
	cap      int
	ll       *list.List // of *entry, front = most recently used
	byBlock  map[uint64]*list.Element
	resident int
}

type entry struct {
	block uint64
	page  *Page
}

// New creates a page cache holding at most capacity resident pages.
func New(capacity int) *Cache {
	return &Cache{
		cap:     capacity,
		ll:      list.New(),
		byBlock: make(map[uint64]*list.Element),
	}
}

// GetPageNoBlock wraps data as a new unblocked page and prepends it onto
// prevHead, returning the new head. This mirrors get_page_no_block: the
// page has no disk address yet and is not inserted into the block-keyed
// lookup table until AddPageBlockHash is called.
func (c *Cache) GetPageNoBlock(data []byte, prevHead *Page) *Page {
	return &Page{Data: data, Dirty: true, Next: prevHead}
}

// AddPageBlockHash assigns block to page and makes it reachable by block
// address, evicting the LRU entry if the cache is over capacity.
func (c *Cache) AddPageBlockHash(page *Page, block uint64) {
	page.Block = block
	page.HasBlock = true

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.byBlock[block]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*entry).page = page
		return
	}
	el := c.ll.PushFront(&entry{block: block, page: page})
	c.byBlock[block] = el
	c.resident++
	c.evictLocked()
}

// Lookup returns the cached page for block, if resident.
func (c *Cache) Lookup(block uint64) (*Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.byBlock[block]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).page, true
}

func (c *Cache) evictLocked() {
	for c.cap > 0 && c.resident > c.cap {
		back := c.ll.Back()
		if back == nil {
			return
		}
		e := back.Value.(*entry)
		if e.page.Dirty {
			// Never silently drop dirty data; leave it resident over budget
			// rather than lose a write. A real allocator would force a flush
			// here instead.
			return
		}
		c.ll.Remove(back)
		delete(c.byBlock, e.block)
		c.resident--
	}
}

// FlushPageCluster writes every page in the singly linked list starting at
// head, in list order, to dev. All pages in the list must already carry a
// block address (AddPageBlockHash must have been called for each).
func (c *Cache) FlushPageCluster(dev blockdev.Device, head *Page, count uint64) error {
	page := head
	var n uint64
	for page != nil {
		if !page.HasBlock {
			return fmt.Errorf("pagecache: flush cluster: page at position %d has no block address", n)
		}
		if err := dev.WriteBlock(page.Block, page.Data); err != nil {
			return fmt.Errorf("pagecache: flush cluster: %w", err)
		}
		page.Dirty = false
		page = page.Next
		n++
	}
	if n != count {
		return fmt.Errorf("pagecache: flush cluster: expected %d pages, wrote %d", count, n)
	}
	return nil
}

// FlushDirtyPages writes out every resident dirty page not otherwise staged
// in a pipeline (ordinary data pages touched by normal requests).
func (c *Cache) FlushDirtyPages(dev blockdev.Device) error {
	c.mu.Lock()
	dirty := make([]*entry, 0)
	for e := c.ll.Front(); e != nil; e = e.Next() {
		ent := e.Value.(*entry)
		if ent.page.Dirty {
			dirty = append(dirty, ent)
		}
	}
	c.mu.Unlock()

	for _, ent := range dirty {
		if err := dev.WriteBlock(ent.block, ent.page.Data); err != nil {
			return fmt.Errorf("pagecache: flush dirty pages: %w", err)
		}
		ent.page.Dirty = false
	}
	return nil
}

// Destroy drops every resident page. Callers must ensure the cache is
// unshared (family root only) before calling, matching the ownership rule
// that descendants never free an aliased cache.
func (c *Cache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.byBlock = make(map[uint64]*list.Element)
	c.resident = 0
}

// Resident returns the number of pages currently cached, for gfs_pcount.
func (c *Cache) Resident() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resident
}
