package layerfs_test

import (
	"fmt"
	"sync"

	"github.com/google/lcfs/internal/superblock"
)

// memDevice is an in-memory blockdev.Device fake, the kind of substitute
// internal/blockdev.Device's doc comment says production code gets from
// Open and tests provide themselves.
type memDevice struct {
	mu     sync.Mutex
	blocks map[uint64][]byte
	size   int64
	closed bool
}

func newMemDevice(totalBlocks uint64) *memDevice {
	return &memDevice{
		blocks: make(map[uint64][]byte),
		size:   int64(totalBlocks) * superblock.BlockSize,
	}
}

func (d *memDevice) ReadBlock(addr uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if buf, ok := d.blocks[addr]; ok {
		out := make([]byte, len(buf))
		copy(out, buf)
		return out, nil
	}
	return make([]byte, superblock.BlockSize), nil
}

func (d *memDevice) WriteBlock(addr uint64, data []byte) error {
	if len(data) != superblock.BlockSize {
		return fmt.Errorf("memdevice: write block %d: bad size %d", addr, len(data))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	d.blocks[addr] = buf
	return nil
}

func (d *memDevice) Sync() error { return nil }

func (d *memDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *memDevice) Size() (int64, error) { return d.size, nil }
