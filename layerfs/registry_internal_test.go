package layerfs

import (
	"testing"

	"github.com/google/lcfs/internal/blockdev"
	"github.com/google/lcfs/internal/superblock"
	"github.com/stretchr/testify/require"
)

// fakeDevice is a minimal in-package blockdev.Device, kept separate from the
// black-box layerfs_test package's memDevice so these white-box tests can
// reach unexported GFS fields (snapRoot) without exporting a test-only
// setter from production code.
type fakeDevice struct {
	blocks map[uint64][]byte
	size   int64
}

func newFakeDevice(totalBlocks uint64) *fakeDevice {
	return &fakeDevice{blocks: make(map[uint64][]byte), size: int64(totalBlocks) * superblock.BlockSize}
}

func (d *fakeDevice) ReadBlock(addr uint64) ([]byte, error) {
	if buf, ok := d.blocks[addr]; ok {
		return buf, nil
	}
	return make([]byte, superblock.BlockSize), nil
}

func (d *fakeDevice) WriteBlock(addr uint64, data []byte) error {
	d.blocks[addr] = data
	return nil
}

func (d *fakeDevice) Sync() error         { return nil }
func (d *fakeDevice) Close() error        { return nil }
func (d *fakeDevice) Size() (int64, error) { return d.size, nil }

var _ blockdev.Device = (*fakeDevice)(nil)

func mustMount(t *testing.T) *GFS {
	t.Helper()
	gfs, err := MountDevice("fake", newFakeDevice(4096), MountOptions{})
	require.NoError(t, err)
	return gfs
}

// GetIndexForLookup only redirects a lookup into a mounted layer's own
// namespace when the parent directory is the configured snapshot root and
// the resolved child inode handle matches one of the registry's live layer
// roots (spec.md's get_index_for_lookup); every other lookup is answered by
// the current layer.
func TestGetIndexForLookupCrossesNamespaceOnlyAtSnapshotRoot(t *testing.T) {
	gfs := mustMount(t)
	defer func() { _ = Unmount(gfs) }()

	base, err := AddLayer(gfs, nil, gfs.GlobalLayer(), true)
	require.NoError(t, err)

	global := gfs.GlobalLayer()

	const snapRootIno = 42
	gfs.snapRoot = snapRootIno

	idx := GetIndexForLookup(gfs, global, snapRootIno, base.Root())
	require.Equal(t, base.Index(), idx)

	idx = GetIndexForLookup(gfs, global, snapRootIno+1, base.Root())
	require.Equal(t, global.Index(), idx)

	idx = GetIndexForLookup(gfs, base, snapRootIno, base.Root())
	require.Equal(t, base.Index(), idx)
}

// RemoveLayer refuses to detach a layer that still has a child; callers
// must remove bottom-up (spec.md §9 Open Question 3).
func TestRemoveLayerRejectsLayerWithChildren(t *testing.T) {
	gfs := mustMount(t)
	defer func() { _ = Unmount(gfs) }()

	parent, err := AddLayer(gfs, nil, gfs.GlobalLayer(), true)
	require.NoError(t, err)
	_, err = AddLayer(gfs, parent, nil, true)
	require.NoError(t, err)

	err = RemoveLayer(gfs, parent)
	require.ErrorIs(t, err, ErrHasChildren)
}

// Removing a childless snapshot splices it out of its sibling chain and
// frees its registry slot for reuse.
func TestRemoveLayerSplicesSiblingChainAndFreesSlot(t *testing.T) {
	gfs := mustMount(t)
	defer func() { _ = Unmount(gfs) }()

	base, err := AddLayer(gfs, nil, gfs.GlobalLayer(), true)
	require.NoError(t, err)
	sib, err := AddLayer(gfs, nil, base, true)
	require.NoError(t, err)
	freedIdx := sib.Index()

	require.NoError(t, RemoveLayer(gfs, sib))
	require.Nil(t, gfs.layers[freedIdx])
	require.Nil(t, base.next)

	again, err := AddLayer(gfs, nil, base, true)
	require.NoError(t, err)
	require.Equal(t, freedIdx, again.Index())
}

// The per-layer request lock is writer-preferring and fully releases on
// Unlock: a shared holder must be able to reacquire shared after a round
// trip, and GetLayerForInode must hand back a lock in the mode requested.
func TestGetLayerForInodeLockModeRoundTrips(t *testing.T) {
	gfs := mustMount(t)
	defer func() { _ = Unmount(gfs) }()

	base, err := AddLayer(gfs, nil, gfs.GlobalLayer(), true)
	require.NoError(t, err)
	handle := MakeInodeHandle(uint32(base.Index()), RootInode)

	shared, err := GetLayerForInode(gfs, handle, false)
	require.NoError(t, err)
	shared.Unlock()

	exclusive, err := GetLayerForInode(gfs, handle, true)
	require.NoError(t, err)
	exclusive.Unlock()

	again, err := GetLayerForInode(gfs, handle, false)
	require.NoError(t, err)
	again.Unlock()
}
