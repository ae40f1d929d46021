package layerfs_test

import (
	"testing"

	"github.com/google/lcfs/internal/superblock"
	"github.com/google/lcfs/layerfs"
	"github.com/stretchr/testify/suite"
)

const testDeviceBlocks = 4096

type MountTestSuite struct {
	suite.Suite
}

func TestMountSuite(t *testing.T) {
	suite.Run(t, new(MountTestSuite))
}

func (s *MountTestSuite) mount(dev *memDevice) *layerfs.GFS {
	gfs, err := layerfs.MountDevice("test-device", dev, layerfs.MountOptions{})
	s.Require().NoError(err)
	return gfs
}

// A fresh, all-zero device has neither the right magic nor a dirty flag,
// so Mount must format it rather than attempt recovery.
func (s *MountTestSuite) TestFreshDeviceIsFormatted() {
	dev := newMemDevice(testDeviceBlocks)
	gfs := s.mount(dev)
	s.Require().NoError(layerfs.Unmount(gfs))

	buf, err := dev.ReadBlock(layerfs.SuperBlockAddr)
	s.Require().NoError(err)
	super, err := superblock.Decode(buf)
	s.Require().NoError(err)
	s.True(super.Valid())
}

// Create a base layer, a child of it, and a sibling snapshot, unmount, and
// remount against the same backing blocks: each layer must be recovered in
// the slot it had before unmount, with the same root inode.
func (s *MountTestSuite) TestRoundTripRecoversForest() {
	dev := newMemDevice(testDeviceBlocks)
	gfs := s.mount(dev)

	base, err := layerfs.AddLayer(gfs, nil, gfs.GlobalLayer(), true)
	s.Require().NoError(err)
	child, err := layerfs.AddLayer(gfs, base, nil, true)
	s.Require().NoError(err)
	sibling, err := layerfs.AddLayer(gfs, nil, base, true)
	s.Require().NoError(err)

	wantBaseIdx, wantChildIdx, wantSiblingIdx := base.Index(), child.Index(), sibling.Index()
	wantBaseRoot, wantChildRoot, wantSiblingRoot := base.Root(), child.Root(), sibling.Root()

	s.Require().NoError(layerfs.Unmount(gfs))

	gfs2, err := layerfs.MountDevice("test-device-remount", dev, layerfs.MountOptions{})
	s.Require().NoError(err)

	gotBase, err := layerfs.GetLayerForInode(gfs2, layerfs.MakeInodeHandle(uint32(wantBaseIdx), layerfs.RootInode), false)
	s.Require().NoError(err)
	s.Equal(wantBaseRoot, gotBase.Layer().Root())
	gotBase.Unlock()

	gotChild, err := layerfs.GetLayerForInode(gfs2, layerfs.MakeInodeHandle(uint32(wantChildIdx), layerfs.RootInode), false)
	s.Require().NoError(err)
	s.Equal(wantChildRoot, gotChild.Layer().Root())
	gotChild.Unlock()

	gotSibling, err := layerfs.GetLayerForInode(gfs2, layerfs.MakeInodeHandle(uint32(wantSiblingIdx), layerfs.RootInode), false)
	s.Require().NoError(err)
	s.Equal(wantSiblingRoot, gotSibling.Layer().Root())
	gotSibling.Unlock()

	s.Require().NoError(layerfs.Unmount(gfs2))
}

// A dirty superblock still reformats rather than failing mount, matching
// the literal (and, per the outer condition, unreachable-for-EIO) control
// flow original_source/fs/fs.c's lc_mount uses.
func (s *MountTestSuite) TestDirtySuperblockReformatsOnRemount() {
	dev := newMemDevice(testDeviceBlocks)
	gfs := s.mount(dev)
	s.Require().NoError(layerfs.Unmount(gfs))

	buf, err := dev.ReadBlock(layerfs.SuperBlockAddr)
	s.Require().NoError(err)
	super, err := superblock.Decode(buf)
	s.Require().NoError(err)
	super.Flags |= superblock.FlagDirty
	s.Require().NoError(dev.WriteBlock(layerfs.SuperBlockAddr, superblock.Encode(super)))

	gfs2, err := layerfs.MountDevice("test-device-dirty", dev, layerfs.MountOptions{})
	s.Require().NoError(err)
	s.Require().NoError(layerfs.Unmount(gfs2))
}

// Unmount must leave no dangling layer state: the count/pcount invariants
// are checked internally and panic on violation, so a clean return here is
// itself the assertion.
func (s *MountTestSuite) TestUnmountDestroysEveryLayer() {
	dev := newMemDevice(testDeviceBlocks)
	gfs := s.mount(dev)

	_, err := layerfs.AddLayer(gfs, nil, gfs.GlobalLayer(), true)
	s.Require().NoError(err)

	s.Require().NoError(layerfs.Unmount(gfs))
}

// sync on an already-clean layer must be a no-op: calling UmountAll twice in
// a row, the second time on freshly-synced state, should not error, and a
// following Unmount must still succeed.
func (s *MountTestSuite) TestUmountAllIsIdempotentOnCleanLayers() {
	dev := newMemDevice(testDeviceBlocks)
	gfs := s.mount(dev)

	_, err := layerfs.AddLayer(gfs, nil, gfs.GlobalLayer(), true)
	s.Require().NoError(err)

	s.Require().NoError(layerfs.UmountAll(gfs))
	s.Require().NoError(layerfs.UmountAll(gfs))
	s.Require().NoError(layerfs.Unmount(gfs))
}
