package layerfs_test

import (
	"testing"

	"github.com/google/lcfs/layerfs"
	"github.com/stretchr/testify/require"
)

// With a cluster size of one, every NewInodeBlock call past the first
// forces an automatic single-page flush, chaining each flushed block onto
// the one before it. The resulting on-disk chain must read back newest
// first, in strictly decreasing block-address order (spec.md §4.5 / §8).
func TestFlushInodeBlocksClusterOverflowOrdersChainCorrectly(t *testing.T) {
	dev := newMemDevice(testDeviceBlocks)
	gfs, err := layerfs.MountDevice("test-device", dev, layerfs.MountOptions{ClusterSize: 1})
	require.NoError(t, err)

	base, err := layerfs.AddLayer(gfs, nil, gfs.GlobalLayer(), true)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, layerfs.NewInodeBlock(gfs, base))
	}
	require.NoError(t, layerfs.FlushInodeBlocks(gfs, base))

	chain, err := layerfs.WalkInodeBlockChain(gfs, base, 10)
	require.NoError(t, err)
	require.Len(t, chain, 4)

	for i := 1; i < len(chain); i++ {
		require.Less(t, chain[i], chain[i-1], "chain must be strictly decreasing block-address order")
	}

	require.NoError(t, layerfs.Unmount(gfs))
}

// FlushInodeBlocks on a layer with nothing pending is a no-op.
func TestFlushInodeBlocksNoopWhenNothingPending(t *testing.T) {
	dev := newMemDevice(testDeviceBlocks)
	gfs, err := layerfs.MountDevice("test-device", dev, layerfs.MountOptions{})
	require.NoError(t, err)

	base, err := layerfs.AddLayer(gfs, nil, gfs.GlobalLayer(), true)
	require.NoError(t, err)

	require.NoError(t, layerfs.FlushInodeBlocks(gfs, base))
	chain, err := layerfs.WalkInodeBlockChain(gfs, base, 10)
	require.NoError(t, err)
	require.Empty(t, chain)

	require.NoError(t, layerfs.Unmount(gfs))
}
