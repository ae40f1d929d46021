package layerfs

// RootInode is the inode number of every layer's root directory.
const RootInode uint64 = 1

// SuperBlockAddr is the fixed block address of the global superblock.
const SuperBlockAddr uint64 = 0

// DefaultClusterSize is the inode-block pipeline's default cluster size
// (spec.md §4.5), used when config.FileSystemConfig.ClusterSize is zero.
const DefaultClusterSize = 256

// DefaultCap is the default registry capacity (spec.md §3's CAP).
const DefaultCap = 256

// SnapshotRootName is the special directory under the global layer's root
// whose inode number seeds gfs.snap_root (spec.md §4.4 step 6; see
// original_source/fs/fs.c's lc_setupSpecialInodes).
const SnapshotRootName = "lcfs"
