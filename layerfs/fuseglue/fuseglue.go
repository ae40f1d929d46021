// Package fuseglue adapts the layer registry onto a jacobsa/fuse connection.
// It is deliberately thin: spec.md treats the normal file-request path
// (read/write/readdir/...) as out of scope, so every op this package does
// not need for the layer/lookup boundary itself falls through to
// fuseutil.NotImplementedFileSystem's ENOSYS, the same pattern
// samples/hellofs and samples/memfs use for the ops they don't care about.
package fuseglue

import (
	"os"
	"time"

	"github.com/google/lcfs/internal/logger"
	"github.com/google/lcfs/layerfs"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// FS wires fuseops dispatch onto a mounted GFS. It implements
// fuseutil.FileSystem by embedding NotImplementedFileSystem and overriding
// only the ops that cross or report on a layer boundary: Init,
// GetInodeAttributes, and LookUpInode (the latter is the one place
// GetIndexForLookup's implicit snapshot-root namespace crossing happens).
type FS struct {
	fuseutil.NotImplementedFileSystem

	gfs *layerfs.GFS
}

var _ fuseutil.FileSystem = (*FS)(nil)

// New wraps gfs as a fuse.Server, ready to pass to fuse.Mount.
func New(gfs *layerfs.GFS) fuse.Server {
	return fuseutil.NewFileSystemServer(&FS{gfs: gfs})
}

func (fs *FS) Init(op *fuseops.InitOp) {
	logger.Infof("fuse init")
	op.Respond(nil)
}

// GetInodeAttributes reports a fixed stand-in attribute set for any inode
// this layer registry knows about. Real attribute storage belongs to the
// inode cache's normal-request path, which spec.md leaves unspecified; this
// exists so the registry's handle encoding is reachable end to end from a
// real fuse op.
func (fs *FS) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) {
	locked, err := layerfs.GetLayerForInode(fs.gfs, uint64(op.Inode), false)
	if err != nil {
		op.Respond(fuse.ENOENT)
		return
	}
	defer locked.Unlock()

	op.Attributes = fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  os.ModeDir | 0755,
		Mtime: time.Now(),
	}
	op.Respond(nil)
}

// LookUpInode resolves a child of parent within the current layer's own
// namespace, then decides whether the resolved child actually denotes a
// mounted layer's root and should be handed back as that layer's own handle
// instead (layerfs.GetIndexForLookup) - the one place a lookup can cross a
// namespace boundary.
func (fs *FS) LookUpInode(op *fuseops.LookUpInodeOp) {
	locked, err := layerfs.GetLayerForInode(fs.gfs, uint64(op.Parent), false)
	if err != nil {
		op.Respond(fuse.ENOENT)
		return
	}
	l := locked.Layer()
	parentLocalIno := layerfs.GetInodeHandle(uint64(op.Parent))

	childLocalIno, ok := l.DirLookup(parentLocalIno, op.Name)
	if !ok {
		locked.Unlock()
		op.Respond(fuse.ENOENT)
		return
	}

	idx := layerfs.GetIndexForLookup(fs.gfs, l, parentLocalIno, childLocalIno)
	childRoot := childLocalIno
	if idx != l.Index() {
		childRoot = layerfs.RootInode
	}
	locked.Unlock()

	op.Entry = fuseops.ChildInodeEntry{
		Child:      fuseops.InodeID(layerfs.MakeInodeHandle(uint32(idx), childRoot)),
		Attributes: fuseops.InodeAttributes{Nlink: 1, Mode: os.ModeDir | 0755},
	}
	op.Respond(nil)
}
