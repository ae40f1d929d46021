// Package superblock implements the on-disk codec for layer superblocks.
//
// A superblock is exactly BlockSize bytes and describes one layer: its
// magic/version stamp, dirty/rdwr flags, mount count, root inode, registry
// index, sibling/child chain pointers, the inode-block chain head, and the
// device's total block count. The layout is fixed-width so that a
// superblock can be read or written with a single unbuffered block I/O.
package superblock

import (
	"encoding/binary"
	"fmt"
)

const (
	// BlockSize is the size in bytes of every on-disk block, including the
	// superblock itself.
	BlockSize = 4096

	// Magic identifies a block written by this filesystem.
	Magic uint64 = 0x6c636673736233 // "lcfssb3"

	// Version is the on-disk superblock format version this codec reads and
	// writes. A mismatch forces a reformat (see layerfs.Mount).
	Version uint32 = 1
)

// Flag bits stored in Super.Flags.
const (
	FlagDirty uint32 = 1 << 0
	FlagRDWR  uint32 = 1 << 1
)

// Super is the decoded form of an on-disk superblock.
type Super struct {
	Magic      uint64
	Version    uint32
	Flags      uint32
	Mounts     uint64
	Root       uint64
	Index      uint32
	NextSnap   uint64 // sb_next_snap: block address of next sibling's superblock, 0 if none
	ChildSnap  uint64 // sb_child_snap: block address of first child's superblock, 0 if none
	InodeBlock uint64 // sb_inode_block: chain head of flushed inode-index blocks
	TBlocks    uint64 // total blocks on the device
}

// wireSize is the number of bytes actually occupied on disk; the remainder
// of the block is reserved and written as zero.
const wireSize = 8 + 4 + 4 + 8 + 8 + 4 + 8 + 8 + 8 + 8

func init() {
	if wireSize > BlockSize {
		panic("superblock: wire layout exceeds BlockSize")
	}
}

// Encode serializes s into a freshly allocated, zero-padded BlockSize buffer.
func Encode(s *Super) []byte {
	buf := make([]byte, BlockSize)
	off := 0
	putU64 := func(v uint64) { binary.LittleEndian.PutUint64(buf[off:], v); off += 8 }
	putU32 := func(v uint32) { binary.LittleEndian.PutUint32(buf[off:], v); off += 4 }

	putU64(s.Magic)
	putU32(s.Version)
	putU32(s.Flags)
	putU64(s.Mounts)
	putU64(s.Root)
	putU32(s.Index)
	putU64(s.NextSnap)
	putU64(s.ChildSnap)
	putU64(s.InodeBlock)
	putU64(s.TBlocks)
	return buf
}

// Decode parses a BlockSize buffer produced by Encode.
func Decode(buf []byte) (*Super, error) {
	if len(buf) < wireSize {
		return nil, fmt.Errorf("superblock: short buffer: %d bytes", len(buf))
	}
	off := 0
	getU64 := func() uint64 { v := binary.LittleEndian.Uint64(buf[off:]); off += 8; return v }
	getU32 := func() uint32 { v := binary.LittleEndian.Uint32(buf[off:]); off += 4; return v }

	s := &Super{}
	s.Magic = getU64()
	s.Version = getU32()
	s.Flags = getU32()
	s.Mounts = getU64()
	s.Root = getU64()
	s.Index = getU32()
	s.NextSnap = getU64()
	s.ChildSnap = getU64()
	s.InodeBlock = getU64()
	s.TBlocks = getU64()
	return s, nil
}

// Valid reports whether s carries this codec's magic and version.
func (s *Super) Valid() bool {
	return s.Magic == Magic && s.Version == Version
}

// Dirty reports whether the FlagDirty bit is set.
func (s *Super) Dirty() bool {
	return s.Flags&FlagDirty != 0
}

// Derive creates a fresh superblock for a new layer, carrying forward the
// device-wide magic/version/block-count stamp but starting with no graph
// links, mount count, or inode-block chain of its own.
func (s *Super) Derive(root uint64) *Super {
	return &Super{
		Magic:   s.Magic,
		Version: s.Version,
		Flags:   FlagRDWR,
		Root:    root,
		TBlocks: s.TBlocks,
	}
}
