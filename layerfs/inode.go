package layerfs

// Inode handles are 64-bit values that encode both a registry slot and a
// per-layer inode number, so that any external caller holding only an
// inode number can find its owning layer without a side-channel (spec.md
// §6).
const (
	// indexShift splits a 64-bit handle into a high slot-index field and a
	// low per-layer inode-number field.
	indexShift  = 48
	handleMask  = (uint64(1) << indexShift) - 1
	maxLayerIdx = (uint64(1) << (64 - indexShift)) - 1
)

// MakeInodeHandle packs a registry slot and a per-layer inode number into
// one opaque 64-bit inode identifier.
func MakeInodeHandle(slot uint32, inode uint64) uint64 {
	return (uint64(slot) << indexShift) | (inode & handleMask)
}

// GetFsHandle extracts the registry slot index from an inode handle.
func GetFsHandle(ino uint64) uint32 {
	return uint32(ino >> indexShift)
}

// GetInodeHandle extracts the per-layer inode number from an inode handle.
func GetInodeHandle(ino uint64) uint64 {
	return ino & handleMask
}

// IsGlobalRoot reports whether ino's slot portion names the global layer
// (slot 0), the namespace lc_globalRoot checks membership in.
func IsGlobalRoot(ino uint64) bool {
	return GetFsHandle(ino) == 0
}
