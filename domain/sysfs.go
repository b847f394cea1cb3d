package domain

// ReaderIface provides typed, independent, non-mutating reads rooted at a
// sysfs-like path. Every read error yields the type's zero value — sysfs
// attributes legitimately disappear mid-read during device removal
//, so callers never branch on these errors for control flow,
// only for debug logging.
type ReaderIface interface {
	ReadString(relPath string) (string, bool)
	ReadInt(relPath string) (int, bool)
	ReadUint64(relPath string) (uint64, bool)
	ReadBool(relPath string) (bool, bool)
	ReadSymlink(relPath string) (string, bool)
	Exists(relPath string) bool

	// WithRoot returns a Reader rooted at a sub-path of this one, used to
	// read attributes of a specific device's sysfs directory.
	WithRoot(relPath string) ReaderIface

	// Root returns the absolute path this reader is rooted at.
	Root() string
}
