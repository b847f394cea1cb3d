package domain

// MountRecord is a single entry of the daemon's mount-file store: a mount
// that blockd itself created.
type MountRecord struct {
	DeviceFile string
	MountPath string
	OwningUID uint32
	RemoveDirOnUnmount bool
}

// MountStoreIface persists the set of mounts blockd created across restarts.
type MountStoreIface interface {
	// Load reads the persisted store from disk.
	Load() error

	// Purge drops every record whose DeviceFile is not in liveDeviceFiles.
	Purge(liveDeviceFiles map[string]bool) error

	Add(rec MountRecord) error
	Remove(deviceFile string) error
	Get(deviceFile string) (MountRecord, bool)
	All() []MountRecord
}
