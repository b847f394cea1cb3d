package domain

import "time"

// IDUsage mirrors Device.id-usage.
type IDUsage string

const (
	IDUsageFilesystem IDUsage = "filesystem"
	IDUsageCrypto IDUsage = "crypto"
	IDUsageRaid IDUsage = "raid"
	IDUsageOther IDUsage = "other"
	IDUsageEmpty IDUsage = ""
)

// Identity groups the attributes every Device carries about its device node.
type Identity struct {
	DeviceFile string
	DeviceFilePresentation string
	DeviceFileByID []string
	DeviceFileByPath []string
	Major uint32
	Minor uint32
}

// Medium groups the raw medium/size attributes.
type Medium struct {
	Size uint64
	BlockSize uint64
	IsRemovable bool
	IsMediaAvailable bool
	MediaDetectionTime time.Time
	IsReadOnly bool
}

// FilesystemID groups the blkid-derived identity of the content on a device.
type FilesystemID struct {
	Usage IDUsage
	Type string
	Version string
	UUID string
	Label string
}

// Partition groups the attributes a Device has when it is a partition.
type Partition struct {
	IsPartition bool
	Slave string // object-id of the partition-table Device
	Scheme string
	Type string
	Label string
	UUID string
	Flags []string
	Number int
	Offset uint64
	Size uint64
	AlignmentOffset uint64
}

// PartitionTable groups the attributes a Device has when it hosts a
// partition table.
type PartitionTable struct {
	IsPartitionTable bool
	Scheme string
	Count int
}

// Drive groups the attributes a Device has when is-drive is true.
type Drive struct {
	IsDrive bool
	Vendor string
	Model string
	Revision string
	Serial string
	WWN string
	ConnectionInterface string
	ConnectionSpeed uint64
	MediaCompatibility []string
	Media string
	IsMediaEjectable bool
	CanDetach bool
	CanSpindown bool
	IsRotational bool
	RotationRate int
	WriteCache string
	Adapter string // object-id
	Ports []string
	SimilarDevices []string
	AtaSmartStatus string
	AtaSmartBlob []byte
	AtaSmartTimeCollect time.Time
	SpindownTimeoutSecs int
}

// Optical groups optical-disc attributes.
type Optical struct {
	IsOpticalDisc bool
	IsBlank bool
	IsAppendable bool
	IsClosed bool
	NumTracks int
	NumAudioTracks int
	NumSessions int
}

// Luks groups LUKS ciphertext/cleartext attributes.
type Luks struct {
	IsLuks bool
	LuksHolder string // object-id
	IsLuksCleartext bool
	CleartextSlave string // object-id of ciphertext device
	CleartextUnlockedUID uint32
}

// MDComponent groups attributes of a device that is a member of an md array.
type MDComponent struct {
	IsComponent bool
	Level string
	Position int
	NumRaidDevices int
	UUID string
	HomeHost string
	Name string
	Version string
	Holder string // object-id of the md array
	State []string
}

// MD groups attributes of a device that is a md array itself.
type MD struct {
	IsMD bool
	State string
	Level string
	NumRaidDevices int
	UUID string
	HomeHost string
	Name string
	Version string
	Slaves []string // object-ids of component devices
	IsDegraded bool
	SyncAction string
	SyncPercentage float64
	SyncSpeed uint64
}

// LVM2LV groups attributes of a device that is a logical volume.
type LVM2LV struct {
	IsLV bool
	Name string
	UUID string
	GroupName string
	GroupUUID string
}

// LVM2Group describes the volume group a physical volume belongs to.
type LVM2Group struct {
	Name string
	UUID string
	Size uint64
	UnallocatedSize uint64
	SequenceNumber uint64
	ExtentSize uint64
	PhysicalVolumes []string // uuids
	LogicalVolumes []string // uuids
}

// LVM2PV groups attributes of a device that is a physical volume.
type LVM2PV struct {
	IsPV bool
	UUID string
	NumMetadataAreas int
	Group LVM2Group
}

// DMMP groups multipath-map attributes.
type DMMP struct {
	IsDMMP bool
	Name string
	Slaves []string
	Parameters string
}

// DMMPComponent groups multipath-path-member attributes.
type DMMPComponent struct {
	IsComponent bool
	Holder string
}

// Loop groups loop-device attributes.
type Loop struct {
	IsLoop bool
	Filename string
}

// MountState groups the mount-monitor-derived attributes.
type MountState struct {
	IsMounted bool
	MountPaths []string
	MountedByUID uint32
}

// Presentation groups presentation hints.
type Presentation struct {
	Hide bool
	NoPolicy bool
	Name string
	IconName string
}

// JobState groups the job-engine-derived attributes visible on a Device.
type JobState struct {
	InProgress bool
	ID string
	InitiatedByUID uint32
	IsCancellable bool
	Percentage float64
}

// Device is the central entity: every block device, partition, LUKS
// mapping and LV is represented as one.
type Device struct {
	EntityBase

	Identity
	Medium
	FilesystemID
	Partition
	PartitionTable
	Drive
	Optical
	Luks
	MDComponent
	MD
	LVM2LV
	LVM2PV
	DMMP
	DMMPComponent
	Loop
	MountState
	Presentation
	JobState

	IsSystemInternal bool

	// Internal-only fields (not exported on the public API surface).
	SlavesObjPath []string
	HoldersObjPath []string
	DMName string

	// PollingInhibitorCount / SpindownInhibitorCount are the numbers of
	// per-device inhibitors outstanding, referenced from inhibit.Registry.
	PollingInhibitorCount int
	SpindownInhibitorCount int
}

func NewDevice(nativePath string, detectionTime time.Time) *Device {
	return &Device{EntityBase: NewEntityBase(KindDevice, nativePath, detectionTime)}
}

// IsBusyLocal implements the "Busy" predicate of, excluding the
// partition/extended-partition recursion which callers (ops/) perform
// themselves since it needs registry lookups this type cannot do alone.
func (d *Device) IsBusyLocal() bool {
	if d.JobState.InProgress {
		return true
	}
	if d.MountState.IsMounted {
		return true
	}
	if len(d.HoldersObjPath) > 0 && !d.DMMP.IsDMMP {
		return true
	}
	return false
}

// Adapter models a storage controller.
type Adapter struct {
	EntityBase

	Fabric string
	Vendor string
	Model string
	Driver string
	NumPorts int
	NativePathPrefix string
}

func NewAdapter(nativePath string, detectionTime time.Time) *Adapter {
	return &Adapter{EntityBase: NewEntityBase(KindAdapter, nativePath, detectionTime)}
}

// Port models a channel attached to an Adapter.
type Port struct {
	EntityBase

	Adapter string // object-id
	Number int
	ConnectorType string
}

func NewPort(nativePath string, detectionTime time.Time) *Port {
	return &Port{EntityBase: NewEntityBase(KindPort, nativePath, detectionTime)}
}

// Encloses reports whether the given sysfs path is enclosed by this port's
// native path, i.e. a device discovering its controlling port walks up its
// own native path looking for a registered Port whose Encloses is true.
func (p *Port) Encloses(path string) bool {
	return pathHasPrefix(path, p.NativePath())
}

// Expander models a SAS expander.
type Expander struct {
	EntityBase

	NumPorts int
}

func NewExpander(nativePath string, detectionTime time.Time) *Expander {
	return &Expander{EntityBase: NewEntityBase(KindExpander, nativePath, detectionTime)}
}

func (e *Expander) Encloses(path string) bool {
	return pathHasPrefix(path, e.NativePath())
}

func pathHasPrefix(path, prefix string) bool {
	if len(path) < len(prefix) {
		return false
	}
	if path[:len(prefix)] != prefix {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
