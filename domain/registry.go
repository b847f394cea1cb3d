package domain

// RegistryIface is the object registry. Implemented by registry.Registry.
//
// Each entity kind has four lookup-key dictionaries:
// by native (kernel) path, by device file (Device only), by major/minor
// (Device only), and by object-id. Insert/remove is all-keys-at-once.
type RegistryIface interface {
	// Devices
	InsertDevice(d *Device)
	RemoveDevice(d *Device)
	ReinsertDevice(d *Device, oldNativePath, oldDeviceFile string, oldMajor, oldMinor uint32)
	DeviceByNativePath(p string) (*Device, bool)
	DeviceByDeviceFile(f string) (*Device, bool)
	DeviceByMajorMinor(major, minor uint32) (*Device, bool)
	DeviceByObjectID(id string) (*Device, bool)
	Devices() []*Device

	// Adapters
	InsertAdapter(a *Adapter)
	RemoveAdapter(a *Adapter)
	AdapterByNativePath(p string) (*Adapter, bool)
	AdapterByObjectID(id string) (*Adapter, bool)
	Adapters() []*Adapter

	// Ports
	InsertPort(p *Port)
	RemovePort(p *Port)
	PortByNativePath(path string) (*Port, bool)
	PortByObjectID(id string) (*Port, bool)
	Ports() []*Port

	// Expanders
	InsertExpander(e *Expander)
	RemoveExpander(e *Expander)
	ExpanderByNativePath(p string) (*Expander, bool)
	ExpanderByObjectID(id string) (*Expander, bool)
	Expanders() []*Expander
}
