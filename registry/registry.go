//
// Copyright 2026 Blockd authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package registry implements the object registry, the single owner of
// every Device/Adapter/Port/Expander. Native-path lookups are served by a
// radix tree, the same structure (and the same library) the teacher's
// handler package uses to index FS paths to handlers (handler/handlerDB.go);
// the remaining keys (device-file, major/minor, object-id) are plain maps
// guarded by one RWMutex per entity kind, since the registry is only ever
// mutated from the single-threaded reactor but is read from
// concurrently by transport-goroutine lookups (dbusapi/).
package registry

import (
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/blockdaemon/blockd/domain"
)

func majorMinorKey(major, minor uint32) uint64 {
	return uint64(major)<<32 | uint64(minor)
}

type deviceIndex struct {
	sync.RWMutex
	byNativePath *iradix.Tree
	byDeviceFile map[string]*domain.Device
	byMajorMinor map[uint64]*domain.Device
	byObjectID map[string]*domain.Device
}

func newDeviceIndex() *deviceIndex {
	return &deviceIndex{
		byNativePath: iradix.New(),
		byDeviceFile: make(map[string]*domain.Device),
		byMajorMinor: make(map[uint64]*domain.Device),
		byObjectID: make(map[string]*domain.Device),
	}
}

// Registry implements domain.RegistryIface.
type Registry struct {
	devices *deviceIndex

	adapters *simpleIndex[*domain.Adapter]
	ports *simpleIndex[*domain.Port]
	expanders *simpleIndex[*domain.Expander]
}

var _ domain.RegistryIface = (*Registry)(nil)

func New() *Registry {
	return &Registry{
		devices: newDeviceIndex(),
		adapters: newSimpleIndex[*domain.Adapter](),
		ports: newSimpleIndex[*domain.Port](),
		expanders: newSimpleIndex[*domain.Expander](),
	}
}

// InsertDevice adds d under all four keys at once.
func (r *Registry) InsertDevice(d *domain.Device) {
	r.devices.Lock()
	defer r.devices.Unlock()

	tree, _, _ := r.devices.byNativePath.Insert([]byte(d.NativePath()), d)
	r.devices.byNativePath = tree
	r.devices.byObjectID[d.ObjectID()] = d
	if d.Identity.DeviceFile != "" {
		r.devices.byDeviceFile[d.Identity.DeviceFile] = d
	}
	if d.Identity.Major != 0 || d.Identity.Minor != 0 {
		r.devices.byMajorMinor[majorMinorKey(d.Identity.Major, d.Identity.Minor)] = d
	}
}

// RemoveDevice drops d from all four keys.
func (r *Registry) RemoveDevice(d *domain.Device) {
	r.devices.Lock()
	defer r.devices.Unlock()
	r.removeDeviceLocked(d, d.NativePath(), d.Identity.DeviceFile, d.Identity.Major, d.Identity.Minor)
}

func (r *Registry) removeDeviceLocked(d *domain.Device, nativePath, deviceFile string, major, minor uint32) {
	tree, _, _ := r.devices.byNativePath.Delete([]byte(nativePath))
	r.devices.byNativePath = tree
	delete(r.devices.byObjectID, d.ObjectID())
	if deviceFile != "" {
		delete(r.devices.byDeviceFile, deviceFile)
	}
	if major != 0 || minor != 0 {
		delete(r.devices.byMajorMinor, majorMinorKey(major, minor))
	}
}

// ReinsertDevice implements the remove-all-keys / mutate-already-done /
// re-insert-all-keys dance requires around any "change" event
// that may have altered a key (device-file rename on a kernel "move"
// uevent, or a major/minor assignment). Callers must have already mutated d
// in place; oldNativePath/oldDeviceFile/oldMajor/oldMinor are the key values
// before the mutation.
func (r *Registry) ReinsertDevice(d *domain.Device, oldNativePath, oldDeviceFile string, oldMajor, oldMinor uint32) {
	r.devices.Lock()
	defer r.devices.Unlock()

	r.removeDeviceLocked(d, oldNativePath, oldDeviceFile, oldMajor, oldMinor)
	delete(r.devices.byObjectID, domain.ObjectIDFromNativePath(oldNativePath))

	tree, _, _ := r.devices.byNativePath.Insert([]byte(d.NativePath()), d)
	r.devices.byNativePath = tree
	r.devices.byObjectID[d.ObjectID()] = d
	if d.Identity.DeviceFile != "" {
		r.devices.byDeviceFile[d.Identity.DeviceFile] = d
	}
	if d.Identity.Major != 0 || d.Identity.Minor != 0 {
		r.devices.byMajorMinor[majorMinorKey(d.Identity.Major, d.Identity.Minor)] = d
	}
}

func (r *Registry) DeviceByNativePath(p string) (*domain.Device, bool) {
	r.devices.RLock()
	defer r.devices.RUnlock()
	v, ok := r.devices.byNativePath.Get([]byte(p))
	if !ok {
		return nil, false
	}
	return v.(*domain.Device), true
}

func (r *Registry) DeviceByDeviceFile(f string) (*domain.Device, bool) {
	r.devices.RLock()
	defer r.devices.RUnlock()
	d, ok := r.devices.byDeviceFile[f]
	return d, ok
}

func (r *Registry) DeviceByMajorMinor(major, minor uint32) (*domain.Device, bool) {
	r.devices.RLock()
	defer r.devices.RUnlock()
	d, ok := r.devices.byMajorMinor[majorMinorKey(major, minor)]
	return d, ok
}

func (r *Registry) DeviceByObjectID(id string) (*domain.Device, bool) {
	r.devices.RLock()
	defer r.devices.RUnlock()
	d, ok := r.devices.byObjectID[id]
	return d, ok
}

func (r *Registry) Devices() []*domain.Device {
	r.devices.RLock()
	defer r.devices.RUnlock()
	out := make([]*domain.Device, 0, len(r.devices.byObjectID))
	for _, d := range r.devices.byObjectID {
		out = append(out, d)
	}
	return out
}

// Adapters / Ports / Expanders share the simpler two-key (native-path,
// object-id) shape.

func (r *Registry) InsertAdapter(a *domain.Adapter) { r.adapters.insert(a.NativePath(), a.ObjectID(), a) }
func (r *Registry) RemoveAdapter(a *domain.Adapter) { r.adapters.remove(a.NativePath(), a.ObjectID()) }
func (r *Registry) AdapterByNativePath(p string) (*domain.Adapter, bool) { return r.adapters.byPath(p) }
func (r *Registry) AdapterByObjectID(id string) (*domain.Adapter, bool) { return r.adapters.byID(id) }
func (r *Registry) Adapters() []*domain.Adapter { return r.adapters.all() }

func (r *Registry) InsertPort(p *domain.Port) { r.ports.insert(p.NativePath(), p.ObjectID(), p) }
func (r *Registry) RemovePort(p *domain.Port) { r.ports.remove(p.NativePath(), p.ObjectID()) }
func (r *Registry) PortByNativePath(p string) (*domain.Port, bool) { return r.ports.byPath(p) }
func (r *Registry) PortByObjectID(id string) (*domain.Port, bool) { return r.ports.byID(id) }
func (r *Registry) Ports() []*domain.Port { return r.ports.all() }

func (r *Registry) InsertExpander(e *domain.Expander) { r.expanders.insert(e.NativePath(), e.ObjectID(), e) }
func (r *Registry) RemoveExpander(e *domain.Expander) { r.expanders.remove(e.NativePath(), e.ObjectID()) }
func (r *Registry) ExpanderByNativePath(p string) (*domain.Expander, bool) { return r.expanders.byPath(p) }
func (r *Registry) ExpanderByObjectID(id string) (*domain.Expander, bool) { return r.expanders.byID(id) }
func (r *Registry) Expanders() []*domain.Expander { return r.expanders.all() }
