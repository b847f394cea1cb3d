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

package ops

import (
	"github.com/blockdaemon/blockd/domain"
)

// fakeRegistry is the minimal domain.RegistryIface stub shared by this
// package's tests, mirroring reconcile's test fake but trimmed to what
// busy.go/partition.go/lvm2.go exercise (device lookups only).
type fakeRegistry struct {
	devices []*domain.Device
}

func (r *fakeRegistry) InsertDevice(d *domain.Device) { r.devices = append(r.devices, d) }
func (r *fakeRegistry) RemoveDevice(d *domain.Device) {}
func (r *fakeRegistry) ReinsertDevice(d *domain.Device, oldNativePath, oldDeviceFile string, oldMajor, oldMinor uint32) {
}
func (r *fakeRegistry) DeviceByNativePath(p string) (*domain.Device, bool) {
	for _, d := range r.devices {
		if d.NativePath() == p {
			return d, true
		}
	}
	return nil, false
}
func (r *fakeRegistry) DeviceByDeviceFile(f string) (*domain.Device, bool) {
	for _, d := range r.devices {
		if d.Identity.DeviceFile == f {
			return d, true
		}
	}
	return nil, false
}
func (r *fakeRegistry) DeviceByMajorMinor(major, minor uint32) (*domain.Device, bool) {
	for _, d := range r.devices {
		if d.Identity.Major == major && d.Identity.Minor == minor {
			return d, true
		}
	}
	return nil, false
}
func (r *fakeRegistry) DeviceByObjectID(id string) (*domain.Device, bool) {
	for _, d := range r.devices {
		if d.ObjectID() == id {
			return d, true
		}
	}
	return nil, false
}
func (r *fakeRegistry) Devices() []*domain.Device { return r.devices }

func (r *fakeRegistry) InsertAdapter(a *domain.Adapter) {}
func (r *fakeRegistry) RemoveAdapter(a *domain.Adapter) {}
func (r *fakeRegistry) AdapterByNativePath(p string) (*domain.Adapter, bool) { return nil, false }
func (r *fakeRegistry) AdapterByObjectID(id string) (*domain.Adapter, bool) { return nil, false }
func (r *fakeRegistry) Adapters() []*domain.Adapter { return nil }

func (r *fakeRegistry) InsertPort(p *domain.Port) {}
func (r *fakeRegistry) RemovePort(p *domain.Port) {}
func (r *fakeRegistry) PortByNativePath(path string) (*domain.Port, bool) { return nil, false }
func (r *fakeRegistry) PortByObjectID(id string) (*domain.Port, bool) { return nil, false }
func (r *fakeRegistry) Ports() []*domain.Port { return nil }

func (r *fakeRegistry) InsertExpander(e *domain.Expander) {}
func (r *fakeRegistry) RemoveExpander(e *domain.Expander) {}
func (r *fakeRegistry) ExpanderByNativePath(p string) (*domain.Expander, bool) { return nil, false }
func (r *fakeRegistry) ExpanderByObjectID(id string) (*domain.Expander, bool) { return nil, false }
func (r *fakeRegistry) Expanders() []*domain.Expander { return nil }

var _ domain.RegistryIface = (*fakeRegistry)(nil)
