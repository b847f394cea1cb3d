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

package dbusapi

import (
	"context"

	"github.com/godbus/dbus/v5"

	"github.com/blockdaemon/blockd/apierr"
	"github.com/blockdaemon/blockd/domain"
)

// managerObject backs org.blockd.Manager1 at the fixed RootPath: the
// daemon-wide enumeration, lookup, whole-service inhibition and
// daemon-level RAID operations.
type managerObject struct {
	svc *Service
}

func (m *managerObject) EnumerateDevices() ([]dbus.ObjectPath, *dbus.Error) {
	var out []dbus.ObjectPath
	for _, d := range m.svc.reg.Devices() {
		out = append(out, devicePath(d.ObjectID()))
	}
	return out, nil
}

func (m *managerObject) EnumerateAdapters() ([]dbus.ObjectPath, *dbus.Error) {
	var out []dbus.ObjectPath
	for _, a := range m.svc.reg.Adapters() {
		out = append(out, adapterPath(a.ObjectID()))
	}
	return out, nil
}

func (m *managerObject) EnumerateExpanders() ([]dbus.ObjectPath, *dbus.Error) {
	var out []dbus.ObjectPath
	for _, e := range m.svc.reg.Expanders() {
		out = append(out, expanderPath(e.ObjectID()))
	}
	return out, nil
}

func (m *managerObject) EnumeratePorts() ([]dbus.ObjectPath, *dbus.Error) {
	var out []dbus.ObjectPath
	for _, p := range m.svc.reg.Ports() {
		out = append(out, portPath(p.ObjectID()))
	}
	return out, nil
}

func (m *managerObject) EnumerateDeviceFiles() ([]string, *dbus.Error) {
	var out []string
	for _, d := range m.svc.reg.Devices() {
		if d.Identity.DeviceFile != "" {
			out = append(out, d.Identity.DeviceFile)
		}
	}
	return out, nil
}

func (m *managerObject) FindDeviceByDeviceFile(deviceFile string) (dbus.ObjectPath, *dbus.Error) {
	d, ok := m.svc.reg.DeviceByDeviceFile(deviceFile)
	if !ok {
		return "/", busErr(apierr.New(apierr.NotSupported, "no device for %s", deviceFile))
	}
	return devicePath(d.ObjectID()), nil
}

func (m *managerObject) FindDeviceByMajorMinor(major, minor uint32) (dbus.ObjectPath, *dbus.Error) {
	d, ok := m.svc.reg.DeviceByMajorMinor(major, minor)
	if !ok {
		return "/", busErr(apierr.New(apierr.NotSupported, "no device for %d:%d", major, minor))
	}
	return devicePath(d.ObjectID()), nil
}

func (m *managerObject) DriveInhibitAllPolling(sender dbus.Sender) (string, *dbus.Error) {
	caller := newBusCaller(m.svc.tracker, sender)
	cookie, err := m.svc.inhibitors.Create(domain.InhibitPolling, caller, nil, 0)
	if err != nil {
		return "", busErr(err)
	}
	if m.svc.handlers.Poller != nil {
		m.svc.handlers.Poller.Recompute()
	}
	return cookie, nil
}

func (m *managerObject) DriveUninhibitAllPolling(cookie string, sender dbus.Sender) *dbus.Error {
	caller := newBusCaller(m.svc.tracker, sender)
	if err := m.svc.inhibitors.Release(domain.InhibitPolling, caller, cookie); err != nil {
		return busErr(err)
	}
	if m.svc.handlers.Poller != nil {
		m.svc.handlers.Poller.Recompute()
	}
	return nil
}

func (m *managerObject) DriveSetAllSpindownTimeouts(seconds int32, sender dbus.Sender) (string, *dbus.Error) {
	caller := newBusCaller(m.svc.tracker, sender)
	cookie, err := m.svc.inhibitors.Create(domain.InhibitSpindown, caller, nil, int(seconds))
	if err != nil {
		return "", busErr(err)
	}
	return cookie, nil
}

func (m *managerObject) DriveUnsetAllSpindownTimeouts(cookie string, sender dbus.Sender) *dbus.Error {
	caller := newBusCaller(m.svc.tracker, sender)
	if err := m.svc.inhibitors.Release(domain.InhibitSpindown, caller, cookie); err != nil {
		return busErr(err)
	}
	return nil
}

// Inhibit implements the whole-daemon inhibitor of step 1.
func (m *managerObject) Inhibit(why string, sender dbus.Sender) (string, *dbus.Error) {
	caller := newBusCaller(m.svc.tracker, sender)
	cookie, err := m.svc.inhibitors.Create(domain.InhibitService, caller, nil, 0)
	if err != nil {
		return "", busErr(err)
	}
	return cookie, nil
}

func (m *managerObject) Uninhibit(cookie string, sender dbus.Sender) *dbus.Error {
	caller := newBusCaller(m.svc.tracker, sender)
	if err := m.svc.inhibitors.Release(domain.InhibitService, caller, cookie); err != nil {
		return busErr(err)
	}
	return nil
}

// MDCreate is the daemon-level RAID operation of ("the RAID/LVM
// daemon-level operations"): there is no pre-existing subject Device, so it
// lives on the manager rather than on a Device1 object.
func (m *managerObject) MDCreate(level string, componentPaths []dbus.ObjectPath, name string, sender dbus.Sender) (dbus.ObjectPath, *dbus.Error) {
	caller := newBusCaller(m.svc.tracker, sender)

	var components []*domain.Device
	for _, p := range componentPaths {
		objectID := objectIDFromDevicePath(p)
		d, ok := m.svc.reg.DeviceByObjectID(objectID)
		if !ok {
			return "/", busErr(apierr.New(apierr.NotSupported, "no device at %s", p))
		}
		components = append(components, d)
	}

	created, err := m.svc.handlers.CreateMD(context.Background(), m.svc.mdSlots, level, components, name, caller)
	if err != nil {
		return "/", busErr(err)
	}
	return devicePath(created.ObjectID()), nil
}
