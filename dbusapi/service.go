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
	"errors"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/sirupsen/logrus"

	"github.com/blockdaemon/blockd/domain"
	"github.com/blockdaemon/blockd/ops"
)

// errBusNameTaken is returned when another process already owns BusName.
var errBusNameTaken = errors.New("dbusapi: " + BusName + " is already owned")

// Service is the D-Bus transport adapter: it owns the bus connection,
// exports one object per live entity, and is itself the domain.ChangeSink
// reconcile.Core and poller.Poller fire into.
type Service struct {
	conn *dbus.Conn
	tracker *callerTracker

	reg domain.RegistryIface
	inhibitors domain.InhibitorRegistryIface
	handlers *ops.Handlers
	mdSlots *ops.MDSlotScanner

	mu sync.Mutex
	exported map[string]dbus.ObjectPath // object-id -> path, for cleanup on remove
}

var _ domain.ChangeSink = (*Service)(nil)

// New connects to the system bus, requests BusName and prepares the caller
// tracker. Callers must then call Start to export the root manager object
// and begin coldplug export of existing entities.
func New(reg domain.RegistryIface, inhibitors domain.InhibitorRegistryIface, handlers *ops.Handlers, mdSlots *ops.MDSlotScanner) (*Service, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, errBusNameTaken
	}

	tracker, err := newCallerTracker(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Service{
		conn: conn, tracker: tracker,
		reg: reg, inhibitors: inhibitors, handlers: handlers, mdSlots: mdSlots,
		exported: make(map[string]dbus.ObjectPath),
	}, nil
}

// Start exports the fixed-path manager object and an object per entity
// already in the registry (the coldplug set, by the time daemon/ calls
// this).
func (s *Service) Start() error {
	mgr := &managerObject{svc: s}
	if err := s.conn.Export(mgr, RootPath, ManagerIface); err != nil {
		return err
	}
	node := &introspect.Node{
		Name: string(RootPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{Name: ManagerIface},
		},
	}
	if err := s.conn.Export(introspect.NewIntrospectable(node), RootPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return err
	}

	for _, d := range s.reg.Devices() {
		s.exportDevice(d)
	}
	for _, a := range s.reg.Adapters() {
		s.exportAdapter(a)
	}
	for _, p := range s.reg.Ports() {
		s.exportPort(p)
	}
	for _, e := range s.reg.Expanders() {
		s.exportExpander(e)
	}
	return nil
}

func (s *Service) Close() error {
	return s.conn.Close()
}

func (s *Service) exportDevice(d *domain.Device) {
	path := devicePath(d.ObjectID())
	obj := &deviceObject{svc: s, dev: d}
	if err := s.conn.Export(obj, path, DeviceIface); err != nil {
		logrus.Errorf("dbusapi: export device %s: %v", path, err)
		return
	}
	s.mu.Lock()
	s.exported[d.ObjectID()] = path
	s.mu.Unlock()
}

func (s *Service) exportAdapter(a *domain.Adapter) {
	path := adapterPath(a.ObjectID())
	if err := s.conn.Export(&readOnlyObject{}, path, AdapterIface); err != nil {
		logrus.Errorf("dbusapi: export adapter %s: %v", path, err)
		return
	}
	s.mu.Lock()
	s.exported[a.ObjectID()] = path
	s.mu.Unlock()
}

func (s *Service) exportPort(p *domain.Port) {
	path := portPath(p.ObjectID())
	if err := s.conn.Export(&readOnlyObject{}, path, PortIface); err != nil {
		logrus.Errorf("dbusapi: export port %s: %v", path, err)
		return
	}
	s.mu.Lock()
	s.exported[p.ObjectID()] = path
	s.mu.Unlock()
}

func (s *Service) exportExpander(e *domain.Expander) {
	path := expanderPath(e.ObjectID())
	if err := s.conn.Export(&readOnlyObject{}, path, ExpanderIface); err != nil {
		logrus.Errorf("dbusapi: export expander %s: %v", path, err)
		return
	}
	s.mu.Lock()
	s.exported[e.ObjectID()] = path
	s.mu.Unlock()
}

func (s *Service) unexport(objectID string) {
	s.mu.Lock()
	path, ok := s.exported[objectID]
	delete(s.exported, objectID)
	s.mu.Unlock()
	if ok {
		for _, iface := range []string{DeviceIface, AdapterIface, PortIface, ExpanderIface} {
			_ = s.conn.Export(nil, path, iface)
		}
	}
}

// readOnlyObject backs Adapter1/Port1/Expander1 interfaces, which
// exposes only as property bags with no per-entity operations.
type readOnlyObject struct{}

// EntityAdded/Changed/Removed/JobChanged implement domain.ChangeSink,
// exporting or unexporting the entity's object and emitting the matching
// signal off the fixed root path.
func (s *Service) EntityAdded(e domain.Entity) {
	switch v := e.(type) {
	case *domain.Device:
		s.exportDevice(v)
		s.emit("DeviceAdded", devicePath(v.ObjectID()))
	case *domain.Adapter:
		s.exportAdapter(v)
		s.emit("AdapterAdded", adapterPath(v.ObjectID()))
	case *domain.Port:
		s.exportPort(v)
		s.emit("PortAdded", portPath(v.ObjectID()))
	case *domain.Expander:
		s.exportExpander(v)
		s.emit("ExpanderAdded", expanderPath(v.ObjectID()))
	}
}

func (s *Service) EntityChanged(e domain.Entity) {
	switch v := e.(type) {
	case *domain.Device:
		s.emit("DeviceChanged", devicePath(v.ObjectID()))
	case *domain.Adapter:
		s.emit("AdapterChanged", adapterPath(v.ObjectID()))
	case *domain.Port:
		s.emit("PortChanged", portPath(v.ObjectID()))
	case *domain.Expander:
		s.emit("ExpanderChanged", expanderPath(v.ObjectID()))
	}
}

func (s *Service) EntityRemoved(e domain.Entity) {
	s.unexport(e.ObjectID())
	switch e.(type) {
	case *domain.Device:
		s.emit("DeviceRemoved", devicePath(e.ObjectID()))
	case *domain.Adapter:
		s.emit("AdapterRemoved", adapterPath(e.ObjectID()))
	case *domain.Port:
		s.emit("PortRemoved", portPath(e.ObjectID()))
	case *domain.Expander:
		s.emit("ExpanderRemoved", expanderPath(e.ObjectID()))
	}
}

func (s *Service) JobChanged(d *domain.Device) {
	s.emit("JobChanged", devicePath(d.ObjectID()))
}

func (s *Service) emit(member string, path dbus.ObjectPath) {
	if err := s.conn.Emit(RootPath, ManagerIface+"."+member, path); err != nil {
		logrus.Debugf("dbusapi: emit %s: %v", member, err)
	}
}
