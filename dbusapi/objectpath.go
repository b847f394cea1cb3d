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

// Package dbusapi implements the public D-Bus API surface: a
// godbus/dbus/v5 service exposing the object registry and the operation
// handlers at a fixed root path, firing the entity lifecycle signals
// reconcile.Core and poller.Poller drive through domain.ChangeSink.
package dbusapi

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	// BusName is the well-known name the daemon requests on the system bus.
	BusName = "org.blockd.Daemon1"
	// RootPath is the fixed object root the daemon is exported under.
	RootPath = dbus.ObjectPath("/org/blockd/Daemon1")
	DeviceIface = "org.blockd.Device1"
	AdapterIface = "org.blockd.Adapter1"
	PortIface = "org.blockd.Port1"
	ExpanderIface = "org.blockd.Expander1"
	ManagerIface = "org.blockd.Manager1"
)

// devicePath maps an object-id to the object path hosting its Device1
// interface. Object-ids are already escaped to [A-Za-z0-9_] by
// domain.ObjectIDFromNativePath, which is also valid as a D-Bus path
// segment without further transformation.
func devicePath(objectID string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/devices/%s", RootPath, objectID))
}

func adapterPath(objectID string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/adapters/%s", RootPath, objectID))
}

func portPath(objectID string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/ports/%s", RootPath, objectID))
}

func expanderPath(objectID string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/expanders/%s", RootPath, objectID))
}

// objectIDFromDevicePath extracts the trailing object-id segment from any of
// the path shapes above, for method arguments that carry back an object path
// the manager must resolve against the registry.
func objectIDFromDevicePath(path dbus.ObjectPath) string {
	s := string(path)
	idx := strings.LastIndex(s, "/")
	if idx < 0 {
		return s
	}
	return s[idx+1:]
}
