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

// Package eventsource implements the raw kernel uevent feed (a
// netlink socket bound to NETLINK_KOBJECT_UEVENT) plus the startup
// coldplug sysfs walk and the /proc/mdstat watch that mirrors the
// priority-poll trick the original daemon used (g_io_add_watch with
// G_IO_PRI), reimplemented here with golang.org/x/sys/unix epoll since Go
// has no GLib mainloop equivalent.
package eventsource

import (
	"bytes"
	"strings"

	"github.com/blockdaemon/blockd/domain"
)

// parseUevent decodes a single NETLINK_KOBJECT_UEVENT datagram. Two wire
// formats exist on a live system: the kernel's own "ACTION@DEVPATH\0K=V\0..."
// and udevd's broadcast which prepends an 8-byte-aligned "libudev" magic
// header before the same body. Both are handled the way the rest of the
// ecosystem's pure-Go uevent readers do (see the hotplug-monitoring sample
// this package is grounded on).
func parseUevent(data []byte) *domain.Event {
	if len(data) == 0 {
		return nil
	}

	if bytes.HasPrefix(data, []byte("libudev")) {
		if idx := bytes.IndexByte(data, 0); idx >= 0 {
			data = bytes.TrimLeft(data[idx+1:], "\x00")
		} else {
			return nil
		}
	}

	parts := bytes.Split(data, []byte{0})
	if len(parts) == 0 || len(parts[0]) == 0 {
		return nil
	}

	header := string(parts[0])
	atIdx := strings.Index(header, "@")
	if atIdx < 1 {
		return nil
	}

	ev := &domain.Event{
		Action: domain.Action(header[:atIdx]),
		NativePath: header[atIdx+1:],
		Env: make(map[string]string),
	}

	for _, part := range parts[1:] {
		if len(part) == 0 {
			continue
		}
		kv := string(part)
		eqIdx := strings.Index(kv, "=")
		if eqIdx < 1 {
			continue
		}
		key, value := kv[:eqIdx], kv[eqIdx+1:]
		ev.Env[key] = value

		switch key {
		case "SUBSYSTEM":
			ev.Subsystem = domain.Subsystem(value)
		case "DEVNAME":
			if !strings.HasPrefix(value, "/") {
				value = "/dev/" + value
			}
			ev.DeviceFile = value
		case "MAJOR":
			ev.Major = parseUintOrZero(value)
		case "MINOR":
			ev.Minor = parseUintOrZero(value)
		}
	}

	return ev
}

func parseUintOrZero(s string) uint32 {
	var n uint64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + uint64(r-'0')
	}
	return uint32(n)
}

// ueventFromAttrs builds an Event the same shape parseUevent would, from the
// key=value lines of a sysfs "uevent" attribute file — used by Coldplug,
// which has no netlink datagram to parse but must populate the same Env map
// so update.Updater's filesystem-ID derivation behaves identically for
// devices discovered at startup and devices hot-plugged afterwards.
func ueventFromAttrs(nativePath string, action domain.Action, raw []byte) domain.Event {
	ev := domain.Event{Action: action, NativePath: nativePath, Env: make(map[string]string)}
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		eqIdx := strings.Index(line, "=")
		if eqIdx < 1 {
			continue
		}
		key, value := line[:eqIdx], line[eqIdx+1:]
		ev.Env[key] = value
		switch key {
		case "SUBSYSTEM":
			ev.Subsystem = domain.Subsystem(value)
		case "DEVNAME":
			if !strings.HasPrefix(value, "/") {
				value = "/dev/" + value
			}
			ev.DeviceFile = value
		case "MAJOR":
			ev.Major = parseUintOrZero(value)
		case "MINOR":
			ev.Minor = parseUintOrZero(value)
		}
	}
	return ev
}
