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

package eventsource

import (
	"path"
	"sort"

	"github.com/spf13/afero"

	"github.com/blockdaemon/blockd/domain"
)

// Coldplug walks the sysfs class directories at startup and synthesizes one
// "add" event per entry found, in the class order scsi_host -> sas_phy ->
// sas_expander -> pci -> block so adapters and ports exist in the registry
// before the block devices that reference them arrive.
type Coldplug struct {
	fs afero.Fs
	sysRoot string
}

func NewColdplug(fs afero.Fs, sysRoot string) *Coldplug {
	return &Coldplug{fs: fs, sysRoot: sysRoot}
}

var coldplugClasses = []struct {
	dir string
	subsystem domain.Subsystem
}{
	{"class/scsi_host", domain.SubsystemSCSIHost},
	{"class/sas_phy", domain.SubsystemSASPhy},
	{"class/sas_expander", domain.SubsystemSASExpander},
	{"bus/pci/devices", domain.SubsystemPCI},
	{"block", domain.SubsystemBlock},
}

// Walk emits one synthesized add Event per discovered device, in
// breadth-within-class, classes-in-fixed-order, so callers that feed these
// straight into reconcile.Core build up adapters and ports before the
// devices that reference them.
func (c *Coldplug) Walk(emit func(domain.Event)) error {
	for _, class := range coldplugClasses {
		dirPath := path.Join(c.sysRoot, class.dir)
		entries, err := afero.ReadDir(c.fs, dirPath)
		if err != nil {
			continue // class directory absent on this kernel/config, skip
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)

		for _, name := range names {
			nativePath := path.Join(dirPath, name)
			raw, _ := afero.ReadFile(c.fs, path.Join(nativePath, "uevent"))
			ev := ueventFromAttrs(nativePath, domain.ActionAdd, raw)
			if ev.Subsystem == "" {
				ev.Subsystem = class.subsystem
			}
			emit(ev)
		}
	}
	return nil
}
