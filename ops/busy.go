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

// mbr extended-partition type bytes.
var mbrExtendedTypes = map[string]bool{"0x05": true, "0x0f": true, "0x85": true}

// IsBusy implements the transitive predicate of: the local,
// non-transitive part lives on domain.Device.IsBusyLocal; this adds the
// registry-aware recursion into partitions and extended-partition logical
// volumes that Device itself cannot perform alone.
func IsBusy(reg domain.RegistryIface, dev *domain.Device, checkPartitions bool) bool {
	if dev.IsBusyLocal() {
		return true
	}
	if checkPartitions && dev.PartitionTable.IsPartitionTable {
		for _, p := range partitionsOf(reg, dev) {
			if IsBusy(reg, p, checkPartitions) {
				return true
			}
		}
	}
	if dev.Partition.IsPartition && mbrExtendedTypes[dev.Partition.Type] {
		for _, p := range logicalPartitionsOf(reg, dev) {
			if IsBusy(reg, p, checkPartitions) {
				return true
			}
		}
	}
	return false
}

func partitionsOf(reg domain.RegistryIface, table *domain.Device) []*domain.Device {
	var out []*domain.Device
	tableID := table.ObjectID()
	for _, d := range reg.Devices() {
		if d.Partition.IsPartition && d.Partition.Slave == tableID {
			out = append(out, d)
		}
	}
	return out
}

// logicalPartitionsOf returns the logical partitions nested inside an
// extended partition: those whose partition-table slave is the extended
// partition's own partition-table device and whose partition number is
// greater than ext's.
func logicalPartitionsOf(reg domain.RegistryIface, ext *domain.Device) []*domain.Device {
	var out []*domain.Device
	for _, d := range reg.Devices() {
		if d == ext || !d.Partition.IsPartition {
			continue
		}
		if d.Partition.Slave == ext.Partition.Slave && d.Partition.Number > ext.Partition.Number {
			out = append(out, d)
		}
	}
	return out
}
