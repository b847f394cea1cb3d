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
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/blockdaemon/blockd/apierr"
	"github.com/blockdaemon/blockd/domain"
)

// parsePartitionCreateStdout reads the two lines the partitioning helper
// prints: offset and size, in that order.
func parsePartitionCreateStdout(stdout string) (offset, size uint64, err error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) < 2 {
		return 0, 0, apierr.Failedf("partition-create helper printed %d lines, want 2", len(lines))
	}
	offset, err = strconv.ParseUint(strings.TrimSpace(lines[0]), 10, 64)
	if err != nil {
		return 0, 0, apierr.Failedf("partition-create helper: malformed offset %q", lines[0])
	}
	size, err = strconv.ParseUint(strings.TrimSpace(lines[1]), 10, 64)
	if err != nil {
		return 0, 0, apierr.Failedf("partition-create helper: malformed size %q", lines[1])
	}
	return offset, size, nil
}

func findPartitionByOffsetSize(reg domain.RegistryIface, table *domain.Device, offset, size uint64) (*domain.Device, bool) {
	tableID := table.ObjectID()
	for _, d := range reg.Devices() {
		if d.Partition.IsPartition && d.Partition.Slave == tableID && d.Partition.Offset == offset && d.Partition.Size == size {
			return d, true
		}
	}
	return nil, false
}

// CreatePartition implements Partition Create.
func (h *Handlers) CreatePartition(ctx context.Context, table *domain.Device, partType, label string, flags []string, offset, size uint64, fstype string, fsOptions []string, caller domain.Caller) (*domain.Device, error) {
	if !table.PartitionTable.IsPartitionTable {
		return nil, apierr.New(apierr.NotSupported, "%s is not a partition table", table.Identity.DeviceFile)
	}

	var created *domain.Device
	err := h.authorize(ctx, "org.blockd.partition-create", table, caller, func(ctx context.Context) error {
		argv := []string{"partition-create", table.Identity.DeviceFile, fmt.Sprintf("%d", offset), fmt.Sprintf("%d", size), partType, label}
		argv = append(argv, flags...)
		result, err := runJobSync(ctx, h.Jobs, table, domain.JobSpec{Name: "partition-create", Argv: argv, InitiatedByUID: caller.UID()})
		if err != nil {
			return err
		}

		actualOffset, actualSize, perr := parsePartitionCreateStdout(result.Stdout)
		if perr != nil {
			return perr
		}

		dev, werr := waitForDevice(ctx, h.Registry,
			func() (*domain.Device, bool) { return findPartitionByOffsetSize(h.Registry, table, actualOffset, actualSize) },
			func(*domain.Device) bool { return true },
			defaultConvergeTimeout, fmt.Sprintf("new partition on %s", table.Identity.DeviceFile))
		if werr != nil {
			return werr
		}
		created = dev
		h.synthesize(table)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if fstype != "" {
		if err := h.Create(ctx, created, fstype, fsOptions, caller); err != nil {
			return created, err
		}
	}
	return created, nil
}

// DeletePartition implements Partition Delete: refuses to
// delete an mbr extended partition while logical partitions still exist,
// and synthesizes a change on the enclosing table afterwards.
func (h *Handlers) DeletePartition(ctx context.Context, dev *domain.Device, caller domain.Caller) error {
	if !dev.Partition.IsPartition {
		return apierr.New(apierr.NotSupported, "%s is not a partition", dev.Identity.DeviceFile)
	}
	if mbrExtendedTypes[dev.Partition.Type] && len(logicalPartitionsOf(h.Registry, dev)) > 0 {
		return apierr.New(apierr.Busy, "%s is an extended partition with logical partitions", dev.Identity.DeviceFile)
	}
	if IsBusy(h.Registry, dev, true) {
		return apierr.New(apierr.Busy, "%s is busy", dev.Identity.DeviceFile)
	}

	table, _ := h.Registry.DeviceByObjectID(dev.Partition.Slave)

	return h.authorize(ctx, "org.blockd.partition-delete", dev, caller, func(ctx context.Context) error {
		_, err := runJobSync(ctx, h.Jobs, dev, domain.JobSpec{
			Name: "partition-delete", Argv: []string{"partition-delete", dev.Identity.DeviceFile}, InitiatedByUID: caller.UID(),
		})
		if err != nil {
			return err
		}
		if table != nil {
			h.synthesize(table)
		}
		return nil
	})
}

// CreatePartitionTable implements Partition Table Create.
func (h *Handlers) CreatePartitionTable(ctx context.Context, dev *domain.Device, scheme string, caller domain.Caller) error {
	if IsBusy(h.Registry, dev, true) {
		return apierr.New(apierr.Busy, "%s is busy", dev.Identity.DeviceFile)
	}

	return h.authorize(ctx, "org.blockd.partition-table-create", dev, caller, func(ctx context.Context) error {
		_, err := runJobSync(ctx, h.Jobs, dev, domain.JobSpec{
			Name: "partition-table-create", Argv: []string{"partition-table-create", dev.Identity.DeviceFile, scheme}, InitiatedByUID: caller.UID(),
		})
		if err != nil {
			return err
		}

		_, werr := waitForDevice(ctx, h.Registry,
			func() (*domain.Device, bool) { return h.Registry.DeviceByDeviceFile(dev.Identity.DeviceFile) },
			func(d *domain.Device) bool { return d.PartitionTable.Scheme == scheme },
			defaultConvergeTimeout, fmt.Sprintf("partition-table-scheme on %s", dev.Identity.DeviceFile))
		if werr != nil {
			return werr
		}
		h.synthesize(dev)
		return nil
	})
}
