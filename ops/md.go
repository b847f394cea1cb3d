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

	"github.com/spf13/afero"

	"github.com/blockdaemon/blockd/apierr"
	"github.com/blockdaemon/blockd/domain"
)

// MDSlotScanner finds a free kernel md minor number, grounded on
// §4.12: "scanning the kernel's md slots for the first with no array-state
// file or array-state 'clear'".
type MDSlotScanner struct {
	fs afero.Fs
	sysRoot string
}

func NewMDSlotScanner(fs afero.Fs, sysRoot string) *MDSlotScanner {
	return &MDSlotScanner{fs: fs, sysRoot: sysRoot}
}

// FreeMinor scans /sys/block/mdN/md/array_state for the first N with no such
// file, or whose contents are "clear".
func (s *MDSlotScanner) FreeMinor() (int, error) {
	for n := 0; n < 512; n++ {
		path := fmt.Sprintf("%s/block/md%d/md/array_state", s.sysRoot, n)
		data, err := afero.ReadFile(s.fs, path)
		if err != nil {
			return n, nil
		}
		if strings.TrimSpace(string(data)) == "clear" {
			return n, nil
		}
	}
	return 0, apierr.Failedf("no free md minor number available")
}

// CreateMD implements MD Create.
func (h *Handlers) CreateMD(ctx context.Context, slots *MDSlotScanner, level string, components []*domain.Device, name string, caller domain.Caller) (*domain.Device, error) {
	minor, err := slots.FreeMinor()
	if err != nil {
		return nil, err
	}
	mdDeviceFile := fmt.Sprintf("/dev/md%d", minor)

	var created *domain.Device
	derr := h.authorizeAny(ctx, "org.blockd.md-create", components, caller, func(ctx context.Context) error {
		argv := []string{"md-create", mdDeviceFile, level, name}
		for _, c := range components {
			argv = append(argv, c.Identity.DeviceFile)
		}
		_, err := runJobSync(ctx, h.Jobs, components[0], domain.JobSpec{Name: "md-create", Argv: argv, InitiatedByUID: caller.UID()})
		if err != nil {
			return err
		}

		dev, werr := waitForDevice(ctx, h.Registry,
			func() (*domain.Device, bool) { return h.Registry.DeviceByDeviceFile(mdDeviceFile) },
			func(*domain.Device) bool { return true },
			defaultConvergeTimeout, fmt.Sprintf("new md array %s", mdDeviceFile))
		if werr != nil {
			return werr
		}
		created = dev
		return nil
	})
	if derr != nil {
		return nil, derr
	}
	return created, nil
}

// authorizeAny authorizes against the first component, the closest
// analogue to a "subject" this array-wide operation has.
func (h *Handlers) authorizeAny(ctx context.Context, action string, components []*domain.Device, caller domain.Caller, cont func(ctx context.Context) error) error {
	if len(components) == 0 {
		return apierr.New(apierr.InvalidOption, "%s requires at least one component device", action)
	}
	return h.authorize(ctx, action, components[0], caller, cont)
}

// StartMD implements MD Start.
func (h *Handlers) StartMD(ctx context.Context, md *domain.Device, caller domain.Caller) error {
	if !md.MD.IsMD {
		return apierr.New(apierr.NotSupported, "%s is not an md array", md.Identity.DeviceFile)
	}
	return h.authorize(ctx, "org.blockd.md-start", md, caller, func(ctx context.Context) error {
		_, err := runJobSync(ctx, h.Jobs, md, domain.JobSpec{
			Name: "md-start", Argv: []string{"md-start", md.Identity.DeviceFile}, InitiatedByUID: caller.UID(),
		})
		if err != nil {
			return err
		}
		h.synthesize(md)
		return nil
	})
}

// StopMD implements MD Stop.
func (h *Handlers) StopMD(ctx context.Context, md *domain.Device, caller domain.Caller) error {
	if !md.MD.IsMD {
		return apierr.New(apierr.NotSupported, "%s is not an md array", md.Identity.DeviceFile)
	}
	if IsBusy(h.Registry, md, true) {
		return apierr.New(apierr.Busy, "%s is busy", md.Identity.DeviceFile)
	}
	return h.authorize(ctx, "org.blockd.md-stop", md, caller, func(ctx context.Context) error {
		_, err := runJobSync(ctx, h.Jobs, md, domain.JobSpec{
			Name: "md-stop", Argv: []string{"md-stop", md.Identity.DeviceFile}, InitiatedByUID: caller.UID(),
		})
		if err != nil {
			return err
		}
		h.synthesize(md)
		return nil
	})
}

// mismatchCountFromStdout extracts "mismatch_cnt" from the check helper's
// stdout, which prints it as a single integer line.
func mismatchCountFromStdout(stdout string) (uint64, error) {
	line := strings.TrimSpace(stdout)
	if nl := strings.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	return strconv.ParseUint(line, 10, 64)
}

// CheckMD implements MD Check.
func (h *Handlers) CheckMD(ctx context.Context, md *domain.Device, caller domain.Caller) (mismatchCount uint64, err error) {
	if !md.MD.IsMD {
		return 0, apierr.New(apierr.NotSupported, "%s is not an md array", md.Identity.DeviceFile)
	}
	err = h.authorize(ctx, "org.blockd.md-check", md, caller, func(ctx context.Context) error {
		result, jerr := runJobSync(ctx, h.Jobs, md, domain.JobSpec{
			Name: "md-check", Argv: []string{"md-check", md.Identity.DeviceFile}, InitiatedByUID: caller.UID(), ProgressPrefix: "percentage:",
		})
		if jerr != nil {
			return jerr
		}
		mismatchCount, err = mismatchCountFromStdout(result.Stdout)
		return err
	})
	return mismatchCount, err
}

// RepairMD implements MD Repair.
func (h *Handlers) RepairMD(ctx context.Context, md *domain.Device, caller domain.Caller) error {
	if !md.MD.IsMD {
		return apierr.New(apierr.NotSupported, "%s is not an md array", md.Identity.DeviceFile)
	}
	return h.authorize(ctx, "org.blockd.md-repair", md, caller, func(ctx context.Context) error {
		_, err := runJobSync(ctx, h.Jobs, md, domain.JobSpec{
			Name: "md-repair", Argv: []string{"md-repair", md.Identity.DeviceFile}, InitiatedByUID: caller.UID(), ProgressPrefix: "percentage:",
		})
		return err
	})
}

// ExpandMD implements MD Expand.
func (h *Handlers) ExpandMD(ctx context.Context, md *domain.Device, newComponents []*domain.Device, caller domain.Caller) error {
	if !md.MD.IsMD {
		return apierr.New(apierr.NotSupported, "%s is not an md array", md.Identity.DeviceFile)
	}
	return h.authorize(ctx, "org.blockd.md-expand", md, caller, func(ctx context.Context) error {
		argv := []string{"md-expand", md.Identity.DeviceFile}
		for _, c := range newComponents {
			argv = append(argv, c.Identity.DeviceFile)
		}
		_, err := runJobSync(ctx, h.Jobs, md, domain.JobSpec{Name: "md-expand", Argv: argv, InitiatedByUID: caller.UID()})
		if err != nil {
			return err
		}
		h.synthesize(md)
		return nil
	})
}

// AddSpareMD implements MD Add-Spare.
func (h *Handlers) AddSpareMD(ctx context.Context, md, spare *domain.Device, caller domain.Caller) error {
	if !md.MD.IsMD {
		return apierr.New(apierr.NotSupported, "%s is not an md array", md.Identity.DeviceFile)
	}
	return h.authorize(ctx, "org.blockd.md-add-spare", md, caller, func(ctx context.Context) error {
		_, err := runJobSync(ctx, h.Jobs, md, domain.JobSpec{
			Name: "md-add-spare", Argv: []string{"md-add-spare", md.Identity.DeviceFile, spare.Identity.DeviceFile}, InitiatedByUID: caller.UID(),
		})
		if err != nil {
			return err
		}
		h.synthesize(md)
		return nil
	})
}

// RemoveComponentMD implements MD Remove-Component:
// hot-removes the slave, waits for it to stop being busy, then scrubs it
// with an empty Filesystem Create so stale array metadata doesn't linger.
func (h *Handlers) RemoveComponentMD(ctx context.Context, md, slave *domain.Device, wipeFstype string, caller domain.Caller) error {
	if !md.MD.IsMD {
		return apierr.New(apierr.NotSupported, "%s is not an md array", md.Identity.DeviceFile)
	}

	return h.authorize(ctx, "org.blockd.md-remove-component", md, caller, func(ctx context.Context) error {
		_, err := runJobSync(ctx, h.Jobs, md, domain.JobSpec{
			Name: "md-remove-component", Argv: []string{"md-remove-component", md.Identity.DeviceFile, slave.Identity.DeviceFile}, InitiatedByUID: caller.UID(),
		})
		if err != nil {
			return err
		}

		_, werr := waitForDevice(ctx, h.Registry,
			func() (*domain.Device, bool) { return h.Registry.DeviceByDeviceFile(slave.Identity.DeviceFile) },
			func(d *domain.Device) bool { return !IsBusy(h.Registry, d, true) },
			defaultConvergeTimeout, fmt.Sprintf("%s to stop being busy", slave.Identity.DeviceFile))
		if werr != nil {
			return werr
		}

		h.synthesize(md)

		if wipeFstype != "" {
			return h.Create(ctx, slave, wipeFstype, nil, caller)
		}
		return nil
	})
}
