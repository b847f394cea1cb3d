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

	"github.com/blockdaemon/blockd/apierr"
	"github.com/blockdaemon/blockd/domain"
)

// vgNameByUUID resolves a volume-group uuid to its current name by scanning
// the observed PV property bag.
func vgNameByUUID(reg domain.RegistryIface, vgUUID string) (string, bool) {
	for _, d := range reg.Devices() {
		if d.LVM2PV.IsPV && d.LVM2PV.Group.UUID == vgUUID {
			return d.LVM2PV.Group.Name, true
		}
	}
	return "", false
}

// StartVG implements LVM2 VG Start.
func (h *Handlers) StartVG(ctx context.Context, anyPV *domain.Device, vgUUID string, caller domain.Caller) error {
	name, ok := vgNameByUUID(h.Registry, vgUUID)
	if !ok {
		return apierr.New(apierr.NotSupported, "volume group %s not found", vgUUID)
	}
	return h.authorize(ctx, "org.blockd.vg-start", anyPV, caller, func(ctx context.Context) error {
		_, err := runJobSync(ctx, h.Jobs, anyPV, domain.JobSpec{Name: "vg-start", Argv: []string{"vgchange", "-ay", name}, InitiatedByUID: caller.UID()})
		return err
	})
}

// StopVG implements LVM2 VG Stop.
func (h *Handlers) StopVG(ctx context.Context, anyPV *domain.Device, vgUUID string, caller domain.Caller) error {
	name, ok := vgNameByUUID(h.Registry, vgUUID)
	if !ok {
		return apierr.New(apierr.NotSupported, "volume group %s not found", vgUUID)
	}
	return h.authorize(ctx, "org.blockd.vg-stop", anyPV, caller, func(ctx context.Context) error {
		_, err := runJobSync(ctx, h.Jobs, anyPV, domain.JobSpec{Name: "vg-stop", Argv: []string{"vgchange", "-an", name}, InitiatedByUID: caller.UID()})
		return err
	})
}

// SetNameVG implements LVM2 VG SetName.
func (h *Handlers) SetNameVG(ctx context.Context, anyPV *domain.Device, vgUUID, newName string, caller domain.Caller) error {
	name, ok := vgNameByUUID(h.Registry, vgUUID)
	if !ok {
		return apierr.New(apierr.NotSupported, "volume group %s not found", vgUUID)
	}
	return h.authorize(ctx, "org.blockd.vg-set-name", anyPV, caller, func(ctx context.Context) error {
		_, err := runJobSync(ctx, h.Jobs, anyPV, domain.JobSpec{Name: "vg-rename", Argv: []string{"vgrename", name, newName}, InitiatedByUID: caller.UID()})
		if err != nil {
			return err
		}
		h.synthesize(anyPV)
		return nil
	})
}

// AddPV implements LVM2 VG AddPV.
func (h *Handlers) AddPV(ctx context.Context, anyPV, newPV *domain.Device, vgUUID string, caller domain.Caller) error {
	name, ok := vgNameByUUID(h.Registry, vgUUID)
	if !ok {
		return apierr.New(apierr.NotSupported, "volume group %s not found", vgUUID)
	}
	return h.authorize(ctx, "org.blockd.vg-add-pv", anyPV, caller, func(ctx context.Context) error {
		_, err := runJobSync(ctx, h.Jobs, anyPV, domain.JobSpec{
			Name: "vg-extend", Argv: []string{"vgextend", name, newPV.Identity.DeviceFile}, InitiatedByUID: caller.UID(),
		})
		if err != nil {
			return err
		}
		h.synthesize(anyPV)
		return nil
	})
}

// RemovePV implements LVM2 VG RemovePV.
func (h *Handlers) RemovePV(ctx context.Context, vg, pv *domain.Device, vgUUID string, caller domain.Caller) error {
	name, ok := vgNameByUUID(h.Registry, vgUUID)
	if !ok {
		return apierr.New(apierr.NotSupported, "volume group %s not found", vgUUID)
	}
	return h.authorize(ctx, "org.blockd.vg-remove-pv", pv, caller, func(ctx context.Context) error {
		_, err := runJobSync(ctx, h.Jobs, pv, domain.JobSpec{
			Name: "vg-reduce", Argv: []string{"vgreduce", name, pv.Identity.DeviceFile}, InitiatedByUID: caller.UID(),
		})
		if err != nil {
			return err
		}
		h.synthesize(vg)
		return nil
	})
}

// CreateLV implements LVM2 LV Create: waits up to 10s for
// the new LV Device to appear, then optionally chains a Filesystem Create.
func (h *Handlers) CreateLV(ctx context.Context, anyPV *domain.Device, vgUUID, lvName string, sizeBytes uint64, fstype string, fsOptions []string, caller domain.Caller) (*domain.Device, error) {
	vgName, ok := vgNameByUUID(h.Registry, vgUUID)
	if !ok {
		return nil, apierr.New(apierr.NotSupported, "volume group %s not found", vgUUID)
	}

	var created *domain.Device
	err := h.authorize(ctx, "org.blockd.lv-create", anyPV, caller, func(ctx context.Context) error {
		_, err := runJobSync(ctx, h.Jobs, anyPV, domain.JobSpec{
			Name: "lv-create", Argv: []string{"lvcreate", "-n", lvName, "-L", fmt.Sprintf("%db", sizeBytes), vgName}, InitiatedByUID: caller.UID(),
		})
		if err != nil {
			return err
		}

		dev, werr := waitForDevice(ctx, h.Registry,
			func() (*domain.Device, bool) {
			for _, d := range h.Registry.Devices() {
				if d.LVM2LV.IsLV && d.LVM2LV.GroupUUID == vgUUID && d.LVM2LV.Name == lvName {
					return d, true
				}
			}
			return nil, false
			},
			func(*domain.Device) bool { return true },
			defaultConvergeTimeout, fmt.Sprintf("new logical volume %s/%s", vgName, lvName))
		if werr != nil {
			return werr
		}
		created = dev
		h.synthesize(anyPV)
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

// RemoveLV implements LVM2 LV Remove.
func (h *Handlers) RemoveLV(ctx context.Context, lv *domain.Device, caller domain.Caller) error {
	if !lv.LVM2LV.IsLV {
		return apierr.New(apierr.NotSupported, "%s is not a logical volume", lv.Identity.DeviceFile)
	}
	if IsBusy(h.Registry, lv, true) {
		return apierr.New(apierr.Busy, "%s is busy", lv.Identity.DeviceFile)
	}
	return h.authorize(ctx, "org.blockd.lv-remove", lv, caller, func(ctx context.Context) error {
		_, err := runJobSync(ctx, h.Jobs, lv, domain.JobSpec{
			Name: "lv-remove", Argv: []string{"lvremove", "-f", lv.Identity.DeviceFile}, InitiatedByUID: caller.UID(),
		})
		return err
	})
}
