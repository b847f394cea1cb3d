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

// deviceObject backs org.blockd.Device1: every per-device operation of
//, bridging a D-Bus method call into the matching
// *ops.Handlers call and translating the result into the (reply..., *dbus.Error)
// shape godbus expects from an exported method.
type deviceObject struct {
	svc *Service
	dev *domain.Device
}

func (d *deviceObject) caller(sender dbus.Sender) domain.Caller {
	return newBusCaller(d.svc.tracker, sender)
}

func (d *deviceObject) resolve(path dbus.ObjectPath) (*domain.Device, *dbus.Error) {
	dev, ok := d.svc.reg.DeviceByObjectID(objectIDFromDevicePath(path))
	if !ok {
		return nil, busErr(apierr.New(apierr.NotSupported, "no device at %s", path))
	}
	return dev, nil
}

func (d *deviceObject) Mount(fstype string, options []string, sender dbus.Sender) (string, *dbus.Error) {
	path, err := d.svc.handlers.Mount(context.Background(), d.dev, fstype, options, d.caller(sender))
	if err != nil {
		return "", busErr(err)
	}
	return path, nil
}

func (d *deviceObject) Unmount(options []string, sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.Unmount(context.Background(), d.dev, options, d.caller(sender)))
}

func (d *deviceObject) Check(sender dbus.Sender) (bool, *dbus.Error) {
	clean, err := d.svc.handlers.Check(context.Background(), d.dev, d.caller(sender))
	if err != nil {
		return false, busErr(err)
	}
	return clean, nil
}

func (d *deviceObject) Format(fstype string, options []string, sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.Create(context.Background(), d.dev, fstype, options, d.caller(sender)))
}

func (d *deviceObject) CreatePartition(partType, label string, flags []string, offset, size uint64, fstype string, fsOptions []string, sender dbus.Sender) (dbus.ObjectPath, *dbus.Error) {
	created, err := d.svc.handlers.CreatePartition(context.Background(), d.dev, partType, label, flags, offset, size, fstype, fsOptions, d.caller(sender))
	if err != nil {
		return "/", busErr(err)
	}
	return devicePath(created.ObjectID()), nil
}

func (d *deviceObject) DeletePartition(sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.DeletePartition(context.Background(), d.dev, d.caller(sender)))
}

func (d *deviceObject) CreatePartitionTable(scheme string, sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.CreatePartitionTable(context.Background(), d.dev, scheme, d.caller(sender)))
}

func (d *deviceObject) Unlock(secret string, sender dbus.Sender) (dbus.ObjectPath, *dbus.Error) {
	cleartext, err := d.svc.handlers.Unlock(context.Background(), d.dev, secret, d.caller(sender))
	if err != nil {
		return "/", busErr(err)
	}
	return devicePath(cleartext.ObjectID()), nil
}

func (d *deviceObject) Lock(sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.Lock(context.Background(), d.dev, d.caller(sender)))
}

func (d *deviceObject) ChangePassphrase(oldSecret, newSecret string, sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.ChangePassphrase(context.Background(), d.dev, oldSecret, newSecret, d.caller(sender)))
}

func (d *deviceObject) SmartRefresh(nowakeup bool, simulate string, sender dbus.Sender) *dbus.Error {
	callerIsRoot := d.caller(sender).UID() == 0
	return busErr(d.svc.handlers.RefreshSMART(context.Background(), d.dev, nowakeup, simulate, callerIsRoot, d.caller(sender)))
}

func (d *deviceObject) SmartSelftest(test string, sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.SelftestSMART(context.Background(), d.dev, test, d.caller(sender)))
}

func (d *deviceObject) Eject(sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.Eject(context.Background(), d.dev, d.caller(sender)))
}

func (d *deviceObject) Detach(sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.Detach(context.Background(), d.dev, d.caller(sender)))
}

func (d *deviceObject) PollMedia(sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.PollMedia(context.Background(), d.dev, d.caller(sender)))
}

func (d *deviceObject) InhibitPolling(sender dbus.Sender) (string, *dbus.Error) {
	cookie, err := d.svc.handlers.InhibitPolling(context.Background(), d.dev, d.caller(sender))
	if err != nil {
		return "", busErr(err)
	}
	return cookie, nil
}

func (d *deviceObject) UninhibitPolling(cookie string, sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.UninhibitPolling(context.Background(), d.caller(sender), cookie))
}

func (d *deviceObject) SetSpindownTimeout(seconds int32, sender dbus.Sender) (string, *dbus.Error) {
	cookie, err := d.svc.handlers.SetSpindownTimeout(context.Background(), d.dev, int(seconds), d.caller(sender))
	if err != nil {
		return "", busErr(err)
	}
	return cookie, nil
}

func (d *deviceObject) UnsetSpindownTimeout(cookie string, sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.UnsetSpindownTimeout(context.Background(), d.dev, d.caller(sender), cookie))
}

func (d *deviceObject) Benchmark(writeBenchmark bool, sender dbus.Sender) (string, *dbus.Error) {
	report, err := d.svc.handlers.Benchmark(context.Background(), d.dev, writeBenchmark, d.caller(sender))
	if err != nil {
		return "", busErr(err)
	}
	return report, nil
}

func (d *deviceObject) ListOpenFiles(sender dbus.Sender) ([]openFileWire, *dbus.Error) {
	files, err := d.svc.handlers.ListOpenFiles(context.Background(), d.dev, d.caller(sender))
	if err != nil {
		return nil, busErr(err)
	}
	out := make([]openFileWire, 0, len(files))
	for _, f := range files {
		out = append(out, openFileWire{PID: int32(f.PID), UID: f.UID, Cmdline: f.Cmdline})
	}
	return out, nil
}

// openFileWire is the flattened struct godbus marshals ops.OpenFile as, since
// exported D-Bus methods can't return arbitrary named package types directly.
type openFileWire struct {
	PID int32
	UID uint32
	Cmdline string
}

func (d *deviceObject) MDStart(sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.StartMD(context.Background(), d.dev, d.caller(sender)))
}

func (d *deviceObject) MDStop(sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.StopMD(context.Background(), d.dev, d.caller(sender)))
}

func (d *deviceObject) MDCheck(sender dbus.Sender) (uint64, *dbus.Error) {
	n, err := d.svc.handlers.CheckMD(context.Background(), d.dev, d.caller(sender))
	if err != nil {
		return 0, busErr(err)
	}
	return n, nil
}

func (d *deviceObject) MDRepair(sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.RepairMD(context.Background(), d.dev, d.caller(sender)))
}

func (d *deviceObject) MDExpand(newComponentPaths []dbus.ObjectPath, sender dbus.Sender) *dbus.Error {
	components, derr := d.resolveAll(newComponentPaths)
	if derr != nil {
		return derr
	}
	return busErr(d.svc.handlers.ExpandMD(context.Background(), d.dev, components, d.caller(sender)))
}

func (d *deviceObject) MDAddSpare(sparePath dbus.ObjectPath, sender dbus.Sender) *dbus.Error {
	spare, derr := d.resolve(sparePath)
	if derr != nil {
		return derr
	}
	return busErr(d.svc.handlers.AddSpareMD(context.Background(), d.dev, spare, d.caller(sender)))
}

func (d *deviceObject) MDRemoveComponent(slavePath dbus.ObjectPath, wipeFstype string, sender dbus.Sender) *dbus.Error {
	slave, derr := d.resolve(slavePath)
	if derr != nil {
		return derr
	}
	return busErr(d.svc.handlers.RemoveComponentMD(context.Background(), d.dev, slave, wipeFstype, d.caller(sender)))
}

func (d *deviceObject) resolveAll(paths []dbus.ObjectPath) ([]*domain.Device, *dbus.Error) {
	out := make([]*domain.Device, 0, len(paths))
	for _, p := range paths {
		dev, derr := d.resolve(p)
		if derr != nil {
			return nil, derr
		}
		out = append(out, dev)
	}
	return out, nil
}

func (d *deviceObject) VGStart(vgUUID string, sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.StartVG(context.Background(), d.dev, vgUUID, d.caller(sender)))
}

func (d *deviceObject) VGStop(vgUUID string, sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.StopVG(context.Background(), d.dev, vgUUID, d.caller(sender)))
}

func (d *deviceObject) VGSetName(vgUUID, newName string, sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.SetNameVG(context.Background(), d.dev, vgUUID, newName, d.caller(sender)))
}

func (d *deviceObject) VGAddPV(newPVPath dbus.ObjectPath, vgUUID string, sender dbus.Sender) *dbus.Error {
	newPV, derr := d.resolve(newPVPath)
	if derr != nil {
		return derr
	}
	return busErr(d.svc.handlers.AddPV(context.Background(), d.dev, newPV, vgUUID, d.caller(sender)))
}

func (d *deviceObject) VGRemovePV(pvPath dbus.ObjectPath, vgUUID string, sender dbus.Sender) *dbus.Error {
	pv, derr := d.resolve(pvPath)
	if derr != nil {
		return derr
	}
	return busErr(d.svc.handlers.RemovePV(context.Background(), d.dev, pv, vgUUID, d.caller(sender)))
}

func (d *deviceObject) VGCreateLV(vgUUID, lvName string, sizeBytes uint64, fstype string, fsOptions []string, sender dbus.Sender) (dbus.ObjectPath, *dbus.Error) {
	lv, err := d.svc.handlers.CreateLV(context.Background(), d.dev, vgUUID, lvName, sizeBytes, fstype, fsOptions, d.caller(sender))
	if err != nil {
		return "/", busErr(err)
	}
	return devicePath(lv.ObjectID()), nil
}

func (d *deviceObject) VGRemoveLV(sender dbus.Sender) *dbus.Error {
	return busErr(d.svc.handlers.RemoveLV(context.Background(), d.dev, d.caller(sender)))
}
