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

// Package reconcile implements the uniform add/change/remove algorithm per
// entity-kind sub-reconciler, plus the force-teardown policy that tears
// down mounts and LUKS mappings before their backing device disappears.
package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blockdaemon/blockd/domain"
)

// SubjectCanceller is the narrow slice of authz.Gate the core needs: firing
// pending authorization checks whose subject is about to be unregistered.
type SubjectCanceller interface {
	CancelSubject(objectID string)
}

// Core implements domain.ReconcilerIface and domain.TeardownIface.
type Core struct {
	reg domain.RegistryIface
	updater domain.UpdaterIface
	sink domain.ChangeSink
	poller domain.PollerIface
	jobs domain.EngineIface
	mounts domain.MountStoreIface
	gate SubjectCanceller

	// InFstab reports whether deviceFile is listed in the system fstab. Wired
	// by daemon/ to ops.FstabIndex.Contains to avoid a reconcile->ops import.
	InFstab func(deviceFile string) bool

	envCache map[string]map[string]string
}

var _ domain.ReconcilerIface = (*Core)(nil)
var _ domain.TeardownIface = (*Core)(nil)

func New(reg domain.RegistryIface, updater domain.UpdaterIface, sink domain.ChangeSink, poller domain.PollerIface, jobs domain.EngineIface, mounts domain.MountStoreIface, gate SubjectCanceller) *Core {
	return &Core{
		reg: reg, updater: updater, sink: sink, poller: poller, jobs: jobs, mounts: mounts, gate: gate,
		envCache: make(map[string]map[string]string),
	}
}

// SetPoller wires the poller in after construction, needed because
// poller.Poller's constructor in turn takes the Core as its Synthesizer:
// daemon/ builds the Core with a nil poller, builds the Poller against it,
// then calls SetPoller to close the loop.
func (c *Core) SetPoller(p domain.PollerIface) {
	c.poller = p
}

// SetSink wires the change sink in after construction, needed because the
// sink (dbusapi.Service) is itself built from ops.Handlers, which in turn
// needs this Core as its Synthesizer: daemon/ builds the Core with a nil
// sink, builds the Service against the resulting Handlers, then calls
// SetSink to close the loop.
func (c *Core) SetSink(sink domain.ChangeSink) {
	c.sink = sink
}

func (c *Core) HandleEvent(ev domain.Event) {
	switch ev.Subsystem {
	case domain.SubsystemBlock:
		c.handleBlock(ev)
	case domain.SubsystemPCI:
		c.handleAdapter(ev)
	case domain.SubsystemSCSIHost, domain.SubsystemSASPhy:
		c.handlePort(ev)
	case domain.SubsystemSASExpander:
		c.handleExpander(ev)
	default:
		logrus.Debugf("reconcile: unhandled subsystem %q", ev.Subsystem)
	}
}

func (c *Core) mergedEnv(ev domain.Event) map[string]string {
	merged := make(map[string]string)
	for k, v := range c.envCache[ev.NativePath] {
		merged[k] = v
	}
	for k, v := range ev.Env {
		merged[k] = v
	}
	if len(merged) > 0 {
		c.envCache[ev.NativePath] = merged
	}
	return merged
}

func (c *Core) handleBlock(ev domain.Event) {
	ev.Env = c.mergedEnv(ev)
	existing, ok := c.reg.DeviceByNativePath(ev.NativePath)

	switch ev.Action {
	case domain.ActionAdd:
		if ok {
			c.changeBlock(existing, ev)
			return
		}
		c.addBlock(ev)

	case domain.ActionChange:
		if !ok && ev.DeviceFile != "" {
			existing, ok = c.reg.DeviceByDeviceFile(ev.DeviceFile)
		}
		if !ok {
			c.addBlock(ev)
			return
		}
		c.changeBlock(existing, ev)

	case domain.ActionRemove:
		if !ok {
			return
		}
		c.removeBlock(existing)

	default:
		logrus.Debugf("reconcile: unknown action %q", ev.Action)
	}
}

func (c *Core) addBlock(ev domain.Event) {
	dev := domain.NewDevice(ev.NativePath, time.Now())
	res := c.updater.RecomputeDevice(dev, ev)
	if !res.Keep {
		return
	}
	c.reg.InsertDevice(dev)
	c.sink.EntityAdded(dev)
	c.recomputeNeighbors(res.NeighborsToRecompute)
	if c.poller != nil {
		c.poller.Recompute()
	}
}

func (c *Core) changeBlock(dev *domain.Device, ev domain.Event) {
	oldNativePath, oldDeviceFile := dev.NativePath(), dev.Identity.DeviceFile
	oldMajor, oldMinor := dev.Identity.Major, dev.Identity.Minor

	if ev.NativePath != "" && ev.NativePath != oldNativePath {
		dev.SetNativePath(ev.NativePath)
	}

	res := c.updater.RecomputeDevice(dev, ev)

	c.reg.ReinsertDevice(dev, oldNativePath, oldDeviceFile, oldMajor, oldMinor)

	if !res.Keep {
		c.removeBlock(dev)
		return
	}
	if res.Changed {
		c.sink.EntityChanged(dev)
	}
	c.recomputeNeighbors(res.NeighborsToRecompute)
	if c.poller != nil {
		c.poller.Recompute()
	}
}

func (c *Core) removeBlock(dev *domain.Device) {
	c.reg.RemoveDevice(dev)
	if c.gate != nil {
		c.gate.CancelSubject(dev.ObjectID())
	}
	c.sink.EntityRemoved(dev)
	c.ForceTeardown(dev)
	delete(c.envCache, dev.NativePath())
	if c.poller != nil {
		c.poller.Recompute()
	}
}

func (c *Core) recomputeNeighbors(objectIDs []string) {
	for _, id := range objectIDs {
		if dev, ok := c.reg.DeviceByObjectID(id); ok {
			c.SynthesizeChanged(dev)
		}
	}
}

func (c *Core) SynthesizeChanged(dev *domain.Device) {
	c.HandleEvent(domain.Event{
		Action: domain.ActionChange,
		Subsystem: domain.SubsystemBlock,
		NativePath: dev.NativePath(),
		DeviceFile: dev.Identity.DeviceFile,
		Synthesized: true,
	})
}

func (c *Core) SynthesizeChangedOnAll() {
	for _, dev := range c.reg.Devices() {
		c.SynthesizeChanged(dev)
	}
}

// ForceTeardown lazily unmounts dev and closes any LUKS mapping that holds
// it, without waiting for either to finish.
func (c *Core) ForceTeardown(dev *domain.Device) {
	if dev.MountState.IsMounted {
		_, daemonMounted := c.mounts.Get(dev.Identity.DeviceFile)
		inFstab := c.InFstab != nil && c.InFstab(dev.Identity.DeviceFile)
		if daemonMounted || inFstab {
			c.launchLazyUnmount(dev)
		}
	}

	if dev.Luks.IsLuks {
		for _, h := range c.holders(dev) {
			if isDaemonCleartextName(h.DMName) {
				c.ForceTeardown(h)
				c.launchLuksClose(h)
				break
			}
		}
	}
}

// isDaemonCleartextName reports whether name follows this daemon's
// "<prefix>-uuid-<uuid>-uid<uid>" device-mapper naming convention for LUKS
// cleartext mappings.
func isDaemonCleartextName(name string) bool {
	return strings.Contains(name, "-uuid-") && strings.Contains(name, "-uid")
}

func (c *Core) holders(dev *domain.Device) []*domain.Device {
	var out []*domain.Device
	for _, id := range dev.HoldersObjPath {
		if h, ok := c.reg.DeviceByObjectID(id); ok {
			out = append(out, h)
		}
	}
	return out
}

// launchLazyUnmount and launchLuksClose are fire-and-forget: the teardown
// pipeline must not block on their result.
func (c *Core) launchLazyUnmount(dev *domain.Device) {
	if err := c.jobs.Start(context.Background(), dev, domain.JobSpec{
		Name: "force-teardown-unmount",
		Argv: []string{"umount", "-l", dev.Identity.DeviceFile},
	}); err != nil {
		logrus.Debugf("reconcile: force-teardown lazy unmount of %s: %v", dev.Identity.DeviceFile, err)
	}
}

func (c *Core) launchLuksClose(dev *domain.Device) {
	if err := c.jobs.Start(context.Background(), dev, domain.JobSpec{
		Name: "force-teardown-luksclose",
		Argv: []string{"cryptsetup", "luksClose", dev.DMName},
	}); err != nil {
		logrus.Debugf("reconcile: force-teardown luksClose of %s: %v", dev.DMName, err)
	}
}
