package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdaemon/blockd/domain"
	"github.com/blockdaemon/blockd/reconcile"
)

type fakeSink struct {
	added, changed, removed []string
}

func (s *fakeSink) EntityAdded(e domain.Entity) { s.added = append(s.added, e.NativePath()) }
func (s *fakeSink) EntityChanged(e domain.Entity) { s.changed = append(s.changed, e.NativePath()) }
func (s *fakeSink) EntityRemoved(e domain.Entity) { s.removed = append(s.removed, e.NativePath()) }
func (s *fakeSink) JobChanged(d *domain.Device) {}

// fakeUpdater always keeps, and reports changed the first time it sees a
// native path and idempotent thereafter, mirroring update.Updater's
// whole-struct diff behavior without dragging in sysfs reads.
type fakeUpdater struct {
	seen map[string]bool
	keep bool
	keepSet map[string]bool
}

func newFakeUpdater() *fakeUpdater {
	return &fakeUpdater{seen: make(map[string]bool), keep: true, keepSet: make(map[string]bool)}
}

func (u *fakeUpdater) resultFor(path string) domain.UpdateResult {
	if keep, ok := u.keepSet[path]; ok {
		return domain.UpdateResult{Keep: keep, Changed: true}
	}
	changed := !u.seen[path]
	u.seen[path] = true
	return domain.UpdateResult{Keep: u.keep, Changed: changed}
}

func (u *fakeUpdater) RecomputeDevice(dev *domain.Device, ev domain.Event) domain.UpdateResult {
	return u.resultFor(dev.NativePath())
}
func (u *fakeUpdater) RecomputeAdapter(a *domain.Adapter, ev domain.Event) domain.UpdateResult {
	return u.resultFor(a.NativePath())
}
func (u *fakeUpdater) RecomputePort(p *domain.Port, ev domain.Event) domain.UpdateResult {
	return u.resultFor(p.NativePath())
}
func (u *fakeUpdater) RecomputeExpander(e *domain.Expander, ev domain.Event) domain.UpdateResult {
	return u.resultFor(e.NativePath())
}

type fakeRegistry struct {
	devices map[string]*domain.Device
	adapters map[string]*domain.Adapter
	ports map[string]*domain.Port
	expanders map[string]*domain.Expander
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		devices: make(map[string]*domain.Device),
		adapters: make(map[string]*domain.Adapter),
		ports: make(map[string]*domain.Port),
		expanders: make(map[string]*domain.Expander),
	}
}

func (r *fakeRegistry) InsertDevice(d *domain.Device) { r.devices[d.NativePath()] = d }
func (r *fakeRegistry) RemoveDevice(d *domain.Device) { delete(r.devices, d.NativePath()) }
func (r *fakeRegistry) ReinsertDevice(d *domain.Device, oldNativePath, oldDeviceFile string, oldMajor, oldMinor uint32) {
	delete(r.devices, oldNativePath)
	r.devices[d.NativePath()] = d
}
func (r *fakeRegistry) DeviceByNativePath(p string) (*domain.Device, bool) { d, ok := r.devices[p]; return d, ok }
func (r *fakeRegistry) DeviceByDeviceFile(f string) (*domain.Device, bool) {
	for _, d := range r.devices {
		if d.Identity.DeviceFile == f {
			return d, true
		}
	}
	return nil, false
}
func (r *fakeRegistry) DeviceByMajorMinor(major, minor uint32) (*domain.Device, bool) { return nil, false }
func (r *fakeRegistry) DeviceByObjectID(id string) (*domain.Device, bool) {
	for _, d := range r.devices {
		if d.ObjectID() == id {
			return d, true
		}
	}
	return nil, false
}
func (r *fakeRegistry) Devices() []*domain.Device {
	out := make([]*domain.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

func (r *fakeRegistry) InsertAdapter(a *domain.Adapter) { r.adapters[a.NativePath()] = a }
func (r *fakeRegistry) RemoveAdapter(a *domain.Adapter) { delete(r.adapters, a.NativePath()) }
func (r *fakeRegistry) AdapterByNativePath(p string) (*domain.Adapter, bool) { a, ok := r.adapters[p]; return a, ok }
func (r *fakeRegistry) AdapterByObjectID(id string) (*domain.Adapter, bool) {
	for _, a := range r.adapters {
		if a.ObjectID() == id {
			return a, true
		}
	}
	return nil, false
}
func (r *fakeRegistry) Adapters() []*domain.Adapter {
	out := make([]*domain.Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

func (r *fakeRegistry) InsertPort(p *domain.Port) { r.ports[p.NativePath()] = p }
func (r *fakeRegistry) RemovePort(p *domain.Port) { delete(r.ports, p.NativePath()) }
func (r *fakeRegistry) PortByNativePath(path string) (*domain.Port, bool) { p, ok := r.ports[path]; return p, ok }
func (r *fakeRegistry) PortByObjectID(id string) (*domain.Port, bool) {
	for _, p := range r.ports {
		if p.ObjectID() == id {
			return p, true
		}
	}
	return nil, false
}
func (r *fakeRegistry) Ports() []*domain.Port {
	out := make([]*domain.Port, 0, len(r.ports))
	for _, p := range r.ports {
		out = append(out, p)
	}
	return out
}

func (r *fakeRegistry) InsertExpander(e *domain.Expander) { r.expanders[e.NativePath()] = e }
func (r *fakeRegistry) RemoveExpander(e *domain.Expander) { delete(r.expanders, e.NativePath()) }
func (r *fakeRegistry) ExpanderByNativePath(p string) (*domain.Expander, bool) { e, ok := r.expanders[p]; return e, ok }
func (r *fakeRegistry) ExpanderByObjectID(id string) (*domain.Expander, bool) {
	for _, e := range r.expanders {
		if e.ObjectID() == id {
			return e, true
		}
	}
	return nil, false
}
func (r *fakeRegistry) Expanders() []*domain.Expander {
	out := make([]*domain.Expander, 0, len(r.expanders))
	for _, e := range r.expanders {
		out = append(out, e)
	}
	return out
}

type fakeMountStore struct{ records map[string]domain.MountRecord }

func newFakeMountStore() *fakeMountStore { return &fakeMountStore{records: make(map[string]domain.MountRecord)} }
func (m *fakeMountStore) Load() error { return nil }
func (m *fakeMountStore) Purge(live map[string]bool) error { return nil }
func (m *fakeMountStore) Add(rec domain.MountRecord) error { m.records[rec.DeviceFile] = rec; return nil }
func (m *fakeMountStore) Remove(deviceFile string) error { delete(m.records, deviceFile); return nil }
func (m *fakeMountStore) Get(deviceFile string) (domain.MountRecord, bool) {
	r, ok := m.records[deviceFile]
	return r, ok
}
func (m *fakeMountStore) All() []domain.MountRecord { return nil }

type fakeEngine struct{ started []domain.JobSpec }

func (e *fakeEngine) Start(ctx context.Context, dev *domain.Device, spec domain.JobSpec) error {
	e.started = append(e.started, spec)
	return nil
}
func (e *fakeEngine) StartLocal(dev *domain.Device, name string, initiatedByUID uint32) (domain.LocalJobIface, error) {
	return nil, nil
}
func (e *fakeEngine) Cancel(dev *domain.Device) error { return nil }

type fakeGate struct{ cancelled []string }

func (g *fakeGate) CancelSubject(objectID string) { g.cancelled = append(g.cancelled, objectID) }

func newCore(reg *fakeRegistry, updater *fakeUpdater, sink *fakeSink, jobs *fakeEngine, mounts *fakeMountStore, gate *fakeGate) *reconcile.Core {
	return reconcile.New(reg, updater, sink, nil, jobs, mounts, gate)
}

func TestAddThenAddDispatchesAsChange(t *testing.T) {
	reg := newFakeRegistry()
	updater := newFakeUpdater()
	sink := &fakeSink{}
	core := newCore(reg, updater, sink, &fakeEngine{}, newFakeMountStore(), &fakeGate{})

	ev := domain.Event{Action: domain.ActionAdd, Subsystem: domain.SubsystemBlock, NativePath: "/sys/block/sda", DeviceFile: "/dev/sda"}
	core.HandleEvent(ev)
	core.HandleEvent(ev)

	assert.Len(t, sink.added, 1)
	assert.Len(t, sink.changed, 0)
}

func TestChangeOnUnregisteredPathDispatchesAsAdd(t *testing.T) {
	reg := newFakeRegistry()
	updater := newFakeUpdater()
	sink := &fakeSink{}
	core := newCore(reg, updater, sink, &fakeEngine{}, newFakeMountStore(), &fakeGate{})

	core.HandleEvent(domain.Event{Action: domain.ActionChange, Subsystem: domain.SubsystemBlock, NativePath: "/sys/block/sdb", DeviceFile: "/dev/sdb"})

	assert.Len(t, sink.added, 1)
	_, ok := reg.DeviceByNativePath("/sys/block/sdb")
	assert.True(t, ok)
}

func TestRemoveOnUnregisteredPathIsNoOp(t *testing.T) {
	reg := newFakeRegistry()
	updater := newFakeUpdater()
	sink := &fakeSink{}
	core := newCore(reg, updater, sink, &fakeEngine{}, newFakeMountStore(), &fakeGate{})

	core.HandleEvent(domain.Event{Action: domain.ActionRemove, Subsystem: domain.SubsystemBlock, NativePath: "/sys/block/sdc"})

	assert.Empty(t, sink.removed)
}

func TestChangeRenamesRegistryKeys(t *testing.T) {
	reg := newFakeRegistry()
	updater := newFakeUpdater()
	sink := &fakeSink{}
	core := newCore(reg, updater, sink, &fakeEngine{}, newFakeMountStore(), &fakeGate{})

	core.HandleEvent(domain.Event{Action: domain.ActionAdd, Subsystem: domain.SubsystemBlock, NativePath: "/sys/block/sdd", DeviceFile: "/dev/sdd"})
	dev, ok := reg.DeviceByNativePath("/sys/block/sdd")
	require.True(t, ok)

	core.HandleEvent(domain.Event{Action: domain.ActionChange, Subsystem: domain.SubsystemBlock, NativePath: "/sys/block/sdd-renamed", DeviceFile: "/dev/sdd"})

	_, oldStillThere := reg.DeviceByNativePath("/sys/block/sdd")
	assert.False(t, oldStillThere)
	renamed, ok := reg.DeviceByNativePath("/sys/block/sdd-renamed")
	require.True(t, ok)
	assert.Same(t, dev, renamed)
}

func TestForceTeardownLaunchesLazyUnmountWhenDaemonMounted(t *testing.T) {
	reg := newFakeRegistry()
	updater := newFakeUpdater()
	sink := &fakeSink{}
	engine := &fakeEngine{}
	mounts := newFakeMountStore()
	core := newCore(reg, updater, sink, engine, mounts, &fakeGate{})

	dev := domain.NewDevice("/sys/block/sde", time.Now())
	dev.Identity.DeviceFile = "/dev/sde"
	dev.MountState.IsMounted = true
	mounts.Add(domain.MountRecord{DeviceFile: "/dev/sde", MountPath: "/mnt/sde"})

	core.ForceTeardown(dev)

	require.Len(t, engine.started, 1)
	assert.Equal(t, "force-teardown-unmount", engine.started[0].Name)
}

func TestForceTeardownSkipsUnmountWhenNotDaemonMountedOrFstab(t *testing.T) {
	reg := newFakeRegistry()
	updater := newFakeUpdater()
	sink := &fakeSink{}
	engine := &fakeEngine{}
	mounts := newFakeMountStore()
	core := newCore(reg, updater, sink, engine, mounts, &fakeGate{})
	core.InFstab = func(string) bool { return false }

	dev := domain.NewDevice("/sys/block/sdf", time.Now())
	dev.Identity.DeviceFile = "/dev/sdf"
	dev.MountState.IsMounted = true

	core.ForceTeardown(dev)

	assert.Empty(t, engine.started)
}

func TestForceTeardownRecursesThroughLuksCleartextHolder(t *testing.T) {
	reg := newFakeRegistry()
	updater := newFakeUpdater()
	sink := &fakeSink{}
	engine := &fakeEngine{}
	mounts := newFakeMountStore()
	core := newCore(reg, updater, sink, engine, mounts, &fakeGate{})

	crypt := domain.NewDevice("/sys/block/dm-1", time.Now())
	crypt.Identity.DeviceFile = "/dev/dm-1"
	crypt.DMName = "blockd-uuid-1234-uid1000"
	crypt.MountState.IsMounted = true
	mounts.Add(domain.MountRecord{DeviceFile: "/dev/dm-1", MountPath: "/mnt/secret"})
	reg.InsertDevice(crypt)

	luks := domain.NewDevice("/sys/block/sdg", time.Now())
	luks.Identity.DeviceFile = "/dev/sdg"
	luks.Luks.IsLuks = true
	luks.HoldersObjPath = []string{crypt.ObjectID()}

	core.ForceTeardown(luks)

	require.Len(t, engine.started, 2)
	assert.Equal(t, "force-teardown-unmount", engine.started[0].Name)
	assert.Equal(t, "force-teardown-luksclose", engine.started[1].Name)
	assert.Equal(t, []string{"cryptsetup", "luksClose", "blockd-uuid-1234-uid1000"}, engine.started[1].Argv)
}

func TestRemoveCancelsSubjectAndForceTearsDown(t *testing.T) {
	reg := newFakeRegistry()
	updater := newFakeUpdater()
	sink := &fakeSink{}
	engine := &fakeEngine{}
	mounts := newFakeMountStore()
	gate := &fakeGate{}
	core := newCore(reg, updater, sink, engine, mounts, gate)

	core.HandleEvent(domain.Event{Action: domain.ActionAdd, Subsystem: domain.SubsystemBlock, NativePath: "/sys/block/sdh", DeviceFile: "/dev/sdh"})
	dev, ok := reg.DeviceByNativePath("/sys/block/sdh")
	require.True(t, ok)
	objID := dev.ObjectID()

	core.HandleEvent(domain.Event{Action: domain.ActionRemove, Subsystem: domain.SubsystemBlock, NativePath: "/sys/block/sdh"})

	assert.Contains(t, gate.cancelled, objID)
	assert.Contains(t, sink.removed, "/sys/block/sdh")
	_, stillThere := reg.DeviceByNativePath("/sys/block/sdh")
	assert.False(t, stillThere)
}

func TestSynthesizeChangedOnAllVisitsEveryDevice(t *testing.T) {
	reg := newFakeRegistry()
	updater := newFakeUpdater()
	sink := &fakeSink{}
	core := newCore(reg, updater, sink, &fakeEngine{}, newFakeMountStore(), &fakeGate{})

	core.HandleEvent(domain.Event{Action: domain.ActionAdd, Subsystem: domain.SubsystemBlock, NativePath: "/sys/block/sdi", DeviceFile: "/dev/sdi"})
	core.HandleEvent(domain.Event{Action: domain.ActionAdd, Subsystem: domain.SubsystemBlock, NativePath: "/sys/block/sdj", DeviceFile: "/dev/sdj"})

	updater.keepSet["/sys/block/sdi"] = true
	updater.keepSet["/sys/block/sdj"] = true

	core.SynthesizeChangedOnAll()

	assert.ElementsMatch(t, []string{"/sys/block/sdi", "/sys/block/sdj"}, sink.changed)
}

func TestAdapterAddThenAddDispatchesAsChange(t *testing.T) {
	reg := newFakeRegistry()
	updater := newFakeUpdater()
	sink := &fakeSink{}
	core := newCore(reg, updater, sink, &fakeEngine{}, newFakeMountStore(), &fakeGate{})

	ev := domain.Event{Action: domain.ActionAdd, Subsystem: domain.SubsystemPCI, NativePath: "/sys/devices/pci0000:00/host0"}
	core.HandleEvent(ev)
	core.HandleEvent(ev)

	assert.Len(t, sink.added, 1)
	_, ok := reg.AdapterByNativePath(ev.NativePath)
	assert.True(t, ok)
}

func TestPortRemoveOnUnregisteredPathIsNoOp(t *testing.T) {
	reg := newFakeRegistry()
	updater := newFakeUpdater()
	sink := &fakeSink{}
	core := newCore(reg, updater, sink, &fakeEngine{}, newFakeMountStore(), &fakeGate{})

	core.HandleEvent(domain.Event{Action: domain.ActionRemove, Subsystem: domain.SubsystemSCSIHost, NativePath: "/sys/class/scsi_host/host0"})

	assert.Empty(t, sink.removed)
}

func TestExpanderChangeOnUnregisteredPathDispatchesAsAdd(t *testing.T) {
	reg := newFakeRegistry()
	updater := newFakeUpdater()
	sink := &fakeSink{}
	core := newCore(reg, updater, sink, &fakeEngine{}, newFakeMountStore(), &fakeGate{})

	core.HandleEvent(domain.Event{Action: domain.ActionChange, Subsystem: domain.SubsystemSASExpander, NativePath: "/sys/class/sas_expander/expander-0:0"})

	assert.Len(t, sink.added, 1)
	_, ok := reg.ExpanderByNativePath("/sys/class/sas_expander/expander-0:0")
	assert.True(t, ok)
}
