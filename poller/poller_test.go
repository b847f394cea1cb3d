package poller_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdaemon/blockd/domain"
	"github.com/blockdaemon/blockd/poller"
)

type fakeRegistry struct {
	devices map[string]*domain.Device
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{devices: make(map[string]*domain.Device)} }

func (r *fakeRegistry) add(d *domain.Device) { r.devices[d.NativePath()] = d }

func (r *fakeRegistry) InsertDevice(d *domain.Device) {}
func (r *fakeRegistry) RemoveDevice(d *domain.Device) {}
func (r *fakeRegistry) ReinsertDevice(d *domain.Device, oldNativePath, oldDeviceFile string, oldMajor, oldMinor uint32) {
}
func (r *fakeRegistry) DeviceByNativePath(p string) (*domain.Device, bool) { return nil, false }
func (r *fakeRegistry) DeviceByDeviceFile(f string) (*domain.Device, bool) { return nil, false }
func (r *fakeRegistry) DeviceByMajorMinor(major, minor uint32) (*domain.Device, bool) {
	return nil, false
}
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
func (r *fakeRegistry) InsertAdapter(a *domain.Adapter) {}
func (r *fakeRegistry) RemoveAdapter(a *domain.Adapter) {}
func (r *fakeRegistry) AdapterByNativePath(p string) (*domain.Adapter, bool) { return nil, false }
func (r *fakeRegistry) AdapterByObjectID(id string) (*domain.Adapter, bool) { return nil, false }
func (r *fakeRegistry) Adapters() []*domain.Adapter { return nil }
func (r *fakeRegistry) InsertPort(p *domain.Port) {}
func (r *fakeRegistry) RemovePort(p *domain.Port) {}
func (r *fakeRegistry) PortByNativePath(path string) (*domain.Port, bool) { return nil, false }
func (r *fakeRegistry) PortByObjectID(id string) (*domain.Port, bool) { return nil, false }
func (r *fakeRegistry) Ports() []*domain.Port { return nil }
func (r *fakeRegistry) InsertExpander(e *domain.Expander) {}
func (r *fakeRegistry) RemoveExpander(e *domain.Expander) {}
func (r *fakeRegistry) ExpanderByNativePath(p string) (*domain.Expander, bool) { return nil, false }
func (r *fakeRegistry) ExpanderByObjectID(id string) (*domain.Expander, bool) { return nil, false }
func (r *fakeRegistry) Expanders() []*domain.Expander { return nil }

type fakeInhibitors struct{ pollingInhibited bool }

func (f *fakeInhibitors) Create(domain.InhibitorKind, domain.Caller, *domain.Device, int) (string, error) {
	return "", nil
}
func (f *fakeInhibitors) Release(domain.InhibitorKind, domain.Caller, string) error { return nil }
func (f *fakeInhibitors) IsServiceInhibited() bool { return false }
func (f *fakeInhibitors) PollingInhibited() bool { return f.pollingInhibited }
func (f *fakeInhibitors) SpindownTimeout(*domain.Device) int { return 0 }

type fakeSynthesizer struct{ calls []string }

func (f *fakeSynthesizer) SynthesizeChanged(dev *domain.Device) { f.calls = append(f.calls, dev.NativePath()) }

func TestRecomputeIncludesRemovableDrives(t *testing.T) {
	reg := newFakeRegistry()
	removable := domain.NewDevice("/sys/block/sdb", time.Now())
	removable.Drive.IsDrive = true
	removable.Medium.IsRemovable = true
	reg.add(removable)

	fixed := domain.NewDevice("/sys/block/sda", time.Now())
	fixed.Drive.IsDrive = true
	reg.add(fixed)

	p := poller.New(reg, &fakeInhibitors{}, &fakeSynthesizer{}, time.Hour, time.Hour)
	p.Recompute()

	ids := p.PolledDevices()
	require.Len(t, ids, 1)
	assert.Equal(t, removable.ObjectID(), ids[0])
}

func TestRecomputeEmptyWhenPollingInhibited(t *testing.T) {
	reg := newFakeRegistry()
	removable := domain.NewDevice("/sys/block/sdb", time.Now())
	removable.Drive.IsDrive = true
	removable.Medium.IsRemovable = true
	reg.add(removable)

	p := poller.New(reg, &fakeInhibitors{pollingInhibited: true}, &fakeSynthesizer{}, time.Hour, time.Hour)
	p.Recompute()

	assert.Empty(t, p.PolledDevices())
}

func TestRecomputeExcludesPerDeviceInhibited(t *testing.T) {
	reg := newFakeRegistry()
	removable := domain.NewDevice("/sys/block/sdb", time.Now())
	removable.Drive.IsDrive = true
	removable.Medium.IsRemovable = true
	removable.PollingInhibitorCount = 1
	reg.add(removable)

	p := poller.New(reg, &fakeInhibitors{}, &fakeSynthesizer{}, time.Hour, time.Hour)
	p.Recompute()

	assert.Empty(t, p.PolledDevices())
}

func TestStartStopTicksAndSynthesizesOnPolledDevices(t *testing.T) {
	reg := newFakeRegistry()
	removable := domain.NewDevice("/sys/block/sdc", time.Now())
	removable.Drive.IsDrive = true
	removable.Medium.IsRemovable = true
	reg.add(removable)

	synth := &fakeSynthesizer{}
	p := poller.New(reg, &fakeInhibitors{}, synth, 20*time.Millisecond, time.Hour)
	p.Recompute()
	p.Start()

	time.Sleep(80 * time.Millisecond)
	p.Stop()

	assert.NotEmpty(t, synth.calls)
}
