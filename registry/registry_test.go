package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdaemon/blockd/domain"
	"github.com/blockdaemon/blockd/registry"
)

func TestInsertAndLookupDevice(t *testing.T) {
	reg := registry.New()

	dev := domain.NewDevice("/sys/devices/pci0000:00/0000:00:1f.2/ata1/host0/target0:0:0/0:0:0:0/block/sda", time.Now())
	dev.Identity.DeviceFile = "/dev/sda"
	dev.Identity.Major = 8
	dev.Identity.Minor = 0

	reg.InsertDevice(dev)

	byPath, ok := reg.DeviceByNativePath(dev.NativePath())
	require.True(t, ok)
	assert.Same(t, dev, byPath)

	byFile, ok := reg.DeviceByDeviceFile("/dev/sda")
	require.True(t, ok)
	assert.Same(t, dev, byFile)

	byMM, ok := reg.DeviceByMajorMinor(8, 0)
	require.True(t, ok)
	assert.Same(t, dev, byMM)

	byID, ok := reg.DeviceByObjectID(dev.ObjectID())
	require.True(t, ok)
	assert.Same(t, dev, byID)

	assert.Len(t, reg.Devices(), 1)
}

func TestRemoveDeviceDropsAllKeys(t *testing.T) {
	reg := registry.New()
	dev := domain.NewDevice("/sys/block/sdb", time.Now())
	dev.Identity.DeviceFile = "/dev/sdb"
	dev.Identity.Major = 8
	dev.Identity.Minor = 16
	reg.InsertDevice(dev)

	reg.RemoveDevice(dev)

	_, ok := reg.DeviceByNativePath(dev.NativePath())
	assert.False(t, ok)
	_, ok = reg.DeviceByDeviceFile("/dev/sdb")
	assert.False(t, ok)
	_, ok = reg.DeviceByMajorMinor(8, 16)
	assert.False(t, ok)
	_, ok = reg.DeviceByObjectID(dev.ObjectID())
	assert.False(t, ok)
	assert.Len(t, reg.Devices(), 0)
}

func TestReinsertDeviceOnRename(t *testing.T) {
	reg := registry.New()
	dev := domain.NewDevice("/sys/block/sdc", time.Now())
	dev.Identity.DeviceFile = "/dev/sdc"
	dev.Identity.Major = 8
	dev.Identity.Minor = 32
	reg.InsertDevice(dev)

	oldPath, oldFile, oldMajor, oldMinor := dev.NativePath(), dev.Identity.DeviceFile, dev.Identity.Major, dev.Identity.Minor

	dev.SetNativePath("/sys/block/sdc-renamed")
	dev.Identity.DeviceFile = "/dev/sdc-renamed"

	reg.ReinsertDevice(dev, oldPath, oldFile, oldMajor, oldMinor)

	_, ok := reg.DeviceByNativePath(oldPath)
	assert.False(t, ok)
	_, ok = reg.DeviceByDeviceFile(oldFile)
	assert.False(t, ok)

	byNewPath, ok := reg.DeviceByNativePath("/sys/block/sdc-renamed")
	require.True(t, ok)
	assert.Same(t, dev, byNewPath)

	byNewFile, ok := reg.DeviceByDeviceFile("/dev/sdc-renamed")
	require.True(t, ok)
	assert.Same(t, dev, byNewFile)

	// major/minor is unchanged, still indexed.
	byMM, ok := reg.DeviceByMajorMinor(8, 32)
	require.True(t, ok)
	assert.Same(t, dev, byMM)
}

func TestAdapterPortExpanderIndices(t *testing.T) {
	reg := registry.New()

	a := domain.NewAdapter("/sys/devices/pci0000:00/0000:00:1f.2", time.Now())
	reg.InsertAdapter(a)
	got, ok := reg.AdapterByNativePath(a.NativePath())
	require.True(t, ok)
	assert.Same(t, a, got)

	p := domain.NewPort("/sys/class/scsi_host/host0", time.Now())
	reg.InsertPort(p)
	gp, ok := reg.PortByObjectID(p.ObjectID())
	require.True(t, ok)
	assert.Same(t, p, gp)

	e := domain.NewExpander("/sys/class/sas_expander/expander-0:0", time.Now())
	reg.InsertExpander(e)
	ge, ok := reg.ExpanderByNativePath(e.NativePath())
	require.True(t, ok)
	assert.Same(t, e, ge)

	reg.RemoveAdapter(a)
	_, ok = reg.AdapterByNativePath(a.NativePath())
	assert.False(t, ok)
}
