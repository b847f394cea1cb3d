package update_test

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdaemon/blockd/domain"
	"github.com/blockdaemon/blockd/registry"
	"github.com/blockdaemon/blockd/update"
)

func stageDisk(t *testing.T, fs afero.Fs) {
	t.Helper()
	write := func(p, content string) {
		require.NoError(t, afero.WriteFile(fs, p, []byte(content), 0644))
	}
	write("/sys/block/sda/dev", "8:0\n")
	write("/sys/block/sda/size", "2048\n")
	write("/sys/block/sda/removable", "0\n")
	write("/sys/block/sda/ro", "0\n")
	write("/sys/block/sda/range", "16\n")
	write("/sys/block/sda/queue/rotational", "1\n")
	write("/sys/block/sda/queue/logical_block_size", "512\n")
	write("/sys/block/sda/device/vendor", "ATA\n")
	write("/sys/block/sda/device/model", "FAKE DISK\n")
}

func TestRecomputeDeviceClassifiesDrive(t *testing.T) {
	fs := afero.NewMemMapFs()
	stageDisk(t, fs)
	reg := registry.New()

	u := update.New(fs, "/sys", "/dev", reg, nil)
	dev := domain.NewDevice("/sys/block/sda", time.Now())

	res := u.RecomputeDevice(dev, domain.Event{DeviceFile: "/dev/sda"})
	require.True(t, res.Keep)
	assert.True(t, res.Changed)
	assert.True(t, dev.Drive.IsDrive)
	assert.EqualValues(t, 8, dev.Identity.Major)
	assert.EqualValues(t, 0, dev.Identity.Minor)
	assert.Equal(t, uint64(2048*512), dev.Medium.Size)
	assert.Equal(t, "ATA", dev.Drive.Vendor)
	assert.True(t, dev.Drive.IsRotational)
}

func TestRecomputeDeviceRejectsEntityWithoutDevFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	reg := registry.New()
	u := update.New(fs, "/sys", "/dev", reg, nil)
	dev := domain.NewDevice("/sys/block/sdz", time.Now())

	res := u.RecomputeDevice(dev, domain.Event{})
	assert.False(t, res.Keep)
}

func TestRecomputeIsIdempotentWhenInputsUnchanged(t *testing.T) {
	fs := afero.NewMemMapFs()
	stageDisk(t, fs)
	reg := registry.New()
	u := update.New(fs, "/sys", "/dev", reg, nil)
	dev := domain.NewDevice("/sys/block/sda", time.Now())

	first := u.RecomputeDevice(dev, domain.Event{DeviceFile: "/dev/sda"})
	require.True(t, first.Changed)

	second := u.RecomputeDevice(dev, domain.Event{DeviceFile: "/dev/sda"})
	assert.False(t, second.Changed)
}

type fakeMounts struct {
	rows []domain.MountRow
}

func (f *fakeMounts) Refresh() ([]domain.MountEvent, error) { return nil, nil }
func (f *fakeMounts) Snapshot() []domain.MountRow { return f.rows }

func TestRecomputeDeviceReflectsMountState(t *testing.T) {
	fs := afero.NewMemMapFs()
	stageDisk(t, fs)
	reg := registry.New()
	mounts := &fakeMounts{rows: []domain.MountRow{{Major: 8, Minor: 0, MountPath: "/media/disk"}}}

	u := update.New(fs, "/sys", "/dev", reg, mounts)
	dev := domain.NewDevice("/sys/block/sda", time.Now())

	res := u.RecomputeDevice(dev, domain.Event{DeviceFile: "/dev/sda"})
	require.True(t, res.Keep)
	assert.True(t, dev.MountState.IsMounted)
	assert.Equal(t, []string{"/media/disk"}, dev.MountState.MountPaths)
}

func TestLuksCleartextRecognizedByDaemonNamingConvention(t *testing.T) {
	fs := afero.NewMemMapFs()
	stageDisk(t, fs)
	write := func(p, content string) {
		require.NoError(t, afero.WriteFile(fs, p, []byte(content), 0644))
	}
	write("/sys/block/dm-0/dev", "253:0\n")
	write("/sys/block/dm-0/size", "1024\n")

	reg := registry.New()
	u := update.New(fs, "/sys", "/dev", reg, nil)

	ciphertext := domain.NewDevice("/sys/block/sda", time.Now())
	u.RecomputeDevice(ciphertext, domain.Event{DeviceFile: "/dev/sda"})
	reg.InsertDevice(ciphertext)

	require.NoError(t, afero.WriteFile(fs, "/sys/block/dm-0/slaves/sda", nil, 0644))

	cleartext := domain.NewDevice("/sys/block/dm-0", time.Now())
	cleartext.DMName = "blockd-luks-uuid-11111111-2222-3333-4444-555555555555-uid1000"
	res := u.RecomputeDevice(cleartext, domain.Event{DeviceFile: "/dev/mapper/blockd-luks"})
	require.True(t, res.Keep)
	assert.True(t, cleartext.Luks.IsLuksCleartext)
	assert.EqualValues(t, 1000, cleartext.Luks.CleartextUnlockedUID)
	assert.Equal(t, ciphertext.ObjectID(), cleartext.Luks.CleartextSlave)
}
