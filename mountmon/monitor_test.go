package mountmon_test

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdaemon/blockd/mountmon"
)

func TestMain(m *testing.M) {
	logrus.SetOutput(io.Discard)
	m.Run()
}

const mountInfoV1 = `36 35 8:1 / /mnt/data rw,relatime shared:1 - ext4 /dev/sda1 rw
37 35 8:2 / /mnt/backup rw,relatime shared:2 - ext4 /dev/sda2 rw
`

const mountInfoV2 = `36 35 8:1 / /mnt/data rw,relatime shared:1 - ext4 /dev/sda1 rw
38 35 8:3 / /mnt/extra rw,relatime shared:3 - ext4 /dev/sda3 rw
`

func TestRefreshEmitsInitialAdds(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proc/self/mountinfo", []byte(mountInfoV1), 0644))

	mon := mountmon.New(fs, "/proc/self/mountinfo")
	events, err := mon.Refresh()
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.True(t, ev.Added)
	}
}

func TestRefreshDiffsRemovedBeforeAdded(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proc/self/mountinfo", []byte(mountInfoV1), 0644))

	mon := mountmon.New(fs, "/proc/self/mountinfo")
	_, err := mon.Refresh()
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fs, "/proc/self/mountinfo", []byte(mountInfoV2), 0644))
	events, err := mon.Refresh()
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.False(t, events[0].Added)
	assert.Equal(t, "/mnt/backup", events[0].MountPath)
	assert.True(t, events[1].Added)
	assert.Equal(t, "/mnt/extra", events[1].MountPath)
}

func TestSnapshotSortedByMountPath(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proc/self/mountinfo", []byte(mountInfoV1), 0644))

	mon := mountmon.New(fs, "/proc/self/mountinfo")
	_, err := mon.Refresh()
	require.NoError(t, err)

	rows := mon.Snapshot()
	require.Len(t, rows, 2)
	assert.Equal(t, "/mnt/backup", rows[0].MountPath)
	assert.Equal(t, "/mnt/data", rows[1].MountPath)
}

func TestSubtreeMountsSkipped(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := "40 35 8:1 /subdir /mnt/data/sub rw,relatime shared:1 - ext4 /dev/sda1 rw\n"
	require.NoError(t, afero.WriteFile(fs, "/proc/self/mountinfo", []byte(data), 0644))

	mon := mountmon.New(fs, "/proc/self/mountinfo")
	events, err := mon.Refresh()
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestOctalEscapedPathsUnescaped(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := "36 35 8:1 / /mnt/my\\040disk rw,relatime shared:1 - ext4 /dev/sda1 rw\n"
	require.NoError(t, afero.WriteFile(fs, "/proc/self/mountinfo", []byte(data), 0644))

	mon := mountmon.New(fs, "/proc/self/mountinfo")
	events, err := mon.Refresh()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "/mnt/my disk", events[0].MountPath)
}

func TestMalformedLineSkipped(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := "garbage line with too few fields\n" + mountInfoV1
	require.NoError(t, afero.WriteFile(fs, "/proc/self/mountinfo", []byte(data), 0644))

	mon := mountmon.New(fs, "/proc/self/mountinfo")
	events, err := mon.Refresh()
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
