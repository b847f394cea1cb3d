package eventsource

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdaemon/blockd/domain"
)

func rawUevent(parts...string) []byte {
	var buf []byte
	for _, p := range parts {
		buf = append(buf, []byte(p)...)
		buf = append(buf, 0)
	}
	return buf
}

func TestParseUeventKernelFormat(t *testing.T) {
	data := rawUevent("add@/devices/pci0000:00/block/sda", "ACTION=add", "SUBSYSTEM=block", "DEVNAME=sda", "MAJOR=8", "MINOR=0")

	ev := parseUevent(data)
	require.NotNil(t, ev)
	assert.Equal(t, domain.ActionAdd, ev.Action)
	assert.Equal(t, "/devices/pci0000:00/block/sda", ev.NativePath)
	assert.Equal(t, domain.SubsystemBlock, ev.Subsystem)
	assert.Equal(t, "/dev/sda", ev.DeviceFile)
	assert.EqualValues(t, 8, ev.Major)
	assert.EqualValues(t, 0, ev.Minor)
}

func TestParseUeventWithLibudevHeader(t *testing.T) {
	header := append([]byte("libudev"), make([]byte, 8)...)
	body := rawUevent("change@/devices/pci0000:00/block/sdb", "ACTION=change", "SUBSYSTEM=block")
	data := append(header, body...)

	ev := parseUevent(data)
	require.NotNil(t, ev)
	assert.Equal(t, domain.ActionChange, ev.Action)
	assert.Equal(t, "/devices/pci0000:00/block/sdb", ev.NativePath)
}

func TestParseUeventRejectsMalformedHeader(t *testing.T) {
	assert.Nil(t, parseUevent([]byte("no-at-sign-here\x00FOO=bar")))
	assert.Nil(t, parseUevent(nil))
}

func TestUeventFromAttrsParsesKeyValueLines(t *testing.T) {
	raw := "MAJOR=8\nMINOR=16\nDEVNAME=sdb\nSUBSYSTEM=block\n"
	ev := ueventFromAttrs("/sys/block/sdb", domain.ActionAdd, []byte(raw))

	assert.Equal(t, domain.ActionAdd, ev.Action)
	assert.Equal(t, domain.SubsystemBlock, ev.Subsystem)
	assert.Equal(t, "/dev/sdb", ev.DeviceFile)
	assert.EqualValues(t, 8, ev.Major)
	assert.EqualValues(t, 16, ev.Minor)
}

func TestColdplugWalkEmitsInFixedClassOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/sys/block/sda/uevent", []byte("DEVNAME=sda\nSUBSYSTEM=block\n"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/sys/class/scsi_host/host0/uevent", []byte(""), 0644))

	c := NewColdplug(fs, "/sys")
	var subsystems []domain.Subsystem
	require.NoError(t, c.Walk(func(ev domain.Event) {
		subsystems = append(subsystems, ev.Subsystem)
	}))

	require.Len(t, subsystems, 2)
	assert.Equal(t, domain.SubsystemSCSIHost, subsystems[0])
	assert.Equal(t, domain.SubsystemBlock, subsystems[1])
}

func TestColdplugWalkSkipsAbsentClassDirs(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := NewColdplug(fs, "/sys")
	var count int
	require.NoError(t, c.Walk(func(ev domain.Event) { count++ }))
	assert.Equal(t, 0, count)
}
