package sysfs_test

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"

	"github.com/blockdaemon/blockd/sysfs"
)

func TestMain(m *testing.M) {
	logrus.SetOutput(io.Discard)
	m.Run()
}

func newFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require := func(err error) {
		if err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	require(afero.WriteFile(fs, "/sys/block/sda/size", []byte("204800\n"), 0644))
	require(afero.WriteFile(fs, "/sys/block/sda/removable", []byte("0\n"), 0644))
	require(afero.WriteFile(fs, "/sys/block/sda/ro", []byte("1\n"), 0644))
	require(afero.WriteFile(fs, "/sys/block/sda/device/vendor", []byte("ATA \n"), 0644))
	require(afero.WriteFile(fs, "/sys/block/sda/garbage_bool", []byte("maybe\n"), 0644))
	return fs
}

func TestReadString(t *testing.T) {
	fs := newFs(t)
	r := sysfs.New(fs, "/sys/block/sda")

	v, ok := r.ReadString("device/vendor")
	assert.True(t, ok)
	assert.Equal(t, "ATA", v)
}

func TestReadUint64(t *testing.T) {
	r := sysfs.New(newFs(t), "/sys/block/sda")

	v, ok := r.ReadUint64("size")
	assert.True(t, ok)
	assert.Equal(t, uint64(204800), v)
}

func TestReadBool(t *testing.T) {
	r := sysfs.New(newFs(t), "/sys/block/sda")

	removable, ok := r.ReadBool("removable")
	assert.True(t, ok)
	assert.False(t, removable)

	ro, ok := r.ReadBool("ro")
	assert.True(t, ok)
	assert.True(t, ro)
}

func TestReadBoolMalformedYieldsZeroValue(t *testing.T) {
	r := sysfs.New(newFs(t), "/sys/block/sda")

	v, ok := r.ReadBool("garbage_bool")
	assert.False(t, ok)
	assert.False(t, v)
}

func TestReadMissingAttributeYieldsZeroValue(t *testing.T) {
	r := sysfs.New(newFs(t), "/sys/block/sda")

	s, ok := r.ReadString("does_not_exist")
	assert.False(t, ok)
	assert.Equal(t, "", s)

	n, ok := r.ReadInt("does_not_exist")
	assert.False(t, ok)
	assert.Equal(t, 0, n)
}

func TestWithRoot(t *testing.T) {
	r := sysfs.New(newFs(t), "/sys/block")
	sub := r.WithRoot("sda")

	v, ok := sub.ReadUint64("size")
	assert.True(t, ok)
	assert.Equal(t, uint64(204800), v)
	assert.Equal(t, "/sys/block/sda", sub.Root())
}

func TestExists(t *testing.T) {
	r := sysfs.New(newFs(t), "/sys/block/sda")
	assert.True(t, r.Exists("size"))
	assert.False(t, r.Exists("nope"))
}
