package inhibit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdaemon/blockd/domain"
	"github.com/blockdaemon/blockd/inhibit"
)

type fakeCaller struct {
	name string
	uid uint32
	disconnects []func()
}

func (f *fakeCaller) Name() string { return f.name }
func (f *fakeCaller) UID() uint32 { return f.uid }
func (f *fakeCaller) OnDisconnect(fn func()) func() {
	f.disconnects = append(f.disconnects, fn)
	return func() {}
}
func (f *fakeCaller) disconnect() {
	for _, fn := range f.disconnects {
		fn()
	}
}

func TestPollingInhibitedWhileAnyCookieOutstanding(t *testing.T) {
	reg := inhibit.New()
	a := &fakeCaller{name: ":1.1"}
	b := &fakeCaller{name: ":1.2"}

	cookieA, err := reg.Create(domain.InhibitPolling, a, nil, 0)
	require.NoError(t, err)
	_, err = reg.Create(domain.InhibitPolling, b, nil, 0)
	require.NoError(t, err)

	assert.True(t, reg.PollingInhibited())

	b.disconnect()
	assert.True(t, reg.PollingInhibited(), "a's inhibitor should persist")

	require.NoError(t, reg.Release(domain.InhibitPolling, a, cookieA))
	assert.False(t, reg.PollingInhibited())
}

func TestReleaseRequiresMatchingCaller(t *testing.T) {
	reg := inhibit.New()
	a := &fakeCaller{name: ":1.1"}
	other := &fakeCaller{name: ":1.2"}

	cookie, err := reg.Create(domain.InhibitService, a, nil, 0)
	require.NoError(t, err)

	err = reg.Release(domain.InhibitService, other, cookie)
	assert.Error(t, err)
	assert.True(t, reg.IsServiceInhibited())
}

func TestSpindownTimeoutPicksLowestOutstanding(t *testing.T) {
	reg := inhibit.New()
	dev := domain.NewDevice("/sys/block/sda", time.Now())
	dev.Drive.SpindownTimeoutSecs = 600

	caller := &fakeCaller{name: ":1.1"}
	_, err := reg.Create(domain.InhibitSpindown, caller, dev, 120)
	require.NoError(t, err)

	assert.Equal(t, 120, reg.SpindownTimeout(dev))
}

func TestSpindownTimeoutDefaultsToDeviceConfigured(t *testing.T) {
	reg := inhibit.New()
	dev := domain.NewDevice("/sys/block/sdb", time.Now())
	dev.Drive.SpindownTimeoutSecs = 300

	assert.Equal(t, 300, reg.SpindownTimeout(dev))
}
