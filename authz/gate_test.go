package authz_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdaemon/blockd/apierr"
	"github.com/blockdaemon/blockd/authz"
	"github.com/blockdaemon/blockd/domain"
)

type fakeCaller struct {
	name string
	disconnects []func()
}

func (f *fakeCaller) Name() string { return f.name }
func (f *fakeCaller) UID() uint32 { return 1000 }
func (f *fakeCaller) OnDisconnect(fn func()) func() {
	f.disconnects = append(f.disconnects, fn)
	return func() {}
}
func (f *fakeCaller) disconnect() {
	for _, fn := range f.disconnects {
		fn()
	}
}

type fakeAuthority struct {
	decision domain.AuthDecision
	err error
}

func (a *fakeAuthority) CheckAuthorization(ctx context.Context, caller domain.Caller, action string, details map[string]string, allowUserInteraction bool) (domain.AuthDecision, error) {
	<-ctx.Done()
	if a.err != nil {
		return 0, a.err
	}
	return a.decision, nil
}

type immediateAuthority struct {
	decision domain.AuthDecision
}

func (a *immediateAuthority) CheckAuthorization(ctx context.Context, caller domain.Caller, action string, details map[string]string, allowUserInteraction bool) (domain.AuthDecision, error) {
	return a.decision, nil
}

type noInhibitors struct{}

func (noInhibitors) Create(domain.InhibitorKind, domain.Caller, *domain.Device, int) (string, error) {
	return "", nil
}
func (noInhibitors) Release(domain.InhibitorKind, domain.Caller, string) error { return nil }
func (noInhibitors) IsServiceInhibited() bool { return false }
func (noInhibitors) PollingInhibited() bool { return false }
func (noInhibitors) SpindownTimeout(*domain.Device) int { return 0 }

func TestEmptyActionBypassesAuthority(t *testing.T) {
	gate := authz.New(&immediateAuthority{decision: domain.AuthDenied}, noInhibitors{})
	called := false
	err := gate.Authorize(context.Background(), domain.AuthRequest{}, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestAllowedInvokesContinuation(t *testing.T) {
	gate := authz.New(&immediateAuthority{decision: domain.AuthAllowed}, noInhibitors{})
	caller := &fakeCaller{name: ":1.1"}
	called := false
	err := gate.Authorize(context.Background(), domain.AuthRequest{Action: "org.blockd.mount", Caller: caller}, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestDeniedReturnsPermissionDenied(t *testing.T) {
	gate := authz.New(&immediateAuthority{decision: domain.AuthDenied}, noInhibitors{})
	caller := &fakeCaller{name: ":1.1"}
	err := gate.Authorize(context.Background(), domain.AuthRequest{Action: "org.blockd.mount", Caller: caller}, func(ctx context.Context) error {
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, apierr.PermissionDenied, apierr.CodeOf(err))
}

func TestNeedsAuthenticationReturnsPermissionDenied(t *testing.T) {
	gate := authz.New(&immediateAuthority{decision: domain.AuthNeedsAuthentication}, noInhibitors{})
	caller := &fakeCaller{name: ":1.1"}
	err := gate.Authorize(context.Background(), domain.AuthRequest{Action: "org.blockd.mount", Caller: caller}, func(ctx context.Context) error {
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, apierr.PermissionDenied, apierr.CodeOf(err))
}

type inhibitedOnly struct{ noInhibitors }

func (inhibitedOnly) IsServiceInhibited() bool { return true }

func TestServiceInhibitedFailsBeforeAuthority(t *testing.T) {
	gate := authz.New(&immediateAuthority{decision: domain.AuthAllowed}, inhibitedOnly{})
	err := gate.Authorize(context.Background(), domain.AuthRequest{Action: "org.blockd.mount"}, func(ctx context.Context) error {
		t.Fatal("continuation must not run")
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, apierr.Inhibited, apierr.CodeOf(err))
}

func TestCallerDisconnectCancelsPendingCheck(t *testing.T) {
	gate := authz.New(&fakeAuthority{}, noInhibitors{})
	caller := &fakeCaller{name: ":1.1"}

	done := make(chan error, 1)
	go func() {
		done <- gate.Authorize(context.Background(), domain.AuthRequest{Action: "org.blockd.mount", Caller: caller}, func(ctx context.Context) error {
			return nil
		})
	}()

	time.Sleep(10 * time.Millisecond)
	caller.disconnect()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, apierr.Cancelled, apierr.CodeOf(err))
	case <-time.After(time.Second):
		t.Fatal("authorize did not return after disconnect")
	}
}

func TestSubjectRemovalCancelsPendingCheck(t *testing.T) {
	gate := authz.New(&fakeAuthority{}, noInhibitors{})
	dev := domain.NewDevice("/sys/block/sda", time.Now())

	done := make(chan error, 1)
	go func() {
		done <- gate.Authorize(context.Background(), domain.AuthRequest{Action: "org.blockd.mount", Subject: dev, Caller: &fakeCaller{name: ":1.1"}}, func(ctx context.Context) error {
			return nil
		})
	}()

	time.Sleep(10 * time.Millisecond)
	gate.CancelSubject(dev.ObjectID())

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, apierr.Cancelled, apierr.CodeOf(err))
	case <-time.After(time.Second):
		t.Fatal("authorize did not return after subject removal")
	}
}
