package domain

import "context"

// JobStatus is the per-device job state machine.
type JobStatus int

const (
	JobIdle JobStatus = iota
	JobRunning
	JobCancelling
	JobCompleted
)

// JobResult is passed to a Job's completion callback.
type JobResult struct {
	Cancelled bool
	ExitCode int
	Stderr string
	Stdout string // full captured stdout text, newline-terminated per line
	Err error // non-nil if the helper could not even be spawned
}

// JobCompletionFunc is invoked exactly once when a Job finishes, with the
// job-scoped user data it was started with.
type JobCompletionFunc func(ctx context.Context, result JobResult, userData interface{})

// JobSpec describes a helper invocation to be serialized through the Job
// Engine.
type JobSpec struct {
	Name string // the human id exposed as Device.job-id
	Argv []string
	Stdin []byte // zeroed by the engine once written
	InitiatedByUID uint32
	Cancellable bool

	// ProgressPrefix, when non-empty, is the literal tag the engine scans
	// stdout lines for; the remainder of a
	// matching line must parse as a float in [0,100].
	ProgressPrefix string

	// SettleAfter requests a post-completion "udev settle" helper invocation
	// when the primary helper exits 0 and was not cancelled.
	SettleAfter bool

	UserData interface{}
	OnDone JobCompletionFunc
}

// LocalJobIface is the lighter job_local_start/job_local_end primitive,
// used when an operation must reserve the device's job slot without
// spawning a helper (e.g. LUKS Lock waiting for cleartext removal).
type LocalJobIface interface {
	End()
}

// EngineIface serializes helper invocations one-per-device-job-slot.
type EngineIface interface {
	// Start attempts to acquire dev's job slot and launch spec.Argv via the
	// system PATH. It fails with apierr.Busy before spawning anything if a
	// job is already running on dev.
	Start(ctx context.Context, dev *Device, spec JobSpec) error

	// StartLocal reserves dev's job slot without spawning a helper
	// (job_local_start). Callers must call End on the returned handle
	// exactly once.
	StartLocal(dev *Device, name string, initiatedByUID uint32) (LocalJobIface, error)

	// Cancel sends SIGTERM to the helper running on dev, if any, and
	// requests the engine report Cancelled on completion.
	Cancel(dev *Device) error
}

// SpindownEncode maps a spindown timeout in seconds to the kernel's ATA
// standby encoding, per "Drive Set Spindown Timeout" ranges:
// {0, 1..240*5s, (240*5s, 5.5h]} -> {0, value/5, 240+value/(30*60) clamped to 251}.
func SpindownEncode(seconds int) int {
	switch {
	case seconds <= 0:
		return 0
	case seconds <= 240*5:
		v := seconds / 5
		if v < 1 {
			v = 1
		}
		return v
	default:
		v := 240 + seconds/(30*60)
		if v > 251 {
			v = 251
		}
		return v
	}
}
