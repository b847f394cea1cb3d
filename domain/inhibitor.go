package domain

// InhibitorKind distinguishes the three inhibitor lists a subject can be
// placed on.
type InhibitorKind int

const (
	InhibitPolling InhibitorKind = iota
	InhibitSpindown
	InhibitService
)

// Inhibitor is a caller-scoped token (GLOSSARY: "Inhibitor").
type Inhibitor struct {
	Kind InhibitorKind
	Cookie string
	Caller Caller
	Device *Device // nil for whole-daemon / all-polling inhibitors
	TimeoutSecs int // only meaningful for InhibitSpindown
}

// InhibitorRegistryIface tracks the three inhibitor lists and derives
// per-device polling/spindown state from them.
type InhibitorRegistryIface interface {
	// Create adds an inhibitor of the given kind, observes the caller's
	// disconnect, and returns the cookie handed back to the caller.
	Create(kind InhibitorKind, caller Caller, dev *Device, timeoutSecs int) (cookie string, err error)

	// Release removes the inhibitor matching cookie iff it was created by
	// caller.
	Release(kind InhibitorKind, caller Caller, cookie string) error

	// IsServiceInhibited reports whether any whole-daemon inhibitor is
	// outstanding.
	IsServiceInhibited() bool

	// PollingInhibited reports whether device polling is globally suspended.
	PollingInhibited() bool

	// SpindownTimeout returns the effective spindown timeout for dev: the
	// minimum of dev's own configured timeout and all outstanding per-device
	// and all-drives spindown inhibitors.
	SpindownTimeout(dev *Device) int
}
