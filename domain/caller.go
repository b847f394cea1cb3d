package domain

// Caller identifies the remote peer that invoked an operation. The
// transport (dbusapi/) is the only package that constructs these; every
// other package treats Caller as an opaque, comparable handle plus a
// disconnect-notification hook, matching note that the
// transport itself is an external collaborator.
type Caller interface {
	// Name is the transport-level unique connection name (e.g. a D-Bus
	// unique name like ":1.42"), used as the inhibitor/job identity key.
	Name() string

	// UID is the caller's effective user id, resolved by the transport via
	// its own credential-passing mechanism.
	UID() uint32

	// OnDisconnect registers fn to run exactly once when the caller's
	// connection goes away. It returns a cancel function that unregisters
	// fn if it is no longer needed (e.g. the operation it guarded already
	// completed).
	OnDisconnect(fn func()) (cancel func())
}
