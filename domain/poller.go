package domain

// PollerIface maintains the set of drives requiring periodic
// media-change polling and per-drive spindown timeouts, recomputed on every
// topology change.
type PollerIface interface {
	// Recompute re-derives the poll set and spindown setpoints from the
	// current registry contents and inhibitor state. Called after every
	// entity add/change/remove and every inhibitor create/release.
	Recompute()

	// PolledDevices returns the object-ids of devices currently subject to
	// media-change polling (empty when polling is globally inhibited).
	PolledDevices() []string

	Stop()
}
