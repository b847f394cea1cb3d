package domain

// ReconcilerIface is the single entry point for every kernel event.
type ReconcilerIface interface {
	// HandleEvent dispatches ev to the sub-reconciler matching ev.Subsystem
	// and runs the uniform add/change/remove algorithm.
	HandleEvent(ev Event)

	// SynthesizeChanged re-enters HandleEvent as a synthesized "change" on
	// dev, the only sanctioned way to trigger a recompute from inside a job
	// completion callback.
	SynthesizeChanged(dev *Device)

	// SynthesizeChangedOnAll re-enters HandleEvent for every registered
	// Device.
	SynthesizeChangedOnAll()
}

// TeardownIface is §4.11's force-teardown, invoked by the reconciliation
// core on removal or on media-available-going-false.
type TeardownIface interface {
	ForceTeardown(dev *Device)
}
