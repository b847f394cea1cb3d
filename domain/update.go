package domain

// UpdateResult is returned by every recompute call.
type UpdateResult struct {
	// Keep is false iff the entity should be torn down even though the
	// triggering event was not "remove".
	Keep bool

	// Changed is true iff any exported attribute's value differs from
	// before the recompute ran.
	Changed bool

	// NeighborsToRecompute lists the object-ids of entities whose
	// slaves/holders relationship with this one just appeared or
	// disappeared; the reconciliation core schedules an idle-priority
	// recompute on each.
	NeighborsToRecompute []string
}

// UpdaterIface recomputes an entity's derived attributes from its raw
// sysfs/procfs/uevent inputs.
type UpdaterIface interface {
	// RecomputeDevice re-derives every exported attribute of dev from raw
	// sysfs/event inputs, in the fixed dependency order the model requires.
	RecomputeDevice(dev *Device, ev Event) UpdateResult

	RecomputeAdapter(a *Adapter, ev Event) UpdateResult
	RecomputePort(p *Port, ev Event) UpdateResult
	RecomputeExpander(e *Expander, ev Event) UpdateResult
}
