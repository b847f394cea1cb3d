//
// Copyright 2026 Blockd authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package inhibit implements the three inhibitor lists plus the
// per-device polling/spindown inhibitor counts. Cookies are generated with
// google/uuid the way the rest of the pack mints correlation ids.
package inhibit

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/blockdaemon/blockd/domain"
)

type entry struct {
	inhibitor domain.Inhibitor
	cancel func()
}

// Registry implements domain.InhibitorRegistryIface.
type Registry struct {
	mu sync.Mutex
	byKind map[domain.InhibitorKind]map[string]entry // cookie -> entry
}

var _ domain.InhibitorRegistryIface = (*Registry)(nil)

func New() *Registry {
	return &Registry{
		byKind: map[domain.InhibitorKind]map[string]entry{
			domain.InhibitPolling: {},
			domain.InhibitSpindown: {},
			domain.InhibitService: {},
		},
	}
}

func (r *Registry) Create(kind domain.InhibitorKind, caller domain.Caller, dev *domain.Device, timeoutSecs int) (string, error) {
	cookie := uuid.NewString()
	inh := domain.Inhibitor{Kind: kind, Cookie: cookie, Caller: caller, Device: dev, TimeoutSecs: timeoutSecs}

	r.mu.Lock()
	cancel := caller.OnDisconnect(func() { r.releaseAllFor(caller) })
	r.byKind[kind][cookie] = entry{inhibitor: inh, cancel: cancel}
	r.mu.Unlock()

	if dev != nil {
		r.applyDeviceCounts(dev, kind, +1)
	}
	return cookie, nil
}

func (r *Registry) Release(kind domain.InhibitorKind, caller domain.Caller, cookie string) error {
	r.mu.Lock()
	e, ok := r.byKind[kind][cookie]
	if !ok || e.inhibitor.Caller.Name() != caller.Name() {
		r.mu.Unlock()
		return fmt.Errorf("inhibit: no matching inhibitor for cookie %s", cookie)
	}
	delete(r.byKind[kind], cookie)
	r.mu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
	if e.inhibitor.Device != nil {
		r.applyDeviceCounts(e.inhibitor.Device, kind, -1)
	}
	return nil
}

// releaseAllFor drops every inhibitor caller held, across all three lists,
// once its connection goes away.
func (r *Registry) releaseAllFor(caller domain.Caller) {
	for _, kind := range []domain.InhibitorKind{domain.InhibitPolling, domain.InhibitSpindown, domain.InhibitService} {
		var toDrop []entry
		r.mu.Lock()
		for cookie, e := range r.byKind[kind] {
			if e.inhibitor.Caller.Name() == caller.Name() {
				toDrop = append(toDrop, e)
				delete(r.byKind[kind], cookie)
			}
		}
		r.mu.Unlock()
		for _, e := range toDrop {
			if e.inhibitor.Device != nil {
				r.applyDeviceCounts(e.inhibitor.Device, kind, -1)
			}
		}
	}
}

func (r *Registry) applyDeviceCounts(dev *domain.Device, kind domain.InhibitorKind, delta int) {
	switch kind {
	case domain.InhibitPolling:
		dev.PollingInhibitorCount += delta
	case domain.InhibitSpindown:
		dev.SpindownInhibitorCount += delta
	}
}

func (r *Registry) IsServiceInhibited() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKind[domain.InhibitService]) > 0
}

func (r *Registry) PollingInhibited() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKind[domain.InhibitPolling]) > 0
}

// SpindownTimeout returns the lower-of-all-timeouts: the minimum of every
// outstanding spindown inhibitor's timeout (daemon-wide or scoped to dev)
// and dev's own configured timeout, 0 meaning "never" is excluded from the
// minimum unless it is the only value present.
func (r *Registry) SpindownTimeout(dev *domain.Device) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := dev.Drive.SpindownTimeoutSecs
	for _, e := range r.byKind[domain.InhibitSpindown] {
		if e.inhibitor.Device != nil && e.inhibitor.Device != dev {
			continue
		}
		if e.inhibitor.TimeoutSecs <= 0 {
			continue
		}
		if best <= 0 || e.inhibitor.TimeoutSecs < best {
			best = e.inhibitor.TimeoutSecs
		}
	}
	return best
}
