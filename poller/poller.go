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

// Package poller implements the set of drives subject to periodic
// media-change polling, and the MD sync-progress refresh tick, both
// re-derived on every topology change and driven by a background ticker
// grounded on the teacher's periodic housekeeping goroutine in
// state/periodicChecker.go (start/stop channel, single background
// goroutine, idempotent Stop).
package poller

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blockdaemon/blockd/domain"
)

// Synthesizer is the narrow slice of reconcile.Core the poller needs: firing
// a synthesized change event to force a fresh derivation of a device's
// attributes (media availability, MD sync progress) without importing
// reconcile directly.
type Synthesizer interface {
	SynthesizeChanged(dev *domain.Device)
}

// Poller implements domain.PollerIface.
type Poller struct {
	reg domain.RegistryIface
	inhibitors domain.InhibitorRegistryIface
	reconciler Synthesizer
	pollEvery time.Duration
	mdSyncEvery time.Duration

	mu sync.Mutex
	polled map[string]bool // object-id set

	stopOnce sync.Once
	stopCh chan struct{}
	wg sync.WaitGroup
}

var _ domain.PollerIface = (*Poller)(nil)

// New starts no goroutines by itself; call Start to begin the background
// ticks once the daemon has finished coldplug.
func New(reg domain.RegistryIface, inhibitors domain.InhibitorRegistryIface, reconciler Synthesizer, pollEvery, mdSyncEvery time.Duration) *Poller {
	return &Poller{
		reg: reg,
		inhibitors: inhibitors,
		reconciler: reconciler,
		pollEvery: pollEvery,
		mdSyncEvery: mdSyncEvery,
		polled: make(map[string]bool),
		stopCh: make(chan struct{}),
	}
}

// Start launches the two background tickers: one re-synthesizing a changed
// event on every polled drive (media-change detection), the other doing the
// same for every registered MD array (sync-progress refresh,
// scenario 6). Both reuse SynthesizeChanged rather than touching sysfs
// themselves, so a single derivation pipeline (update.Updater) stays the
// only place attributes are computed.
func (p *Poller) Start() {
	p.wg.Add(2)
	go p.runTicker(p.pollEvery, p.tickPoll)
	go p.runTicker(p.mdSyncEvery, p.tickMDSync)
}

func (p *Poller) runTicker(interval time.Duration, tick func()) {
	defer p.wg.Done()
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-t.C:
			tick()
		}
	}
}

func (p *Poller) tickPoll() {
	for _, id := range p.PolledDevices() {
		dev, ok := p.reg.DeviceByObjectID(id)
		if !ok {
			continue
		}
		p.reconciler.SynthesizeChanged(dev)
	}
}

func (p *Poller) tickMDSync() {
	for _, dev := range p.reg.Devices() {
		if !dev.MD.IsMD {
			continue
		}
		p.reconciler.SynthesizeChanged(dev)
	}
}

func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// Recompute re-derives the poll set from the current registry contents and
// inhibitor state.
func (p *Poller) Recompute() {
	next := make(map[string]bool)

	if p.inhibitors == nil || !p.inhibitors.PollingInhibited() {
		for _, dev := range p.reg.Devices() {
			if p.eligibleForPolling(dev) {
				next[dev.ObjectID()] = true
			}
		}
	}

	p.mu.Lock()
	p.polled = next
	p.mu.Unlock()

	logrus.Debugf("poller: poll set now has %d device(s)", len(next))
}

// eligibleForPolling mirrors the udisks2 convention: only removable-media
// drives that can report media presence, and are not individually
// inhibited, need active polling — fixed disks surface media-available via
// kernel change events alone.
func (p *Poller) eligibleForPolling(dev *domain.Device) bool {
	if !dev.Drive.IsDrive {
		return false
	}
	if dev.PollingInhibitorCount > 0 {
		return false
	}
	return dev.Medium.IsRemovable || dev.Optical.IsOpticalDisc
}

func (p *Poller) PolledDevices() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.polled))
	for id := range p.polled {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
