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

package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/blockdaemon/blockd/authz"
	"github.com/blockdaemon/blockd/dbusapi"
	"github.com/blockdaemon/blockd/domain"
	"github.com/blockdaemon/blockd/eventsource"
	"github.com/blockdaemon/blockd/inhibit"
	"github.com/blockdaemon/blockd/job"
	"github.com/blockdaemon/blockd/mountmon"
	"github.com/blockdaemon/blockd/mountstore"
	"github.com/blockdaemon/blockd/ops"
	"github.com/blockdaemon/blockd/poller"
	"github.com/blockdaemon/blockd/reconcile"
	"github.com/blockdaemon/blockd/registry"
	"github.com/blockdaemon/blockd/update"
)

// Daemon wires every component into a running service: the
// registry, the derivation pipeline, the reconciliation core, the poller,
// the operation handlers and the D-Bus transport, then drives the event
// loop that feeds kernel and mount events into the core.
type Daemon struct {
	cfg *Config

	reg *registry.Registry
	updater *update.Updater
	mountmon *mountmon.Monitor
	mountstore *mountstore.Store
	inhibitors *inhibit.Registry
	gate *authz.Gate
	jobs domain.EngineIface
	core *reconcile.Core
	poll *poller.Poller
	source *eventsource.Source
	fstab *ops.FstabIndex
	mdSlots *ops.MDSlotScanner
	handlers *ops.Handlers
	bus *dbusapi.Service

	metricsReg *prometheus.Registry
	metrics *Metrics

	cancel context.CancelFunc
	wg sync.WaitGroup
}

// metricsEngine decorates domain.EngineIface with job-count observation,
// the same OnDone-chaining trick ops.runJobSync uses to observe completion
// without the engine itself knowing about metrics.
type metricsEngine struct {
	domain.EngineIface
	metrics *Metrics
}

func (e *metricsEngine) Start(ctx context.Context, dev *domain.Device, spec domain.JobSpec) error {
	e.metrics.JobStarted()
	userOnDone := spec.OnDone
	spec.OnDone = func(ctx context.Context, result domain.JobResult, userData interface{}) {
		outcome := "ok"
		switch {
		case result.Cancelled:
			outcome = "cancelled"
		case result.Err != nil || result.ExitCode != 0:
			outcome = "failed"
		}
		e.metrics.JobFinished(spec.Name, outcome)
		if userOnDone != nil {
			userOnDone(ctx, result, userData)
		}
	}
	if err := e.EngineIface.Start(ctx, dev, spec); err != nil {
		e.metrics.JobFinished(spec.Name, "rejected")
		return err
	}
	return nil
}

// New builds every collaborator but neither runs the initial coldplug nor
// starts background goroutines or D-Bus export; call Coldplug and Start for
// those.
func New(cfg *Config, conn *dbus.Conn) (*Daemon, error) {
	fs := afero.NewOsFs()

	reg := registry.New()
	mm := mountmon.New(fs, cfg.MountInfoPath)
	upd := update.New(fs, cfg.SysRoot, cfg.DevRoot, reg, mm)
	ms := mountstore.New(fs, cfg.MountStorePath)
	inhibitors := inhibit.New()

	authority := NewPolkitAuthority(conn)
	gate := authz.New(authority, inhibitors)

	rawJobs := job.New()
	metricsReg := prometheus.NewRegistry()
	metrics := NewMetrics(metricsReg)
	jobs := &metricsEngine{EngineIface: rawJobs, metrics: metrics}

	// reconcile.Core needs a PollerIface at construction, and poller.Poller
	// needs the Core as its Synthesizer: build Core with a nil poller, build
	// the real Poller against it, then close the loop with SetPoller.
	core := reconcile.New(reg, upd, nil, nil, jobs, ms, gate)

	fstab := ops.NewFstabIndex(fs, cfg.FstabPath)
	core.InFstab = fstab.Contains

	pll := poller.New(reg, inhibitors, core, cfg.PollEvery, cfg.MDSyncEvery)
	core.SetPoller(pll)

	src, err := eventsource.New(fs, cfg.SysRoot, cfg.MdstatPath)
	if err != nil {
		return nil, err
	}

	mdSlots := ops.NewMDSlotScanner(fs, cfg.SysRoot)

	handlers := &ops.Handlers{
		Registry: reg,
		Gate: gate,
		Jobs: jobs,
		Mounts: ms,
		Inhibitors: inhibitors,
		Poller: pll,
		Reconciler: core,
		Fstab: fstab,
		MediaRoot: cfg.MediaRoot,
		PollerTick: cfg.PollEvery,
	}

	bus, err := dbusapi.New(reg, inhibitors, handlers, mdSlots)
	if err != nil {
		return nil, err
	}
	// reconcile.Core needs a sink to fire entity lifecycle/job signals
	// into; the D-Bus service is that sink.
	core.SetSink(bus)

	d := &Daemon{
		cfg: cfg, reg: reg, updater: upd, mountmon: mm, mountstore: ms,
		inhibitors: inhibitors, gate: gate, jobs: jobs, core: core, poll: pll,
		source: src, fstab: fstab, mdSlots: mdSlots, handlers: handlers, bus: bus,
		metricsReg: metricsReg, metrics: metrics,
	}
	return d, nil
}

// Coldplug loads the mount store, walks the fstab index, synthesizes "add"
// events for every entity already present and lets the reconciliation core
// derive their initial attributes before anything is exported.
func (d *Daemon) Coldplug() error {
	if err := d.mountstore.Load(); err != nil {
		return err
	}
	if err := d.fstab.Reload(); err != nil {
		logrus.Warnf("daemon: loading fstab: %v", err)
	}

	events, err := d.source.Coldplug()
	if err != nil {
		return err
	}
	for _, ev := range events {
		d.core.HandleEvent(ev)
		d.metrics.ObserveEvent(ev)
	}

	live := make(map[string]bool)
	for _, dev := range d.reg.Devices() {
		if dev.Identity.DeviceFile != "" {
			live[dev.Identity.DeviceFile] = true
		}
	}
	if err := d.mountstore.Purge(live); err != nil {
		logrus.Warnf("daemon: purging mount store: %v", err)
	}

	d.poll.Recompute()
	d.metrics.ObserveTopology(d.reg)
	return nil
}

// Start exports the D-Bus service and launches the background pollers and
// event loop. Call Coldplug first.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.bus.Start(); err != nil {
		return err
	}
	d.poll.Start()

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	events, err := d.source.Run()
	if err != nil {
		return err
	}

	d.wg.Add(2)
	go d.runEventLoop(runCtx, events)
	go d.runMountLoop(runCtx)

	go ServeMetrics(runCtx, d.cfg.MetricsAddr, d.metricsReg)

	return nil
}

func (d *Daemon) runEventLoop(ctx context.Context, events <-chan domain.Event) {
	defer d.wg.Done()
	mdst := d.source.MdstatChanges()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.core.HandleEvent(ev)
			d.metrics.ObserveEvent(ev)
			d.metrics.ObserveTopology(d.reg)
		case <-mdst:
			for _, dev := range d.reg.Devices() {
				if dev.MD.IsMD {
					d.core.SynthesizeChanged(dev)
				}
			}
		}
	}
}

// runMountLoop polls the Mount Monitor on a fixed tick (mount/unmount
// activity outside the daemon's own Mount/Unmount handlers isn't a kernel
// uevent and so has no other path into the reconciliation core) and
// synthesizes a change on every device whose mount state moved.
func (d *Daemon) runMountLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.MountPollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evs, err := d.mountmon.Refresh()
			if err != nil {
				logrus.Warnf("daemon: refreshing mountinfo: %v", err)
				continue
			}
			for _, ev := range evs {
				dev, ok := d.reg.DeviceByMajorMinor(ev.Major, ev.Minor)
				if !ok {
					continue
				}
				d.core.SynthesizeChanged(dev)
			}
		}
	}
}

// Stop tears down the background goroutines, the poller and the bus
// connection, in roughly the reverse order Start brought them up.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.poll.Stop()
	if err := d.source.Stop(); err != nil {
		logrus.Warnf("daemon: stopping event source: %v", err)
	}
	if err := d.bus.Close(); err != nil {
		logrus.Warnf("daemon: closing bus connection: %v", err)
	}
}

// ApplyConfig swaps in the reloaded config and the handlers' media root.
// Tickers already running keep the period they were started with; a new
// poll, md-sync or mount-poll interval takes effect only after a restart.
func (d *Daemon) ApplyConfig(cfg *Config) {
	d.cfg = cfg
	d.handlers.MediaRoot = cfg.MediaRoot
}
