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
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/blockdaemon/blockd/domain"
)

// Metrics is the ambient observability surface: Prometheus gauges/counters
// describing topology size and event throughput, scraped over HTTP the way
// every other service in the pack exposes client_golang collectors.
type Metrics struct {
	devices prometheus.Gauge
	adapters prometheus.Gauge
	mounted prometheus.Gauge
	polled prometheus.Gauge
	events *prometheus.CounterVec
	jobsActive prometheus.Gauge
	jobsTotal *prometheus.CounterVec
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		devices: prometheus.NewGauge(prometheus.GaugeOpts{Name: "blockd_devices", Help: "Number of block devices currently tracked."}),
		adapters: prometheus.NewGauge(prometheus.GaugeOpts{Name: "blockd_adapters", Help: "Number of storage adapters currently tracked."}),
		mounted: prometheus.NewGauge(prometheus.GaugeOpts{Name: "blockd_mounted_filesystems", Help: "Number of filesystems currently mounted."}),
		polled: prometheus.NewGauge(prometheus.GaugeOpts{Name: "blockd_polled_drives", Help: "Number of drives subject to media-change polling."}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockd_kernel_events_total", Help: "Kernel uevents processed, by subsystem and action.",
			}, []string{"subsystem", "action"}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{Name: "blockd_jobs_active", Help: "Helper jobs currently running."}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockd_jobs_total", Help: "Helper jobs started, by name and outcome.",
			}, []string{"name", "outcome"}),
	}
	reg.MustRegister(m.devices, m.adapters, m.mounted, m.polled, m.events, m.jobsActive, m.jobsTotal)
	return m
}

func (m *Metrics) ObserveEvent(ev domain.Event) {
	m.events.WithLabelValues(string(ev.Subsystem), string(ev.Action)).Inc()
}

func (m *Metrics) ObserveTopology(reg domain.RegistryIface) {
	m.devices.Set(float64(len(reg.Devices())))
	m.adapters.Set(float64(len(reg.Adapters())))

	var mountedCount int
	for _, d := range reg.Devices() {
		if d.MountState.IsMounted {
			mountedCount++
		}
	}
	m.mounted.Set(float64(mountedCount))
}

func (m *Metrics) ObservePolled(n int) {
	m.polled.Set(float64(n))
}

func (m *Metrics) JobStarted() { m.jobsActive.Inc() }

func (m *Metrics) JobFinished(name, outcome string) {
	m.jobsActive.Dec()
	m.jobsTotal.WithLabelValues(name, outcome).Inc()
}

// ServeMetrics runs a promhttp handler on addr until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.Errorf("daemon: metrics server: %v", err)
	}
}
