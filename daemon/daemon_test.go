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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockdaemon/blockd/domain"
)

type fakeEngine struct {
	startErr error
	result domain.JobResult
}

func (f *fakeEngine) Start(ctx context.Context, dev *domain.Device, spec domain.JobSpec) error {
	if f.startErr != nil {
		return f.startErr
	}
	if spec.OnDone != nil {
		spec.OnDone(ctx, f.result, spec.UserData)
	}
	return nil
}

func (f *fakeEngine) StartLocal(dev *domain.Device, name string, uid uint32) (domain.LocalJobIface, error) {
	return nil, nil
}

func (f *fakeEngine) Cancel(dev *domain.Device) error { return nil }

func TestMetricsEngineObservesSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	eng := &metricsEngine{EngineIface: &fakeEngine{}, metrics: m}

	err := eng.Start(context.Background(), &domain.Device{}, domain.JobSpec{Name: "mount"})
	require.NoError(t, err)

	count := testutilCounterValue(t, m.jobsTotal.WithLabelValues("mount", "ok"))
	assert.Equal(t, float64(1), count)
}

func TestMetricsEngineObservesFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	eng := &metricsEngine{EngineIface: &fakeEngine{result: domain.JobResult{ExitCode: 1}}, metrics: m}

	err := eng.Start(context.Background(), &domain.Device{}, domain.JobSpec{Name: "check"})
	require.NoError(t, err)

	count := testutilCounterValue(t, m.jobsTotal.WithLabelValues("check", "failed"))
	assert.Equal(t, float64(1), count)
}

func TestMetricsEngineObservesRejection(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	eng := &metricsEngine{EngineIface: &fakeEngine{startErr: assertErr{}}, metrics: m}

	err := eng.Start(context.Background(), &domain.Device{}, domain.JobSpec{Name: "mount"})
	require.Error(t, err)

	count := testutilCounterValue(t, m.jobsTotal.WithLabelValues("mount", "rejected"))
	assert.Equal(t, float64(1), count)
}

type assertErr struct{}

func (assertErr) Error() string { return "busy" }

func testutilCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, c.Write(&metric))
	return metric.GetCounter().GetValue()
}
