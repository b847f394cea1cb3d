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

// Package job implements the one-job-per-device state machine around
// spawned helper processes, grounded on the teacher's child-process
// lifecycle in nsenter/event.go (Start, Process.Wait, signal delivery) but
// reworked around os/exec instead of a raw clone/exec handshake, since no
// namespace entry is involved here.
package job

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/blockdaemon/blockd/apierr"
	"github.com/blockdaemon/blockd/domain"
)

type slot struct {
	mu sync.Mutex
	status domain.JobStatus
	cmd *exec.Cmd
	cancel bool
}

// Engine implements domain.EngineIface.
type Engine struct {
	mu sync.Mutex
	slots map[*domain.Device]*slot
}

var _ domain.EngineIface = (*Engine)(nil)

func New() *Engine {
	return &Engine{slots: make(map[*domain.Device]*slot)}
}

func (e *Engine) slotFor(dev *domain.Device) *slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[dev]
	if !ok {
		s = &slot{}
		e.slots[dev] = s
	}
	return s
}

func (e *Engine) Start(ctx context.Context, dev *domain.Device, spec domain.JobSpec) error {
	s := e.slotFor(dev)

	s.mu.Lock()
	if s.status == domain.JobRunning || s.status == domain.JobCancelling {
		s.mu.Unlock()
		return apierr.New(apierr.Busy, "a job is already in progress on %s", dev.NativePath())
	}
	s.status = domain.JobRunning
	s.cancel = false
	s.mu.Unlock()

	dev.JobState = domain.JobState{InProgress: true, ID: spec.Name, InitiatedByUID: spec.InitiatedByUID, IsCancellable: spec.Cancellable, Percentage: -1}

	if len(spec.Argv) == 0 {
		return apierr.Failedf("job %s: empty argument vector", spec.Name)
	}

	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		s.finish()
		return apierr.Failedf("job %s: stdout pipe: %v", spec.Name, err)
	}
	stderrBuf := &bytes.Buffer{}
	cmd.Stderr = stderrBuf

	if len(spec.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}

	if err := cmd.Start(); err != nil {
		s.finish()
		clearJobState(dev)
		return apierr.Failedf("job %s: spawn: %v", spec.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	go e.watch(ctx, dev, s, cmd, spec, stdoutPipe, stderrBuf)

	return nil
}

func (e *Engine) watch(ctx context.Context, dev *domain.Device, s *slot, cmd *exec.Cmd, spec domain.JobSpec, stdout io.ReadCloser, stderrBuf *bytes.Buffer) {
	stdoutText := e.scanProgress(dev, spec, stdout)

	err := cmd.Wait()

	// Stdin carries secrets in some handlers (LUKS passphrases); Wait has
	// returned, so the exec package has finished copying it into the child's
	// pipe and the buffer can be zeroed.
	zero(spec.Stdin)

	s.mu.Lock()
	cancelled := s.cancel
	s.status = domain.JobCompleted
	s.mu.Unlock()

	exitCode := 0
	var spawnErr error
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			spawnErr = err
		}
	}

	clearJobState(dev)
	s.finish()

	result := domain.JobResult{Cancelled: cancelled, ExitCode: exitCode, Stderr: stderrBuf.String(), Stdout: stdoutText, Err: spawnErr}

	if spec.SettleAfter && spawnErr == nil && exitCode == 0 && !cancelled {
		settle := exec.CommandContext(ctx, "udevadm", "settle")
		_ = settle.Run()
	}

	if spec.OnDone != nil {
		spec.OnDone(ctx, result, spec.UserData)
	}
}

// scanProgress reads stdout to EOF, looking for spec.ProgressPrefix followed
// by a float percentage on each line while
// also retaining the full text so handlers with a parseable stdout
// convention (Partition Create's two printed lines, List Open Files' PID
// list) can read it back from the job result.
func (e *Engine) scanProgress(dev *domain.Device, spec domain.JobSpec, r io.Reader) string {
	var all bytes.Buffer
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		all.WriteString(line)
		all.WriteByte('\n')

		if spec.ProgressPrefix == "" || !strings.HasPrefix(line, spec.ProgressPrefix) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, spec.ProgressPrefix))
		pct, err := strconv.ParseFloat(rest, 64)
		if err != nil || pct < 0 || pct > 100 {
			logrus.Debugf("job %s: malformed progress line %q", spec.Name, line)
			continue
		}
		dev.JobState.Percentage = pct
	}
	return all.String()
}

func (e *Engine) StartLocal(dev *domain.Device, name string, initiatedByUID uint32) (domain.LocalJobIface, error) {
	s := e.slotFor(dev)
	s.mu.Lock()
	if s.status == domain.JobRunning || s.status == domain.JobCancelling {
		s.mu.Unlock()
		return nil, apierr.New(apierr.Busy, "a job is already in progress on %s", dev.NativePath())
	}
	s.status = domain.JobRunning
	s.mu.Unlock()

	dev.JobState = domain.JobState{InProgress: true, ID: name, InitiatedByUID: initiatedByUID, IsCancellable: false, Percentage: -1}

	return &localJob{engine: e, dev: dev, slot: s}, nil
}

type localJob struct {
	engine *Engine
	dev *domain.Device
	slot *slot
}

func (l *localJob) End() {
	l.slot.mu.Lock()
	l.slot.status = domain.JobCompleted
	l.slot.mu.Unlock()
	clearJobState(l.dev)
	l.slot.finish()
}

func (e *Engine) Cancel(dev *domain.Device) error {
	s := e.slotFor(dev)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.JobRunning {
		return apierr.New(apierr.NotSupported, "no running job on %s", dev.NativePath())
	}
	if s.cmd == nil || s.cmd.Process == nil {
		return apierr.Failedf("job on %s has no process to signal", dev.NativePath())
	}
	s.status = domain.JobCancelling
	s.cancel = true
	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("job: signal %s: %w", dev.NativePath(), err)
	}
	return nil
}

func (s *slot) finish() {
	s.mu.Lock()
	s.status = domain.JobIdle
	s.cmd = nil
	s.cancel = false
	s.mu.Unlock()
}

func clearJobState(dev *domain.Device) {
	dev.JobState = domain.JobState{}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
