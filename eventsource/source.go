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

// Package eventsource implements coldplug sysfs enumeration, the live
// kernel-uevent netlink feed, and the /proc/mdstat EPOLLPRI watch, fanned
// into a single domain.SourceIface the reconciliation core drives.
package eventsource

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/blockdaemon/blockd/domain"
)

// Source implements domain.SourceIface by composing NetlinkMonitor,
// Coldplug and MDStatWatcher behind one fan-in channel.
type Source struct {
	netlink *NetlinkMonitor
	coldplug *Coldplug
	mdstat *MDStatWatcher

	events chan domain.Event
	mdst chan struct{}

	cancel context.CancelFunc
	wg sync.WaitGroup
}

// New builds a Source. sysRoot and mdstatPath are overridable for tests
// (real deployments pass "/sys" and "/proc/mdstat").
func New(fs afero.Fs, sysRoot, mdstatPath string) (*Source, error) {
	nl, err := NewNetlinkMonitor()
	if err != nil {
		return nil, err
	}
	return &Source{
		netlink: nl,
		coldplug: NewColdplug(fs, sysRoot),
		mdstat: NewMDStatWatcher(mdstatPath),
		events: make(chan domain.Event, 256),
		mdst: make(chan struct{}, 1),
	}, nil
}

var _ domain.SourceIface = (*Source)(nil)

func (s *Source) Coldplug() ([]domain.Event, error) {
	var out []domain.Event
	err := s.coldplug.Walk(func(ev domain.Event) { out = append(out, ev) })
	return out, err
}

func (s *Source) Run() (<-chan domain.Event, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.netlink.Run(ctx, s.emit); err != nil && ctx.Err() == nil {
			logrus.Errorf("eventsource: netlink monitor exited: %v", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := s.mdstat.Run(ctx, s.emitMdstat); err != nil && ctx.Err() == nil {
			logrus.Errorf("eventsource: mdstat watcher exited: %v", err)
		}
	}()

	go func() {
		s.wg.Wait()
		close(s.events)
	}()

	return s.events, nil
}

func (s *Source) emit(ev domain.Event) {
	select {
	case s.events <- ev:
	default:
		logrus.Warnf("eventsource: event channel full, dropping %s event for %s", ev.Action, ev.NativePath)
	}
}

// emitMdstat both notifies MdstatChanges subscribers and synthesizes a
// change event for the md array itself so the reconciliation core re-derives
// sync-progress fields without a separate code path.
func (s *Source) emitMdstat(ev domain.Event) {
	s.emit(ev)
	select {
	case s.mdst <- struct{}{}:
	default:
	}
}

func (s *Source) MdstatChanges() <-chan struct{} {
	return s.mdst
}

func (s *Source) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return s.netlink.Close()
}
