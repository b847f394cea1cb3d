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

// Package mountstore implements the on-disk record of mounts the daemon
// itself performed, so a mount it created on behalf of an unprivileged
// caller can be cleaned up (directory removed, record dropped) even if the
// daemon restarts before the caller unmounts. Persistence follows the
// teacher's sysio.IOnodeFile.WriteFile/afero.WriteFile pattern
// (sysio/ionodeFile.go), JSON-encoded the way nsenterEvent.go encodes its
// IPC payloads.
package mountstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/blockdaemon/blockd/domain"
)

// Store implements domain.MountStoreIface, persisting records as one JSON
// document at path.
type Store struct {
	fs afero.Fs
	path string

	mu sync.RWMutex
	records map[string]domain.MountRecord // keyed by DeviceFile
}

var _ domain.MountStoreIface = (*Store)(nil)

func New(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path, records: make(map[string]domain.MountRecord)}
}

// Load reads the persisted records, if any. A missing file is not an error
// (first boot, or a freshly-provisioned root).
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := afero.Exists(s.fs, s.path)
	if err != nil {
		return fmt.Errorf("mountstore: stat %s: %w", s.path, err)
	}
	if !exists {
		return nil
	}

	f, err := s.fs.Open(s.path)
	if err != nil {
		return fmt.Errorf("mountstore: open %s: %w", s.path, err)
	}
	defer f.Close()

	var recs []domain.MountRecord
	if err := json.NewDecoder(f).Decode(&recs); err != nil {
		return fmt.Errorf("mountstore: decode %s: %w", s.path, err)
	}

	s.records = make(map[string]domain.MountRecord, len(recs))
	for _, r := range recs {
		s.records[r.DeviceFile] = r
	}
	return nil
}

// Purge drops every record whose device file is not in liveDeviceFiles,
// called once at startup after coldplug so records left behind by a device
// that vanished while the daemon was down do not leak forever.
func (s *Store) Purge(liveDeviceFiles map[string]bool) error {
	s.mu.Lock()
	for deviceFile := range s.records {
		if !liveDeviceFiles[deviceFile] {
			logrus.Debugf("mountstore: dropping stale record for %s", deviceFile)
			delete(s.records, deviceFile)
		}
	}
	s.mu.Unlock()
	return s.persist()
}

func (s *Store) Add(rec domain.MountRecord) error {
	s.mu.Lock()
	s.records[rec.DeviceFile] = rec
	s.mu.Unlock()
	return s.persist()
}

func (s *Store) Remove(deviceFile string) error {
	s.mu.Lock()
	delete(s.records, deviceFile)
	s.mu.Unlock()
	return s.persist()
}

func (s *Store) Get(deviceFile string) (domain.MountRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[deviceFile]
	return r, ok
}

func (s *Store) All() []domain.MountRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MountRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceFile < out[j].DeviceFile })
	return out
}

// persist must be called without s.mu held.
func (s *Store) persist() error {
	s.mu.RLock()
	recs := make([]domain.MountRecord, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	s.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].DeviceFile < recs[j].DeviceFile })

	b, err := json.MarshalIndent(recs, "", " ")
	if err != nil {
		return fmt.Errorf("mountstore: marshal: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.path, b, 0600); err != nil {
		return fmt.Errorf("mountstore: write %s: %w", s.path, err)
	}
	return nil
}
