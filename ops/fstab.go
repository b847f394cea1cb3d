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

package ops

import (
	"bufio"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// FstabIndex answers "is this device file listed in the system fstab",
// consulted by the Mount/Unmount handlers and by
// reconcile.Core.InFstab for force-teardown. The index holds whatever the
// last Reload read; lookups do not re-read the file.
type FstabIndex struct {
	fs afero.Fs
	path string

	mu sync.Mutex
	entries map[string]bool
}

func NewFstabIndex(fs afero.Fs, path string) *FstabIndex {
	return &FstabIndex{fs: fs, path: path, entries: make(map[string]bool)}
}

// Reload re-reads the fstab file, skipping comments and blank lines.
func (f *FstabIndex) Reload() error {
	file, err := f.fs.Open(f.path)
	if err != nil {
		f.mu.Lock()
		f.entries = make(map[string]bool)
		f.mu.Unlock()
		return nil // absent fstab is not an error: every device is "not in fstab"
	}
	defer file.Close()

	next := make(map[string]bool)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 1 {
			continue
		}
		next[fields[0]] = true
	}

	f.mu.Lock()
	f.entries = next
	f.mu.Unlock()
	return scanner.Err()
}

// Contains reports whether deviceFile is the literal source field of some
// fstab entry. It does not resolve UUID=/LABEL= specifiers to device files —
// callers that need that should also check the device's by-id/by-uuid
// aliases.
func (f *FstabIndex) Contains(deviceFile string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[deviceFile]
}
