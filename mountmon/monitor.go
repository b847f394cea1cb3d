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

// Package mountmon implements the mount monitor: polling /proc/self/mountinfo, turning its
// records into (major, minor, mount-path) triples, and diffing successive
// snapshots into added/removed MountEvents. The record-splitting convention
// (whitespace-delimited fields, a "-" separator ahead of the three trailing
// superblock fields) mirrors the teacher's mount/infoParser.go.
package mountmon

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/blockdaemon/blockd/domain"
)

const defaultMountInfoPath = "/proc/self/mountinfo"

// statFunc resolves the device number backing path, used as the major=0
// pseudo-device fallback.
type statFunc func(path string) (major, minor uint32, ok bool)

func realStat(path string) (uint32, uint32, bool) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, false
	}
	dev := uint64(st.Dev)
	return uint32(unix.Major(dev)), uint32(unix.Minor(dev)), true
}

// Monitor implements domain.MountMonitorIface.
type Monitor struct {
	fs afero.Fs
	path string
	stat statFunc

	rows map[string]domain.MountRow // keyed by mountPath
}

var _ domain.MountMonitorIface = (*Monitor)(nil)

// New builds a Monitor reading path (normally /proc/self/mountinfo) through
// fs. Production callers pass afero.NewOsFs; tests stage a MemMapFs.
func New(fs afero.Fs, path string) *Monitor {
	if path == "" {
		path = defaultMountInfoPath
	}
	return &Monitor{fs: fs, path: path, stat: realStat, rows: make(map[string]domain.MountRow)}
}

type record struct {
	root string
	mountPoint string
	majorMinor string
	source string
}

// Refresh re-reads the mountinfo file, diffs it against the previous
// snapshot and returns the resulting events, removals always ordered before
// additions so callers never observe a stale-then-fresh double mount on the
// same path.
func (m *Monitor) Refresh() ([]domain.MountEvent, error) {
	recs, err := m.readRecords()
	if err != nil {
		return nil, err
	}

	next := make(map[string]domain.MountRow, len(recs))
	for _, rec := range recs {
		major, minor, ok := m.resolveDevno(rec)
		if !ok {
			continue
		}
		next[rec.mountPoint] = domain.MountRow{Major: major, Minor: minor, MountPath: rec.mountPoint}
	}

	var events []domain.MountEvent

	for path, old := range m.rows {
		if nw, ok := next[path]; !ok || nw != old {
			events = append(events, domain.MountEvent{Added: false, Major: old.Major, Minor: old.Minor, MountPath: old.MountPath})
		}
	}
	for path, nw := range next {
		if old, ok := m.rows[path]; !ok || old != nw {
			events = append(events, domain.MountEvent{Added: true, Major: nw.Major, Minor: nw.Minor, MountPath: nw.MountPath})
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Added != events[j].Added {
			return !events[i].Added
		}
		return events[i].MountPath < events[j].MountPath
	})

	m.rows = next
	return events, nil
}

// Snapshot returns the current view sorted by (mount-path, major, minor).
func (m *Monitor) Snapshot() []domain.MountRow {
	out := make([]domain.MountRow, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MountPath != out[j].MountPath {
			return out[i].MountPath < out[j].MountPath
		}
		if out[i].Major != out[j].Major {
			return out[i].Major < out[j].Major
		}
		return out[i].Minor < out[j].Minor
	})
	return out
}

func (m *Monitor) resolveDevno(rec record) (uint32, uint32, bool) {
	major, minor, err := parseMajorMinor(rec.majorMinor)
	if err != nil {
		logrus.Debugf("mountmon: %v", err)
		return 0, 0, false
	}
	if major != 0 {
		return major, minor, true
	}
	// Pseudo-device (btrfs subvolumes and similar report 0:N): recover the
	// real device number by stat-ing the mount point itself, ignoring the
	// record if that never resolves.
	resolvedMajor, resolvedMinor, ok := m.stat(rec.mountPoint)
	if !ok {
		return 0, 0, false
	}
	return resolvedMajor, resolvedMinor, true
}

func parseMajorMinor(s string) (uint32, uint32, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed major:minor field %q", s)
	}
	major, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed major in %q: %w", s, err)
	}
	minor, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed minor in %q: %w", s, err)
	}
	return uint32(major), uint32(minor), nil
}

func (m *Monitor) readRecords() ([]record, error) {
	data, err := afero.ReadFile(m.fs, m.path)
	if err != nil {
		return nil, fmt.Errorf("mountmon: read %s: %w", m.path, err)
	}

	var recs []record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			logrus.Debugf("mountmon: skipping line %q: %v", line, err)
			continue
		}
		// Sub-root bind mounts (root != "/") are not whole-device mounts
		// and are not of interest to topology reconciliation.
		if rec.root != "/" {
			continue
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func parseLine(line string) (record, error) {
	fields := strings.Split(line, " ")
	n := len(fields)
	if n < 10 {
		return record{}, fmt.Errorf("not enough fields: %q", line)
	}
	if fields[n-4] != "-" {
		return record{}, fmt.Errorf("missing separator field in: %q", line)
	}

	return record{
		majorMinor: fields[2],
		root: unescapeOctal(fields[3]),
		mountPoint: unescapeOctal(fields[4]),
		source: unescapeOctal(fields[n-2]),
	}, nil
}

// unescapeOctal reverses the \NNN octal byte-escaping the kernel applies to
// space, tab, newline and backslash when rendering paths into mountinfo
//. The teacher's own parser never needs this, since it only
// ever compares mount points it generated itself.
func unescapeOctal(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
