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

// Package sysfs implements typed, independent reads of sysfs/procfs
// string/int/uint64/bool attributes and symlink resolution, rooted at a
// configurable path so tests can substitute an in-memory filesystem the way
// the teacher's sysio package substitutes afero.NewMemMapFs for
// afero.NewOsFs (sysio/ionodeFile.go).
package sysfs

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/blockdaemon/blockd/domain"
)

// Reader implements domain.ReaderIface over an afero.Fs.
type Reader struct {
	fs afero.Fs
	root string
}

var _ domain.ReaderIface = (*Reader)(nil)

// New builds a Reader rooted at root, backed by fs. Production callers pass
// afero.NewOsFs; tests pass afero.NewMemMapFs.
func New(fs afero.Fs, root string) *Reader {
	return &Reader{fs: fs, root: root}
}

func (r *Reader) Root() string { return r.root }

func (r *Reader) WithRoot(relPath string) domain.ReaderIface {
	return &Reader{fs: r.fs, root: filepath.Join(r.root, relPath)}
}

func (r *Reader) path(relPath string) string {
	return filepath.Join(r.root, relPath)
}

// ReadString returns the file's content with surrounding whitespace trimmed, or ("", false) if
// it cannot be read. Attribute disappearance mid-read is an expected race
// during device removal so no error is surfaced to the
// caller — only a debug trace.
func (r *Reader) ReadString(relPath string) (string, bool) {
	p := r.path(relPath)
	b, err := afero.ReadFile(r.fs, p)
	if err != nil {
		logrus.Debugf("sysfs: read %s: %v", p, err)
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

func (r *Reader) ReadInt(relPath string) (int, bool) {
	s, ok := r.ReadString(relPath)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		logrus.Debugf("sysfs: parse int %s: %v", r.path(relPath), err)
		return 0, false
	}
	return v, true
}

func (r *Reader) ReadUint64(relPath string) (uint64, bool) {
	s, ok := r.ReadString(relPath)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		logrus.Debugf("sysfs: parse uint64 %s: %v", r.path(relPath), err)
		return 0, false
	}
	return v, true
}

// ReadBool interprets "0"/"1" (the sysfs convention) as false/true.
func (r *Reader) ReadBool(relPath string) (bool, bool) {
	s, ok := r.ReadString(relPath)
	if !ok {
		return false, false
	}
	switch s {
	case "1":
		return true, true
	case "0":
		return false, true
	default:
		logrus.Debugf("sysfs: %s is not 0/1: %q", r.path(relPath), s)
		return false, false
	}
}

func (r *Reader) ReadSymlink(relPath string) (string, bool) {
	p := r.path(relPath)
	lr, ok := r.fs.(afero.LinkReader)
	if !ok {
		// afero.MemMapFs does not implement symlinks; tests stage the
		// resolved value directly as the file's content instead.
		return r.ReadString(relPath)
	}
	target, err := lr.ReadlinkIfPossible(p)
	if err != nil {
		logrus.Debugf("sysfs: readlink %s: %v", p, err)
		return "", false
	}
	return target, true
}

func (r *Reader) Exists(relPath string) bool {
	ok, err := afero.Exists(r.fs, r.path(relPath))
	return err == nil && ok
}
