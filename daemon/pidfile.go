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
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// CheckPidFile, CreatePidFile and DestroyPidFile mirror the lifecycle the
// teacher's cmd/sysbox-fs/main.go drives through its internal libutils
// package (CheckPidFile/CreatePidFile/DestroyPidFile) - that package isn't
// importable outside its own module, so the same three-call convention is
// reimplemented here directly on os/golang.org/x/sys/unix, both already
// part of the dependency set.
func CheckPidFile(name, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading pid file %s: %w", path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil // stale/corrupt pid file, safe to overwrite
	}

	if err := unix.Kill(pid, 0); err == nil {
		return fmt.Errorf("%s already running with pid %d (%s)", name, pid, path)
	}
	return nil
}

func CreatePidFile(path string) error {
	if err := os.MkdirAll(parentDir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func DestroyPidFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "."
	}
	return path[:idx]
}
