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
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blockdaemon/blockd/apierr"
	"github.com/blockdaemon/blockd/domain"
)

// OpenFile describes one process holding a mount point open.
type OpenFile struct {
	PID int
	UID uint32
	Cmdline string
}

// procReader abstracts /proc/<pid>/{status,cmdline} reads so tests can
// substitute a fake process table without a real procfs.
type procReader interface {
	ReadStatus(pid int) ([]byte, error)
	ReadCmdline(pid int) ([]byte, error)
}

type osProcReader struct{}

func (osProcReader) ReadStatus(pid int) ([]byte, error) {
	return os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
}

func (osProcReader) ReadCmdline(pid int) ([]byte, error) {
	return os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
}

func uidFromStatus(status []byte) uint32 {
	for _, line := range strings.Split(string(status), "\n") {
		if !strings.HasPrefix(line, "Uid:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			if uid, err := strconv.ParseUint(fields[1], 10, 32); err == nil {
				return uint32(uid)
			}
		}
	}
	return 0
}

func cmdlineToString(raw []byte) string {
	parts := strings.Split(strings.TrimRight(string(raw), "\x00"), "\x00")
	return strings.Join(parts, " ")
}

// ListOpenFiles implements List Open Files: runs the
// list-open-files helper against the device's first mount path, accepts
// exit codes 0 and 1 as success, then resolves each printed PID's uid and
// cmdline from the process-info pseudo-filesystem.
func (h *Handlers) ListOpenFiles(ctx context.Context, dev *domain.Device, caller domain.Caller) ([]OpenFile, error) {
	return h.listOpenFiles(ctx, dev, caller, osProcReader{})
}

func (h *Handlers) listOpenFiles(ctx context.Context, dev *domain.Device, caller domain.Caller, procs procReader) ([]OpenFile, error) {
	if len(dev.MountState.MountPaths) == 0 {
		return nil, apierr.New(apierr.NotSupported, "%s is not mounted", dev.Identity.DeviceFile)
	}
	mountPath := dev.MountState.MountPaths[0]

	var out []OpenFile
	err := h.authorize(ctx, "org.blockd.list-open-files", dev, caller, func(ctx context.Context) error {
		result, jerr := runJobSync(ctx, h.Jobs, dev, domain.JobSpec{
			Name: "list-open-files", Argv: []string{"list-open-files", mountPath}, InitiatedByUID: caller.UID(),
		})
		if jerr != nil && result.ExitCode != 1 {
			return jerr
		}

		for _, line := range strings.Split(strings.TrimSpace(result.Stdout), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			pid, perr := strconv.Atoi(line)
			if perr != nil {
				continue
			}
			of := OpenFile{PID: pid}
			if status, serr := procs.ReadStatus(pid); serr == nil {
				of.UID = uidFromStatus(status)
			}
			if cmdline, cerr := procs.ReadCmdline(pid); cerr == nil {
				of.Cmdline = cmdlineToString(cmdline)
			}
			out = append(out, of)
		}
		return nil
	})
	return out, err
}
