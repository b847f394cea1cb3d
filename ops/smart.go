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
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/blockdaemon/blockd/apierr"
	"github.com/blockdaemon/blockd/domain"
)

// decodeSMARTBlob pulls the overall health verdict out of the raw ATA SMART
// RETURN STATUS + attribute table blob: byte 0 of the blob is the helper's
// own pass/fail summary byte, non-zero meaning a failing attribute was
// found. There is no third-party ATA SMART parser in the dependency pack,
// so this stays a minimal, direct decode (see DESIGN.md).
func decodeSMARTBlob(blob []byte) (status string) {
	if len(blob) == 0 {
		return "unknown"
	}
	if blob[0] == 0 {
		return "good"
	}
	return "bad"
}

// RefreshSMART implements SMART Refresh.
func (h *Handlers) RefreshSMART(ctx context.Context, dev *domain.Device, nowakeup bool, simulate string, callerIsRoot bool, caller domain.Caller) error {
	if !dev.Drive.IsDrive {
		return apierr.New(apierr.NotSupported, "%s is not a drive", dev.Identity.DeviceFile)
	}
	if simulate != "" && !callerIsRoot {
		return apierr.New(apierr.PermissionDenied, "simulate= requires root")
	}

	return h.authorize(ctx, "org.blockd.ata-smart-refresh", dev, caller, func(ctx context.Context) error {
		argv := []string{"ata-smart-collect", dev.Identity.DeviceFile}
		if nowakeup {
			argv = append(argv, "nowakeup")
		}
		if simulate != "" {
			argv = append(argv, "simulate="+simulate)
		}

		result, err := runJobSync(ctx, h.Jobs, dev, domain.JobSpec{Name: "ata-smart-collect", Argv: argv, InitiatedByUID: caller.UID()})
		if err != nil {
			if apierr.Is(err, apierr.Failed) && result.ExitCode == 2 {
				return apierr.New(apierr.AtaSmartWouldWakeup, "%s would wake up", dev.Identity.DeviceFile)
			}
			return err
		}

		blob, decErr := base64.StdEncoding.DecodeString(strings.TrimSpace(result.Stdout))
		if decErr != nil {
			return apierr.Failedf("ata-smart-collect: malformed base64 stdout: %v", decErr)
		}

		dev.Drive.AtaSmartBlob = blob
		dev.Drive.AtaSmartStatus = decodeSMARTBlob(blob)
		dev.Drive.AtaSmartTimeCollect = time.Now()
		h.synthesize(dev)
		return nil
	})
}

// SelftestSMART implements SMART Selftest: regardless of the
// helper's outcome, a SMART Refresh always follows.
func (h *Handlers) SelftestSMART(ctx context.Context, dev *domain.Device, test string, caller domain.Caller) error {
	switch test {
	case "short", "extended", "conveyance":
	default:
		return apierr.New(apierr.InvalidOption, "unknown selftest type %q", test)
	}

	testErr := h.authorize(ctx, "org.blockd.ata-smart-selftest", dev, caller, func(ctx context.Context) error {
		_, err := runJobSync(ctx, h.Jobs, dev, domain.JobSpec{
			Name: "ata-smart-selftest", Argv: []string{"ata-smart-selftest", dev.Identity.DeviceFile, test}, InitiatedByUID: caller.UID(),
		})
		return err
	})

	if refreshErr := h.RefreshSMART(ctx, dev, false, "", false, caller); refreshErr != nil && testErr == nil {
		return fmt.Errorf("selftest completed but refresh failed: %w", refreshErr)
	}
	return testErr
}
