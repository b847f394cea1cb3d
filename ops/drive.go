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
	"strconv"

	"github.com/blockdaemon/blockd/apierr"
	"github.com/blockdaemon/blockd/domain"
)

func requireDrive(dev *domain.Device) error {
	if !dev.Drive.IsDrive {
		return apierr.New(apierr.NotSupported, "%s is not a drive", dev.Identity.DeviceFile)
	}
	return nil
}

// Eject implements Drive Eject.
func (h *Handlers) Eject(ctx context.Context, dev *domain.Device, caller domain.Caller) error {
	if err := requireDrive(dev); err != nil {
		return err
	}
	if IsBusy(h.Registry, dev, true) {
		return apierr.New(apierr.Busy, "%s is busy", dev.Identity.DeviceFile)
	}
	return h.authorize(ctx, "org.blockd.drive-eject", dev, caller, func(ctx context.Context) error {
		_, err := runJobSync(ctx, h.Jobs, dev, domain.JobSpec{
			Name: "drive-eject", Argv: []string{"eject", dev.Identity.DeviceFile}, InitiatedByUID: caller.UID(),
		})
		if err != nil {
			return err
		}
		h.synthesize(dev)
		return nil
	})
}

// Detach implements Drive Detach: requires can-detach.
func (h *Handlers) Detach(ctx context.Context, dev *domain.Device, caller domain.Caller) error {
	if err := requireDrive(dev); err != nil {
		return err
	}
	if !dev.Drive.CanDetach {
		return apierr.New(apierr.NotSupported, "%s cannot be detached", dev.Identity.DeviceFile)
	}
	if IsBusy(h.Registry, dev, true) {
		return apierr.New(apierr.Busy, "%s is busy", dev.Identity.DeviceFile)
	}
	return h.authorize(ctx, "org.blockd.drive-detach", dev, caller, func(ctx context.Context) error {
		_, err := runJobSync(ctx, h.Jobs, dev, domain.JobSpec{
			Name: "drive-detach", Argv: []string{"drive-detach", dev.Identity.DeviceFile}, InitiatedByUID: caller.UID(),
		})
		if err != nil {
			return err
		}
		h.synthesize(dev)
		return nil
	})
}

// PollMedia implements Drive Poll Media: forces an
// out-of-band media-change re-derivation, the same mechanism the poller
// uses on its own tick.
func (h *Handlers) PollMedia(ctx context.Context, dev *domain.Device, caller domain.Caller) error {
	if err := requireDrive(dev); err != nil {
		return err
	}
	return h.authorize(ctx, "org.blockd.drive-poll-media", dev, caller, func(ctx context.Context) error {
		h.synthesize(dev)
		return nil
	})
}

// InhibitPolling implements Drive Inhibit Polling.
func (h *Handlers) InhibitPolling(ctx context.Context, dev *domain.Device, caller domain.Caller) (cookie string, err error) {
	cookie, err = h.Inhibitors.Create(domain.InhibitPolling, caller, dev, 0)
	if err != nil {
		return "", err
	}
	if h.Poller != nil {
		h.Poller.Recompute()
	}
	return cookie, nil
}

// UninhibitPolling releases a polling inhibitor.
func (h *Handlers) UninhibitPolling(ctx context.Context, caller domain.Caller, cookie string) error {
	if err := h.Inhibitors.Release(domain.InhibitPolling, caller, cookie); err != nil {
		return err
	}
	if h.Poller != nil {
		h.Poller.Recompute()
	}
	return nil
}

// SetSpindownTimeout implements Drive Set Spindown Timeout:
// the lower of all outstanding timeouts wins; the helper encodes seconds
// into the kernel's ATA standby value via domain.SpindownEncode.
func (h *Handlers) SetSpindownTimeout(ctx context.Context, dev *domain.Device, seconds int, caller domain.Caller) (cookie string, err error) {
	if err := requireDrive(dev); err != nil {
		return "", err
	}
	if !dev.Drive.CanSpindown {
		return "", apierr.New(apierr.NotSupported, "%s does not support spindown", dev.Identity.DeviceFile)
	}

	err = h.authorize(ctx, "org.blockd.drive-set-spindown-timeout", dev, caller, func(ctx context.Context) error {
		cookie, err = h.Inhibitors.Create(domain.InhibitSpindown, caller, dev, seconds)
		if err != nil {
			return err
		}

		effective := h.Inhibitors.SpindownTimeout(dev)
		encoded := domain.SpindownEncode(effective)
		_, jerr := runJobSync(ctx, h.Jobs, dev, domain.JobSpec{
			Name: "drive-set-spindown", Argv: []string{"hdparm", "-S", strconv.Itoa(encoded), dev.Identity.DeviceFile}, InitiatedByUID: caller.UID(),
		})
		if jerr != nil {
			return jerr
		}

		dev.Drive.SpindownTimeoutSecs = effective
		h.synthesize(dev)
		return nil
	})
	return cookie, err
}

// UnsetSpindownTimeout releases a spindown inhibitor and re-applies the next
// lower timeout, if any.
func (h *Handlers) UnsetSpindownTimeout(ctx context.Context, dev *domain.Device, caller domain.Caller, cookie string) error {
	if err := h.Inhibitors.Release(domain.InhibitSpindown, caller, cookie); err != nil {
		return err
	}
	effective := h.Inhibitors.SpindownTimeout(dev)
	encoded := domain.SpindownEncode(effective)
	_, err := runJobSync(ctx, h.Jobs, dev, domain.JobSpec{
		Name: "drive-set-spindown", Argv: []string{"hdparm", "-S", strconv.Itoa(encoded), dev.Identity.DeviceFile}, InitiatedByUID: caller.UID(),
	})
	if err != nil {
		return err
	}
	dev.Drive.SpindownTimeoutSecs = effective
	h.synthesize(dev)
	return nil
}

// Benchmark implements Drive Benchmark: refuses write
// benchmarking when a partition table or filesystem signature is present,
// to avoid silently destroying data.
func (h *Handlers) Benchmark(ctx context.Context, dev *domain.Device, writeBenchmark bool, caller domain.Caller) (string, error) {
	if err := requireDrive(dev); err != nil {
		return "", err
	}
	if writeBenchmark && (dev.PartitionTable.IsPartitionTable || dev.FilesystemID.Usage != domain.IDUsageEmpty) {
		return "", apierr.New(apierr.NotSupported, "refusing write benchmark on %s: data present", dev.Identity.DeviceFile)
	}

	var stdout string
	err := h.authorize(ctx, "org.blockd.drive-benchmark", dev, caller, func(ctx context.Context) error {
		argv := []string{"drive-benchmark", dev.Identity.DeviceFile}
		if writeBenchmark {
			argv = append(argv, "write")
		}
		result, err := runJobSync(ctx, h.Jobs, dev, domain.JobSpec{Name: "drive-benchmark", Argv: argv, InitiatedByUID: caller.UID()})
		if err != nil {
			return err
		}
		stdout = result.Stdout
		return nil
	})
	return stdout, err
}
