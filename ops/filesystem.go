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

	"github.com/blockdaemon/blockd/apierr"
	"github.com/blockdaemon/blockd/domain"
)

// mkfsHelper maps a filesystem type to its mkfs helper name. Unlisted types
// fall back to "mkfs.<fstype>", the universal Linux convention.
func mkfsHelper(fstype string) string {
	switch fstype {
	case "vfat":
		return "mkfs.vfat"
	default:
		return "mkfs." + fstype
	}
}

// Check implements Filesystem Check: refuses while mounted,
// reports clean/dirty from the helper's exit-code bits.
func (h *Handlers) Check(ctx context.Context, dev *domain.Device, caller domain.Caller) (clean bool, err error) {
	if dev.MountState.IsMounted {
		return false, apierr.New(apierr.NotSupported, "%s is mounted", dev.Identity.DeviceFile)
	}

	err = h.authorize(ctx, "org.blockd.filesystem-check", dev, caller, func(ctx context.Context) error {
		result, jobErr := runJobSync(ctx, h.Jobs, dev, domain.JobSpec{
			Name: "fsck", Argv: []string{"fsck", "-y", dev.Identity.DeviceFile}, InitiatedByUID: caller.UID(),
		})
		rc := result.ExitCode
		clean = rc == 0 || (rc&1 != 0 && rc&4 == 0)
		if jobErr != nil && !clean {
			return jobErr
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	h.synthesize(dev)
	return clean, nil
}

// Create implements Filesystem Create, including the
// luks_encrypt= chained-mkfs path: luksFormat, wait for the crypto device,
// unlock with the same secret, recurse on the cleartext with the remaining
// options.
func (h *Handlers) Create(ctx context.Context, dev *domain.Device, fstype string, options []string, caller domain.Caller) error {
	secret, rest, isLuks := ExtractLuksEncrypt(options)
	if isLuks {
		return h.createLuksThenFilesystem(ctx, dev, fstype, secret, rest, caller)
	}

	return h.authorize(ctx, "org.blockd.filesystem-create", dev, caller, func(ctx context.Context) error {
		optString, err := BuildMountOptions(fstype, rest, caller.UID(), primaryGID(caller.UID()))
		_ = optString // mkfs options validated the same way mount options are; the helper itself takes no -o string
		if err != nil {
			return err
		}
		_, err = runJobSync(ctx, h.Jobs, dev, domain.JobSpec{
			Name: "mkfs", Argv: []string{mkfsHelper(fstype), dev.Identity.DeviceFile}, InitiatedByUID: caller.UID(),
		})
		if err != nil {
			return err
		}
		h.synthesize(dev)
		return nil
	})
}

func (h *Handlers) createLuksThenFilesystem(ctx context.Context, dev *domain.Device, fstype, secret string, rest []string, caller domain.Caller) error {
	return h.authorize(ctx, "org.blockd.filesystem-create", dev, caller, func(ctx context.Context) error {
		secretBytes := []byte(secret)
		_, err := runJobSync(ctx, h.Jobs, dev, domain.JobSpec{
			Name: "luks-format", Argv: []string{"cryptsetup", "luksFormat", dev.Identity.DeviceFile}, Stdin: secretBytes, InitiatedByUID: caller.UID(),
		})
		if err != nil {
			return err
		}

		if _, err := waitForDevice(ctx, h.Registry,
			func() (*domain.Device, bool) { return h.Registry.DeviceByDeviceFile(dev.Identity.DeviceFile) },
			func(d *domain.Device) bool { return d.Luks.IsLuks },
			defaultConvergeTimeout, fmt.Sprintf("luks container on %s", dev.Identity.DeviceFile)); err != nil {
			return err
		}

		mappingName := luksMappingName(dev, caller.UID())
		unlockSecret := []byte(secret)
		_, err = runJobSync(ctx, h.Jobs, dev, domain.JobSpec{
			Name: "luks-open", Argv: []string{"cryptsetup", "luksOpen", dev.Identity.DeviceFile, mappingName}, Stdin: unlockSecret, InitiatedByUID: caller.UID(),
		})
		if err != nil {
			return err
		}

		cleartext, err := waitForDevice(ctx, h.Registry,
			func() (*domain.Device, bool) { return h.Registry.DeviceByDeviceFile("/dev/mapper/" + mappingName) },
			func(*domain.Device) bool { return true },
			defaultConvergeTimeout, fmt.Sprintf("luks cleartext device for %s", dev.Identity.DeviceFile))
		if err != nil {
			return err
		}

		_, restAfterLuks, _ := ExtractLuksEncrypt(rest)
		return h.Create(ctx, cleartext, fstype, restAfterLuks, caller)
	})
}
