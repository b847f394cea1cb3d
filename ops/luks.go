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
	"strconv"
	"strings"

	"github.com/blockdaemon/blockd/apierr"
	"github.com/blockdaemon/blockd/domain"
)

// luksMappingName builds the "<prefix>-uuid-<id-uuid>-uid<caller-uid>"
// device-mapper name requires for LUKS Unlock, the same
// convention reconcile.isDaemonCleartextName recognizes for force-teardown.
func luksMappingName(dev *domain.Device, uid uint32) string {
	return fmt.Sprintf("blockd-uuid-%s-uid%d", dev.FilesystemID.UUID, uid)
}

// Unlock implements LUKS Unlock.
func (h *Handlers) Unlock(ctx context.Context, dev *domain.Device, secret string, caller domain.Caller) (*domain.Device, error) {
	if dev.Luks.LuksHolder != "" {
		return nil, apierr.New(apierr.NotSupported, "%s already has a cleartext device", dev.Identity.DeviceFile)
	}

	mappingName := luksMappingName(dev, caller.UID())
	var cleartext *domain.Device

	err := h.authorize(ctx, "org.blockd.luks-unlock", dev, caller, func(ctx context.Context) error {
		secretBytes := []byte(secret)
		_, err := runJobSync(ctx, h.Jobs, dev, domain.JobSpec{
			Name: "luks-open", Argv: []string{"cryptsetup", "luksOpen", dev.Identity.DeviceFile, mappingName}, Stdin: secretBytes, InitiatedByUID: caller.UID(),
		})
		if err != nil {
			return err
		}

		cleartext, err = waitForDevice(ctx, h.Registry,
			func() (*domain.Device, bool) { return h.Registry.DeviceByDeviceFile("/dev/mapper/" + mappingName) },
			func(*domain.Device) bool { return true },
			luksCleartextConvergeTimeout, fmt.Sprintf("luks cleartext device for %s", dev.Identity.DeviceFile))
		return err
	})
	if err != nil {
		return nil, err
	}
	h.synthesize(dev)
	return cleartext, nil
}

// parseCleartextUID extracts the caller uid suffix from a daemon-convention
// device-mapper name, e.g. "blockd-uuid-1234-uid1000" -> 1000.
func parseCleartextUID(dmName string) (uint32, bool) {
	idx := strings.LastIndex(dmName, "-uid")
	if idx < 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(dmName[idx+4:], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// Lock implements LUKS Lock: requires the cleartext's
// device-mapper name to follow the daemon's naming convention, then either
// a uid match or the "lock others" authorization.
func (h *Handlers) Lock(ctx context.Context, cleartext *domain.Device, caller domain.Caller) error {
	uid, ok := parseCleartextUID(cleartext.DMName)
	if !ok {
		return apierr.New(apierr.NotSupported, "%s was not unlocked by this daemon", cleartext.Identity.DeviceFile)
	}

	action := "org.blockd.luks-lock"
	if uid != caller.UID() {
		action = "org.blockd.luks-lock-others"
	}

	return h.authorize(ctx, action, cleartext, caller, func(ctx context.Context) error {
		_, err := runJobSync(ctx, h.Jobs, cleartext, domain.JobSpec{
			Name: "luks-close", Argv: []string{"cryptsetup", "luksClose", cleartext.DMName}, InitiatedByUID: caller.UID(),
		})
		if err != nil {
			return err
		}

		local, err := h.Jobs.StartLocal(cleartext, "luks-lock-wait", caller.UID())
		if err != nil {
			return err
		}
		defer local.End()

		// The cleartext not appearing in the registry at all is itself the
		// success condition; waitForDevice only errors on ctx/timeout.
		_, err = waitForDevice(ctx, h.Registry,
			func() (*domain.Device, bool) {
				if _, present := h.Registry.DeviceByDeviceFile(cleartext.Identity.DeviceFile); present {
					return nil, false
				}
				return cleartext, true
			},
			func(*domain.Device) bool { return true },
			defaultConvergeTimeout, fmt.Sprintf("removal of cleartext device %s", cleartext.Identity.DeviceFile))
		return err
	})
}

// ChangePassphrase implements LUKS Change Passphrase:
// operates on metadata only, so it may run while the volume is mounted.
func (h *Handlers) ChangePassphrase(ctx context.Context, dev *domain.Device, oldSecret, newSecret string, caller domain.Caller) error {
	return h.authorize(ctx, "org.blockd.luks-change-passphrase", dev, caller, func(ctx context.Context) error {
		stdin := []byte(oldSecret + "\n" + newSecret + "\n")
		_, err := runJobSync(ctx, h.Jobs, dev, domain.JobSpec{
			Name: "luks-change-key", Argv: []string{"cryptsetup", "luksChangeKey", dev.Identity.DeviceFile}, Stdin: stdin, InitiatedByUID: caller.UID(),
		})
		return err
	})
}
