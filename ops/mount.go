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
	"os/user"
	"path"
	"strconv"

	"github.com/blockdaemon/blockd/apierr"
	"github.com/blockdaemon/blockd/domain"
)

// primaryGID resolves the primary group id of uid via the system user
// database, falling back to uid itself when the lookup fails (e.g. in a
// minimal container with no nsswitch data).
func primaryGID(uid uint32) uint32 {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return uid
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return uid
	}
	return uint32(gid)
}

// Mount implements filesystem_mount.
func (h *Handlers) Mount(ctx context.Context, dev *domain.Device, fstype string, options []string, caller domain.Caller) (string, error) {
	if dev.FilesystemID.Usage != domain.IDUsageFilesystem {
		if !(fstype == "auto" || fstype == "") || dev.FilesystemID.Usage != domain.IDUsageEmpty {
			return "", apierr.New(apierr.NotSupported, "%s does not contain a mountable filesystem", dev.Identity.DeviceFile)
		}
	}
	if IsBusy(h.Registry, dev, true) {
		return "", apierr.New(apierr.Busy, "%s is busy", dev.Identity.DeviceFile)
	}

	var mountPath string
	err := h.authorize(ctx, "org.blockd.filesystem-mount", dev, caller, func(ctx context.Context) error {
		if h.Fstab != nil && h.Fstab.Contains(dev.Identity.DeviceFile) {
			res, err := runJobSync(ctx, h.Jobs, dev, domain.JobSpec{
				Name: "mount-fstab", Argv: []string{"mount", dev.Identity.DeviceFile},
				InitiatedByUID: caller.UID(),
			})
			_ = res
			return err
		}

		effectiveFstype := fstype
		if effectiveFstype == "" {
			effectiveFstype = dev.FilesystemID.Type
		}
		optString, err := BuildMountOptions(effectiveFstype, options, caller.UID(), primaryGID(caller.UID()))
		if err != nil {
			return err
		}

		leaf := MediaDirName(dev.FilesystemID.Label)
		if leaf == "" {
			leaf = MediaDirName(dev.FilesystemID.UUID)
		}
		if leaf == "" {
			leaf = path.Base(dev.Identity.DeviceFile)
		}
		dir := path.Join(h.MediaRoot, leaf)
		for i := 0; fileExists(dir); i++ {
			dir = path.Join(h.MediaRoot, leaf+fmt.Sprintf("%d", i))
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return apierr.Failedf("creating mount point %s: %v", dir, err)
		}

		_, err = runJobSync(ctx, h.Jobs, dev, domain.JobSpec{
			Name: "mount",
			Argv: []string{"mount", "-t", effectiveFstype, "-o", optString, dev.Identity.DeviceFile, dir},
			InitiatedByUID: caller.UID(),
		})
		if err != nil {
			os.Remove(dir)
			return err
		}

		h.Mounts.Add(domain.MountRecord{DeviceFile: dev.Identity.DeviceFile, MountPath: dir, OwningUID: caller.UID(), RemoveDirOnUnmount: true})
		mountPath = dir
		return nil
	})
	if err != nil {
		return "", err
	}
	h.synthesize(dev)
	return mountPath, nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// Unmount implements filesystem_unmount.
func (h *Handlers) Unmount(ctx context.Context, dev *domain.Device, options []string, caller domain.Caller) error {
	if !dev.MountState.IsMounted {
		return apierr.New(apierr.NotSupported, "%s is not mounted", dev.Identity.DeviceFile)
	}

	force := false
	for _, o := range options {
		if o != "force" {
			return apierr.New(apierr.InvalidOption, "unmount option %q not permitted", o)
		}
		force = true
	}

	rec, recorded := h.Mounts.Get(dev.Identity.DeviceFile)
	inFstab := h.Fstab != nil && h.Fstab.Contains(dev.Identity.DeviceFile)

	action := "org.blockd.filesystem-unmount"
	if recorded && rec.OwningUID != caller.UID() && !inFstab {
		action = "org.blockd.filesystem-unmount-others"
	}

	return h.authorize(ctx, action, dev, caller, func(ctx context.Context) error {
		if !recorded && inFstab {
			_, err := runJobSync(ctx, h.Jobs, dev, domain.JobSpec{
				Name: "umount-fstab", Argv: []string{"umount", dev.Identity.DeviceFile}, InitiatedByUID: caller.UID(),
			})
			return err
		}

		argv := []string{"umount"}
		if force {
			argv = append(argv, "-l")
		}
		argv = append(argv, dev.Identity.DeviceFile)

		_, err := runJobSync(ctx, h.Jobs, dev, domain.JobSpec{Name: "umount", Argv: argv, InitiatedByUID: caller.UID()})
		if err != nil {
			return err
		}

		if recorded {
			h.Mounts.Remove(dev.Identity.DeviceFile)
			if rec.RemoveDirOnUnmount {
				os.Remove(rec.MountPath)
			}
		}
		h.synthesize(dev)
		return nil
	})
}
