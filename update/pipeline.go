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

// Package update implements recomputing every derived attribute of an
// entity from its raw sysfs/procfs/uevent inputs in the fixed order the
// model's invariants depend on. The "changed" detection follows the
// teacher's fileinfo/property-compare approach of diffing the full struct
// rather than tracking individual setters (domain/fileinfo.go compares
// os.FileInfo snapshots the same way), which keeps every derivation a plain
// assignment instead of a change-tracking setter call.
package update

import (
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/blockdaemon/blockd/domain"
	"github.com/blockdaemon/blockd/sysfs"
)

// Updater implements domain.UpdaterIface.
type Updater struct {
	fs afero.Fs
	sysRoot string
	devRoot string

	reg domain.RegistryIface
	mounts domain.MountMonitorIface
}

var _ domain.UpdaterIface = (*Updater)(nil)

func New(fs afero.Fs, sysRoot, devRoot string, reg domain.RegistryIface, mounts domain.MountMonitorIface) *Updater {
	return &Updater{fs: fs, sysRoot: sysRoot, devRoot: devRoot, reg: reg, mounts: mounts}
}

func (u *Updater) reader(nativePath string) domain.ReaderIface {
	return sysfs.New(u.fs, nativePath)
}

// RecomputeDevice runs the ordered derivation chain from spec §4.6 and
// reports whether any exported attribute changed, plus which neighbor
// object-ids must themselves be recomputed because this device's
// slaves/holders sets changed.
func (u *Updater) RecomputeDevice(dev *domain.Device, ev domain.Event) domain.UpdateResult {
	before := *dev
	oldSlaves := append([]string(nil), dev.SlavesObjPath...)
	oldHolders := append([]string(nil), dev.HoldersObjPath...)

	r := u.reader(dev.NativePath())

	keep := u.classify(dev, r)
	if keep {
		u.deviceFiles(dev, ev, r)
		u.medium(dev, r)
		u.neighbors(dev, r)
		u.loop(dev, r, ev)
		u.partition(dev, r)
		u.partitionTable(dev, r)
		u.presentation(dev)
		u.filesystemID(dev, ev)
		u.drive(dev, r)
		u.optical(dev, r)
		u.luks(dev, ev)
		u.luksCleartext(dev)
		u.lvm2(dev, ev)
		u.dmmp(dev, r)
		u.mdComponent(dev, ev)
		u.md(dev, r, ev)
		u.canSpindown(dev)
		u.isSystemInternal(dev)
		u.mountState(dev)
	}

	changed := !deepEqualDevice(&before, dev)

	var neighbors []string
	neighbors = append(neighbors, diffNeighbors(oldSlaves, dev.SlavesObjPath)...)
	neighbors = append(neighbors, diffNeighbors(oldHolders, dev.HoldersObjPath)...)

	return domain.UpdateResult{Keep: keep, Changed: changed, NeighborsToRecompute: neighbors}
}

func deepEqualDevice(a, b *domain.Device) bool {
	return structEqual(a, b)
}

// diffNeighbors returns the symmetric difference of two object-id lists.
func diffNeighbors(oldList, newList []string) []string {
	oldSet := make(map[string]bool, len(oldList))
	for _, id := range oldList {
		oldSet[id] = true
	}
	newSet := make(map[string]bool, len(newList))
	for _, id := range newList {
		newSet[id] = true
	}
	var out []string
	for id := range oldSet {
		if !newSet[id] {
			out = append(out, id)
		}
	}
	for id := range newSet {
		if !oldSet[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// --- 1. classify ---

func (u *Updater) classify(dev *domain.Device, r domain.ReaderIface) bool {
	dev.Drive.IsDrive = r.Exists("range")

	mm, ok := r.ReadString("dev")
	if !ok {
		return false
	}
	parts := strings.SplitN(mm, ":", 2)
	if len(parts) != 2 {
		return false
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return false
	}
	dev.Identity.Major = uint32(major)
	dev.Identity.Minor = uint32(minor)
	return true
}

// --- 2. device-file / by-id / by-path ---

func (u *Updater) deviceFiles(dev *domain.Device, ev domain.Event, r domain.ReaderIface) {
	if ev.DeviceFile != "" {
		dev.Identity.DeviceFile = ev.DeviceFile
	} else if dev.Identity.DeviceFile == "" {
		dev.Identity.DeviceFile = u.devRoot + "/" + path.Base(dev.NativePath())
	}
	dev.Identity.DeviceFilePresentation = dev.Identity.DeviceFile

	byID, byPath := u.symlinkAliases(dev.Identity.DeviceFile)
	dev.Identity.DeviceFileByID = byID
	dev.Identity.DeviceFileByPath = byPath
}

// symlinkAliases scans /dev/disk/by-id and /dev/disk/by-path for symlinks
// resolving to deviceFile, sorted lexicographically per spec §4.6 step 2.
func (u *Updater) symlinkAliases(deviceFile string) (byID, byPath []string) {
	scan := func(dir string) []string {
		entries, err := afero.ReadDir(u.fs, dir)
		if err != nil {
			return nil
		}
		var out []string
		for _, e := range entries {
			full := dir + "/" + e.Name()
			lr, ok := u.fs.(afero.LinkReader)
			var target string
			if ok {
				t, err := lr.ReadlinkIfPossible(full)
				if err != nil {
					continue
				}
				target = t
			} else {
				b, err := afero.ReadFile(u.fs, full)
				if err != nil {
					continue
				}
				target = strings.TrimSpace(string(b))
			}
			resolved := target
			if !strings.HasPrefix(target, "/") {
				resolved = path.Clean(dir + "/" + target)
			}
			if resolved == deviceFile {
				out = append(out, full)
			}
		}
		sort.Strings(out)
		return out
	}
	return scan(u.devRoot + "/disk/by-id"), scan(u.devRoot + "/disk/by-path")
}

// --- 3. medium ---

func (u *Updater) medium(dev *domain.Device, r domain.ReaderIface) {
	if sectors, ok := r.ReadUint64("size"); ok {
		dev.Medium.Size = sectors * 512
	}
	if bs, ok := r.ReadUint64("queue/logical_block_size"); ok {
		dev.Medium.BlockSize = bs
	} else {
		dev.Medium.BlockSize = 512
	}
	if removable, ok := r.ReadBool("removable"); ok {
		dev.Medium.IsRemovable = removable
	}
	if ro, ok := r.ReadBool("ro"); ok {
		dev.Medium.IsReadOnly = ro
	}
	available := dev.Medium.Size > 0
	if available != dev.Medium.IsMediaAvailable {
		dev.Medium.MediaDetectionTime = time.Now()
	}
	dev.Medium.IsMediaAvailable = available
}

// --- 4. slaves/holders ---

func (u *Updater) neighbors(dev *domain.Device, r domain.ReaderIface) {
	dev.SlavesObjPath = u.listNeighbors(dev.NativePath(), "slaves")
	dev.HoldersObjPath = u.listNeighbors(dev.NativePath(), "holders")
}

func (u *Updater) listNeighbors(nativePath, sub string) []string {
	entries, err := afero.ReadDir(u.fs, nativePath+"/"+sub)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if d, ok := u.reg.DeviceByDeviceFile(u.devRoot + "/" + e.Name()); ok {
			out = append(out, d.ObjectID())
		}
	}
	sort.Strings(out)
	return out
}

func (u *Updater) slaveDevices(dev *domain.Device) []*domain.Device {
	var out []*domain.Device
	for _, id := range dev.SlavesObjPath {
		if d, ok := u.reg.DeviceByObjectID(id); ok {
			out = append(out, d)
		}
	}
	return out
}

func (u *Updater) holderDevices(dev *domain.Device) []*domain.Device {
	var out []*domain.Device
	for _, id := range dev.HoldersObjPath {
		if d, ok := u.reg.DeviceByObjectID(id); ok {
			out = append(out, d)
		}
	}
	return out
}

// --- loop / partition / partition-table / presentation ---

func (u *Updater) loop(dev *domain.Device, r domain.ReaderIface, ev domain.Event) {
	dev.Loop = domain.Loop{}
	if !strings.Contains(dev.NativePath(), "/block/loop") {
		return
	}
	if fn, ok := r.ReadString("loop/backing_file"); ok {
		dev.Loop.IsLoop = true
		dev.Loop.Filename = fn
	}
}

func (u *Updater) partition(dev *domain.Device, r domain.ReaderIface) {
	dev.Partition = domain.Partition{}
	if !r.Exists("partition") {
		return
	}
	dev.Partition.IsPartition = true
	if n, ok := r.ReadInt("partition"); ok {
		dev.Partition.Number = n
	}
	if off, ok := r.ReadUint64("start"); ok {
		dev.Partition.Offset = off * uint64(max1(dev.Medium.BlockSize))
	}
	dev.Partition.Size = dev.Medium.Size

	slaveNative := path.Dir(dev.NativePath())
	if slaveDev, ok := u.deviceByNativePrefix(slaveNative); ok {
		dev.Partition.Slave = slaveDev.ObjectID()
	}
}

func max1(v uint64) uint64 {
	if v == 0 {
		return 512
	}
	return v
}

func (u *Updater) deviceByNativePrefix(nativePath string) (*domain.Device, bool) {
	return u.reg.DeviceByNativePath(nativePath)
}

func (u *Updater) partitionTable(dev *domain.Device, r domain.ReaderIface) {
	dev.PartitionTable = domain.PartitionTable{}
	entries, err := afero.ReadDir(u.fs, dev.NativePath())
	if err != nil {
		return
	}
	base := path.Base(dev.NativePath())
	count := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), base) && e.Name() != base {
			count++
		}
	}
	if count > 0 {
		dev.PartitionTable.IsPartitionTable = true
		dev.PartitionTable.Count = count
	}
}

func (u *Updater) presentation(dev *domain.Device) {
	if dev.Presentation.Name == "" {
		dev.Presentation.Name = dev.FilesystemID.Label
	}
}

// --- id (filesystem identification, from udev uevent env / udev db) ---

func (u *Updater) filesystemID(dev *domain.Device, ev domain.Event) {
	dev.FilesystemID = domain.FilesystemID{Usage: domain.IDUsageEmpty}
	if ev.Env == nil {
		return
	}
	usage := ev.Env["ID_FS_USAGE"]
	switch strings.ToLower(usage) {
	case "filesystem":
		dev.FilesystemID.Usage = domain.IDUsageFilesystem
	case "crypto":
		dev.FilesystemID.Usage = domain.IDUsageCrypto
	case "raid":
		dev.FilesystemID.Usage = domain.IDUsageRaid
	case "":
		dev.FilesystemID.Usage = domain.IDUsageEmpty
	default:
		dev.FilesystemID.Usage = domain.IDUsageOther
	}
	dev.FilesystemID.Type = ev.Env["ID_FS_TYPE"]
	dev.FilesystemID.Version = ev.Env["ID_FS_VERSION"]
	dev.FilesystemID.UUID = ev.Env["ID_FS_UUID"]
	dev.FilesystemID.Label = ev.Env["ID_FS_LABEL"]
}

// --- drive ---

func (u *Updater) drive(dev *domain.Device, r domain.ReaderIface) {
	if !dev.Drive.IsDrive {
		return
	}
	dr := r.WithRoot("device")
	if v, ok := dr.ReadString("vendor"); ok {
		dev.Drive.Vendor = strings.TrimSpace(v)
	}
	if v, ok := dr.ReadString("model"); ok {
		dev.Drive.Model = strings.TrimSpace(v)
	}
	if v, ok := dr.ReadString("rev"); ok {
		dev.Drive.Revision = strings.TrimSpace(v)
	}
	if rot, ok := r.ReadBool("queue/rotational"); ok {
		dev.Drive.IsRotational = rot
	}
	if wc, ok := r.ReadString("queue/write_cache"); ok {
		dev.Drive.WriteCache = wc
	}
	dev.Drive.CanDetach = strings.Contains(dev.NativePath(), "usb")
	dev.Drive.ConnectionInterface = connectionInterfaceFor(dev.NativePath())
}

func connectionInterfaceFor(nativePath string) string {
	switch {
	case strings.Contains(nativePath, "usb"):
		return "usb"
	case strings.Contains(nativePath, "ata"):
		return "ata"
	case strings.Contains(nativePath, "nvme"):
		return "nvme"
	default:
		return ""
	}
}

// --- optical ---

func (u *Updater) optical(dev *domain.Device, r domain.ReaderIface) {
	dev.Optical = domain.Optical{}
	if !strings.Contains(dev.NativePath(), "sr") {
		return
	}
	dev.Optical.IsOpticalDisc = dev.Medium.IsMediaAvailable
}

// --- luks / luks-cleartext ---

func (u *Updater) luks(dev *domain.Device, ev domain.Event) {
	dev.Luks.IsLuks = dev.FilesystemID.Usage == domain.IDUsageCrypto && dev.FilesystemID.Type == "crypto_LUKS"
	dev.Luks.LuksHolder = ""
	for _, h := range u.holderDevices(dev) {
		if h.DMName != "" {
			dev.Luks.LuksHolder = h.ObjectID()
			break
		}
	}
}

func (u *Updater) luksCleartext(dev *domain.Device) {
	dev.Luks.IsLuksCleartext = false
	dev.Luks.CleartextSlave = ""
	if dev.DMName == "" || len(dev.SlavesObjPath) != 1 {
		return
	}
	uid, ok := parseDaemonDMName(dev.DMName)
	if !ok {
		return
	}
	dev.Luks.IsLuksCleartext = true
	dev.Luks.CleartextSlave = dev.SlavesObjPath[0]
	dev.Luks.CleartextUnlockedUID = uid
}

// parseDaemonDMName recognizes "<prefix>-uuid-<uuid>-uid<uid>" mapping names
// this daemon itself creates for LUKS Unlock (spec §4.12).
func parseDaemonDMName(name string) (uint32, bool) {
	idx := strings.LastIndex(name, "-uid")
	if idx < 0 {
		return 0, false
	}
	uid, err := strconv.ParseUint(name[idx+4:], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(uid), true
}

// --- lvm2 ---

func (u *Updater) lvm2(dev *domain.Device, ev domain.Event) {
	dev.LVM2LV = domain.LVM2LV{}
	dev.LVM2PV = domain.LVM2PV{}
	if ev.Env["DM_LV_NAME"] != "" {
		dev.LVM2LV.IsLV = true
		dev.LVM2LV.Name = ev.Env["DM_LV_NAME"]
		dev.LVM2LV.GroupName = ev.Env["DM_VG_NAME"]
	}
	if dev.FilesystemID.Usage == domain.IDUsageRaid && ev.Env["ID_FS_TYPE"] == "LVM2_member" {
		dev.LVM2PV.IsPV = true
		dev.LVM2PV.UUID = ev.Env["ID_FS_UUID"]
	}
}

// --- dmmp ---

func (u *Updater) dmmp(dev *domain.Device, r domain.ReaderIface) {
	dev.DMMP = domain.DMMP{}
	dev.DMMPComponent = domain.DMMPComponent{}
	if !strings.HasPrefix(dev.DMName, "mpath") {
		return
	}
	dev.DMMP.IsDMMP = true
	dev.DMMP.Name = dev.DMName
	for _, s := range u.slaveDevices(dev) {
		dev.DMMP.Slaves = append(dev.DMMP.Slaves, s.ObjectID())
	}
}

// --- md component / md ---

func (u *Updater) mdComponent(dev *domain.Device, ev domain.Event) {
	dev.MDComponent = domain.MDComponent{}
	if ev.Env["ID_FS_TYPE"] != "linux_raid_member" {
		return
	}
	dev.MDComponent.IsComponent = true
	dev.MDComponent.UUID = ev.Env["ID_FS_UUID"]
	for _, h := range u.holderDevices(dev) {
		if h.MD.IsMD {
			dev.MDComponent.Holder = h.ObjectID()
			break
		}
	}
}

func (u *Updater) md(dev *domain.Device, r domain.ReaderIface, ev domain.Event) {
	dev.MD = domain.MD{}
	if !r.Exists("md") {
		return
	}
	mr := r.WithRoot("md")
	dev.MD.IsMD = true
	if level, ok := mr.ReadString("level"); ok {
		dev.MD.Level = level
	}
	if n, ok := mr.ReadInt("raid_disks"); ok {
		dev.MD.NumRaidDevices = n
	}
	if action, ok := mr.ReadString("sync_action"); ok {
		dev.MD.SyncAction = action
	}
	dev.MD.IsDegraded = dev.MD.SyncAction == "recover"
	for _, s := range u.slaveDevices(dev) {
		dev.MD.Slaves = append(dev.MD.Slaves, s.ObjectID())
	}
	u.mdSyncProgress(dev, mr)
}

// mdSyncProgress recomputes linux-md-sync-{percentage,speed}; called both
// from the ordinary derivation chain and from the poller's 2 s periodic
// refresh (spec §8 scenario 6), since the kernel emits no change event for
// sync progress on its own.
func (u *Updater) mdSyncProgress(dev *domain.Device, mr domain.ReaderIface) {
	if dev.MD.SyncAction == "" || dev.MD.SyncAction == "idle" {
		dev.MD.SyncPercentage = 0
		dev.MD.SyncSpeed = 0
		return
	}
	raw, ok := mr.ReadString("sync_completed")
	if !ok {
		return
	}
	parts := strings.SplitN(raw, " / ", 2)
	if len(parts) == 2 {
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil && den > 0 {
			dev.MD.SyncPercentage = num / den * 100
		}
	}
	if speed, ok := mr.ReadUint64("sync_speed"); ok {
		dev.MD.SyncSpeed = speed
	}
}

// --- can-spindown / is-system-internal / mount-state ---

func (u *Updater) canSpindown(dev *domain.Device) {
	dev.Drive.CanSpindown = dev.Drive.IsDrive && dev.Drive.ConnectionInterface == "ata" && dev.Drive.IsRotational
}

func (u *Updater) isSystemInternal(dev *domain.Device) {
	if dev.Medium.IsRemovable || dev.Drive.ConnectionInterface == "usb" {
		dev.IsSystemInternal = false
		return
	}
	for _, s := range u.slaveDevices(dev) {
		if !s.IsSystemInternal {
			dev.IsSystemInternal = false
			return
		}
	}
	dev.IsSystemInternal = true
}

func (u *Updater) mountState(dev *domain.Device) {
	dev.MountState = domain.MountState{}
	if u.mounts == nil {
		return
	}
	for _, row := range u.mounts.Snapshot() {
		if row.Major == dev.Identity.Major && row.Minor == dev.Identity.Minor {
			dev.MountState.IsMounted = true
			dev.MountState.MountPaths = append(dev.MountState.MountPaths, row.MountPath)
		}
	}
	sort.Strings(dev.MountState.MountPaths)
}

// --- Adapter / Port / Expander ---

func (u *Updater) RecomputeAdapter(a *domain.Adapter, ev domain.Event) domain.UpdateResult {
	before := *a
	r := u.reader(a.NativePath())
	if v, ok := r.ReadString("vendor"); ok {
		a.Vendor = v
	}
	if v, ok := r.ReadString("class"); ok {
		a.Fabric = v
	}
	changed := !structEqual(&before, a)
	return domain.UpdateResult{Keep: true, Changed: changed}
}

func (u *Updater) RecomputePort(p *domain.Port, ev domain.Event) domain.UpdateResult {
	before := *p
	if p.Adapter == "" {
		if a, ok := u.nearestAdapter(p.NativePath()); ok {
			p.Adapter = a.ObjectID()
		}
	}
	changed := !structEqual(&before, p)
	return domain.UpdateResult{Keep: true, Changed: changed}
}

func (u *Updater) RecomputeExpander(e *domain.Expander, ev domain.Event) domain.UpdateResult {
	before := *e
	changed := !structEqual(&before, e)
	return domain.UpdateResult{Keep: true, Changed: changed}
}

func (u *Updater) nearestAdapter(nativePath string) (*domain.Adapter, bool) {
	for _, a := range u.reg.Adapters() {
		if strings.HasPrefix(nativePath, a.NativePath()) {
			return a, true
		}
	}
	return nil, false
}
