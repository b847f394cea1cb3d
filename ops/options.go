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

// Package ops implements the mutating operation handlers, each
// following the shared authorize -> validate -> job -> converge -> reply
// shape, grounded on the teacher's handler layer (handler/implementations,
// each a validate-then-dispatch method on a shared *Handler receiver).
package ops

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blockdaemon/blockd/apierr"
)

// fsFamilyOptions is the per-filesystem mount-option policy table.
type fsFamilyOptions struct {
	defaults []string
	allow []string // option names/prefixes usable by anyone
	allowUIDSelf []string
	allowGIDSelf []string
}

var familyOptions = map[string]fsFamilyOptions{
	"vfat": {
		defaults: []string{"shortname=mixed", "dmask=0077", "utf8=1"},
		allow: []string{"flush", "utf8=", "shortname=", "umask=", "dmask=", "fmask=", "codepage=", "iocharset=", "usefree"},
		allowUIDSelf: []string{"uid="},
		allowGIDSelf: []string{"gid="},
	},
	"ntfs": {
		defaults: []string{"dmask=0077"},
		allow: []string{"umask=", "dmask=", "fmask="},
		allowUIDSelf: []string{"uid="},
		allowGIDSelf: []string{"gid="},
	},
	"iso9660": {
		defaults: []string{"iocharset=utf8", "mode=0400", "dmode=0500"},
		allow: []string{"norock", "nojoliet", "iocharset=", "mode=", "dmode="},
		allowUIDSelf: []string{"uid="},
		allowGIDSelf: []string{"gid="},
	},
	"udf": {
		defaults: []string{"iocharset=utf8", "umask=0077"},
		allow: []string{"iocharset=", "umask="},
		allowUIDSelf: []string{"uid="},
		allowGIDSelf: []string{"gid="},
	},
}

// anyFamilyAllow are the options every filesystem family accepts regardless
// of its own table.
var anyFamilyAllow = []string{"exec", "noexec", "nodev", "nosuid", "atime", "noatime", "nodiratime", "ro", "rw", "sync", "dirsync"}

// BuildMountOptions validates userOptions against fstype's allowlist and
// returns the final, ordered option string to hand the mount helper:
// defaults for the family, then the uid=/gid= self-options the caller is
// entitled to, then every other validated user option, then nodev,nosuid.
func BuildMountOptions(fstype string, userOptions []string, callerUID, callerGID uint32) (string, error) {
	fam, hasFam := familyOptions[fstype]

	var out []string
	if hasFam {
		out = append(out, fam.defaults...)
		out = append(out, fmt.Sprintf("uid=%d", callerUID), fmt.Sprintf("gid=%d", callerGID))
	}

	for _, opt := range userOptions {
		if strings.Contains(opt, ",") {
			return "", apierr.New(apierr.InvalidOption, "option %q contains a comma", opt)
		}
		if !optionAllowed(opt, fam, hasFam) {
			return "", apierr.New(apierr.InvalidOption, "option %q is not permitted for filesystem %q", opt, fstype)
		}
		if (strings.HasPrefix(opt, "uid=") && opt != fmt.Sprintf("uid=%d", callerUID)) ||
			(strings.HasPrefix(opt, "gid=") && opt != fmt.Sprintf("gid=%d", callerGID)) {
			return "", apierr.New(apierr.InvalidOption, "option %q is not permitted for filesystem %q", opt, fstype)
		}
		out = append(out, opt)
	}

	out = append(out, "nodev", "nosuid")
	return strings.Join(out, ","), nil
}

func optionAllowed(opt string, fam fsFamilyOptions, hasFam bool) bool {
	for _, a := range anyFamilyAllow {
		if opt == a {
			return true
		}
	}
	if !hasFam {
		return false
	}
	for _, a := range fam.allow {
		if matchesAllowEntry(opt, a) {
			return true
		}
	}
	for _, a := range fam.allowUIDSelf {
		if matchesAllowEntry(opt, a) {
			return true
		}
	}
	for _, a := range fam.allowGIDSelf {
		if matchesAllowEntry(opt, a) {
			return true
		}
	}
	return false
}

func matchesAllowEntry(opt, entry string) bool {
	if strings.HasSuffix(entry, "=") {
		return strings.HasPrefix(opt, entry)
	}
	return opt == entry
}

// MediaDirName converts a label/uuid into a filesystem-safe mount-point leaf
// name, remapping "/" to "_" per.
func MediaDirName(labelOrUUID string) string {
	return strings.ReplaceAll(labelOrUUID, "/", "_")
}

// ExtractLuksEncrypt pulls a `luks_encrypt=<secret>` pseudo-option out of
// options, returning the secret and the remaining options. The option name carries no other validation — it is
// a magic escape hatch from the original design, kept verbatim per
// Open Question decision (see DESIGN.md).
func ExtractLuksEncrypt(options []string) (secret string, rest []string, found bool) {
	for _, opt := range options {
		if strings.HasPrefix(opt, "luks_encrypt=") {
			found = true
			secret = strings.TrimPrefix(opt, "luks_encrypt=")
			continue
		}
		rest = append(rest, opt)
	}
	return secret, rest, found
}

// ParseUintOption extracts a uint value from a "key=value" style option.
func ParseUintOption(opt string) (uint64, error) {
	eq := strings.IndexByte(opt, '=')
	if eq < 0 {
		return 0, fmt.Errorf("option %q has no value", opt)
	}
	return strconv.ParseUint(opt[eq+1:], 10, 64)
}
