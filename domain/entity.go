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

// Package domain defines the shared entity model, event types and service
// interfaces that every other blockd package depends on. Concrete
// implementations live in their own packages (registry, sysfs, job,...);
// domain only carries the vocabulary they share, so that no package needs to
// import another package's implementation type.
package domain

import (
	"strconv"
	"strings"
	"time"
)

// Kind tags the four entity kinds (device, adapter, port, expander).
type Kind int

const (
	KindDevice Kind = iota
	KindAdapter
	KindPort
	KindExpander
)

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "Device"
	case KindAdapter:
		return "Adapter"
	case KindPort:
		return "Port"
	case KindExpander:
		return "Expander"
	default:
		return "Unknown"
	}
}

// Entity is the trait shared by Device, Adapter, Port and Expander.
type Entity interface {
	Kind() Kind
	NativePath() string
	ObjectID() string
	DetectionTime() time.Time
}

// EntityBase implements the common bookkeeping fields of Entity. Concrete
// entity structs embed it rather than re-declaring native-path/object-id
// plumbing, mirroring the teacher's HandlerBase embedding convention
// (domain/handler.go).
type EntityBase struct {
	kind Kind
	nativePath string
	objectID string
	detectionTime time.Time
}

func NewEntityBase(kind Kind, nativePath string, detectionTime time.Time) EntityBase {
	return EntityBase{
		kind: kind,
		nativePath: nativePath,
		objectID: ObjectIDFromNativePath(nativePath),
		detectionTime: detectionTime,
	}
}

func (b *EntityBase) Kind() Kind { return b.kind }
func (b *EntityBase) NativePath() string { return b.nativePath }
func (b *EntityBase) ObjectID() string { return b.objectID }
func (b *EntityBase) DetectionTime() time.Time { return b.detectionTime }

// SetNativePath updates the native path backing this entity (e.g. a kernel
// "move" uevent renaming a device-file). Callers in registry/ must perform
// the remove-all-keys / mutate / re-insert-all-keys dance described in
// around this.
func (b *EntityBase) SetNativePath(p string) {
	b.nativePath = p
	b.objectID = ObjectIDFromNativePath(p)
}

// ObjectIDFromNativePath derives the GLOSSARY's "object identifier": the last
// path segment of nativePath, with every byte outside [A-Za-z0-9] escaped as
// '_' followed by its lowercase hex value.
func ObjectIDFromNativePath(nativePath string) string {
	segs := strings.Split(strings.TrimRight(nativePath, "/"), "/")
	last := segs[len(segs)-1]

	var b strings.Builder
	for i := 0; i < len(last); i++ {
		c := last[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		} else {
			b.WriteByte('_')
			b.WriteString(strconv.FormatUint(uint64(c), 16))
		}
	}
	return b.String()
}
