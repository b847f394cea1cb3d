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
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/blockdaemon/blockd/domain"
)

// PolkitAuthority implements domain.AuthorityIface by calling
// org.freedesktop.PolicyKit1.Authority.CheckAuthorization over the system
// bus, the same out-of-process policy decision point real udisks2 defers
// to. It reuses godbus/dbus/v5's client Call convention, the same one
// dbusapi/caller.go uses to resolve a caller's uid.
type PolkitAuthority struct {
	conn *dbus.Conn
}

func NewPolkitAuthority(conn *dbus.Conn) *PolkitAuthority {
	return &PolkitAuthority{conn: conn}
}

var _ domain.AuthorityIface = (*PolkitAuthority)(nil)

type polkitSubject struct {
	Kind string
	Details map[string]dbus.Variant
}

const (
	polkitService = "org.freedesktop.PolicyKit1"
	polkitObjPath = "/org/freedesktop/PolicyKit1/Authority"
	polkitIface = "org.freedesktop.PolicyKit1.Authority"
	flagAllowInteraction uint32 = 1
)

func (a *PolkitAuthority) CheckAuthorization(ctx context.Context, caller domain.Caller, action string, details map[string]string, allowUserInteraction bool) (domain.AuthDecision, error) {
	subject := polkitSubject{
		Kind: "system-bus-name",
		Details: map[string]dbus.Variant{"name": dbus.MakeVariant(caller.Name())},
	}

	var flags uint32
	if allowUserInteraction {
		flags = flagAllowInteraction
	}

	obj := a.conn.Object(polkitService, dbus.ObjectPath(polkitObjPath))
	call := obj.CallWithContext(ctx, polkitIface+".CheckAuthorization", 0,
	subject, action, details, flags, "")
	if call.Err != nil {
		return domain.AuthDenied, fmt.Errorf("polkit CheckAuthorization: %w", call.Err)
	}

	var isAuthorized, isChallenge bool
	var resultDetails map[string]string
	if err := call.Store(&isAuthorized, &isChallenge, &resultDetails); err != nil {
		return domain.AuthDenied, fmt.Errorf("polkit reply: %w", err)
	}

	switch {
	case isAuthorized:
		return domain.AuthAllowed, nil
	case isChallenge:
		return domain.AuthNeedsAuthentication, nil
	default:
		return domain.AuthDenied, nil
	}
}
