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

// Package authz implements the five-step authorization gate in front of
// every externally-initiated operation handler.
package authz

import (
	"context"
	"strconv"
	"sync"

	"github.com/blockdaemon/blockd/apierr"
	"github.com/blockdaemon/blockd/domain"
)

// Gate implements domain.GateIface.
type Gate struct {
	authority domain.AuthorityIface
	inhibitors domain.InhibitorRegistryIface

	mu sync.Mutex
	nextToken int
	cancelsByObjID map[string]map[int]context.CancelFunc
}

var _ domain.GateIface = (*Gate)(nil)

func New(authority domain.AuthorityIface, inhibitors domain.InhibitorRegistryIface) *Gate {
	return &Gate{authority: authority, inhibitors: inhibitors, cancelsByObjID: make(map[string]map[int]context.CancelFunc)}
}

// CancelSubject fires every pending authorization check whose subject is the
// device with this object-id. The reconciliation core calls this right before a device
// is unregistered.
func (g *Gate) CancelSubject(objectID string) {
	g.mu.Lock()
	cancels := g.cancelsByObjID[objectID]
	delete(g.cancelsByObjID, objectID)
	g.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

func (g *Gate) registerCancel(objectID string, cancel context.CancelFunc) func() {
	g.mu.Lock()
	if g.cancelsByObjID[objectID] == nil {
		g.cancelsByObjID[objectID] = make(map[int]context.CancelFunc)
	}
	token := g.nextToken
	g.nextToken++
	g.cancelsByObjID[objectID][token] = cancel
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.cancelsByObjID[objectID], token)
	}
}

func (g *Gate) Authorize(ctx context.Context, req domain.AuthRequest, cont func(ctx context.Context) error) error {
	if g.inhibitors != nil && g.inhibitors.IsServiceInhibited() {
		return apierr.New(apierr.Inhibited, "service is inhibited")
	}

	if req.Action == "" {
		return cont(ctx)
	}

	details := buildDetails(req)

	authCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if req.Subject != nil {
		unregister := g.registerCancel(req.Subject.ObjectID(), cancel)
		defer unregister()
	}
	if req.Caller != nil {
		unregisterDisconnect := req.Caller.OnDisconnect(cancel)
		defer unregisterDisconnect()
	}

	decision, err := g.authority.CheckAuthorization(authCtx, req.Caller, req.Action, details, req.AllowUserInteraction)
	if err != nil {
		if authCtx.Err() != nil {
			return apierr.New(apierr.Cancelled, "authorization cancelled for %s", req.OperationName)
		}
		return apierr.Failedf("authorization check failed for %s: %v", req.OperationName, err)
	}

	switch decision {
	case domain.AuthAllowed:
		return cont(ctx)
	case domain.AuthNeedsAuthentication:
		return apierr.New(apierr.PermissionDenied, "permission denied (authentication is required)")
	default:
		if authCtx.Err() != nil {
			return apierr.New(apierr.Cancelled, "authorization cancelled for %s", req.OperationName)
		}
		return apierr.New(apierr.PermissionDenied, "permission denied")
	}
}

// buildDetails assembles the minimum details bag step 3
// requires. Drive fields are filled in only when the subject is itself a
// drive; for a partition or other non-drive subject the partition-slave
// chain is not followed and no drive fields are added.
func buildDetails(req domain.AuthRequest) map[string]string {
	details := map[string]string{"operation": req.OperationName}
	dev := req.Subject
	if dev == nil {
		return details
	}

	details["subject-device-file"] = dev.Identity.DeviceFile
	if len(dev.Identity.DeviceFileByID) > 0 {
		details["subject-by-id"] = dev.Identity.DeviceFileByID[0]
	}
	if len(dev.Identity.DeviceFileByPath) > 0 {
		details["subject-by-path"] = dev.Identity.DeviceFileByPath[0]
	}
	details["is-partition"] = strconv.FormatBool(dev.Partition.IsPartition)
	if dev.Partition.IsPartition {
		details["partition-number"] = strconv.Itoa(dev.Partition.Number)
	}

	drive := dev
	if drive.Drive.IsDrive {
		fillDriveDetails(details, drive)
	}
	return details
}

func fillDriveDetails(details map[string]string, drive *domain.Device) {
	details["drive-device-file"] = drive.Identity.DeviceFile
	if len(drive.Identity.DeviceFileByID) > 0 {
		details["drive-by-id"] = drive.Identity.DeviceFileByID[0]
	}
	if len(drive.Identity.DeviceFileByPath) > 0 {
		details["drive-by-path"] = drive.Identity.DeviceFileByPath[0]
	}
	details["drive-vendor"] = drive.Drive.Vendor
	details["drive-model"] = drive.Drive.Model
	details["drive-revision"] = drive.Drive.Revision
	details["drive-serial"] = drive.Drive.Serial
	details["drive-connection-interface"] = drive.Drive.ConnectionInterface
}
