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

package dbusapi

import (
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/blockdaemon/blockd/domain"
)

// callerTracker resolves a D-Bus unique name (dbus.Sender) to a domain.Caller
// and fires registered disconnect callbacks off the bus's NameOwnerChanged
// signal, the standard godbus idiom for "tell me when this peer goes away".
type callerTracker struct {
	conn *dbus.Conn

	mu sync.Mutex
	subs map[string][]func() // unique name -> pending disconnect callbacks
}

func newCallerTracker(conn *dbus.Conn) (*callerTracker, error) {
	t := &callerTracker{conn: conn, subs: make(map[string][]func())}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		return nil, err
	}

	signals := make(chan *dbus.Signal, 64)
	conn.Signal(signals)
	go t.watch(signals)

	return t, nil
}

func (t *callerTracker) watch(signals <-chan *dbus.Signal) {
	for sig := range signals {
		if sig.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(sig.Body) != 3 {
			continue
		}
		name, _ := sig.Body[0].(string)
		newOwner, _ := sig.Body[2].(string)
		if newOwner != "" {
			continue // name still owned
		}
		t.fire(name)
	}
}

func (t *callerTracker) fire(uniqueName string) {
	t.mu.Lock()
	fns := t.subs[uniqueName]
	delete(t.subs, uniqueName)
	t.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}

func (t *callerTracker) onDisconnect(uniqueName string, fn func()) func() {
	t.mu.Lock()
	t.subs[uniqueName] = append(t.subs[uniqueName], fn)
	idx := len(t.subs[uniqueName]) - 1
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		fns := t.subs[uniqueName]
		if idx < len(fns) {
			fns[idx] = nil
		}
	}
}

// busCaller implements domain.Caller over a D-Bus unique connection name,
// resolving uid lazily via org.freedesktop.DBus.GetConnectionUnixUser.
type busCaller struct {
	tracker *callerTracker
	name string
}

var _ domain.Caller = (*busCaller)(nil)

func newBusCaller(tracker *callerTracker, sender dbus.Sender) *busCaller {
	return &busCaller{tracker: tracker, name: string(sender)}
}

func (c *busCaller) Name() string { return c.name }

func (c *busCaller) UID() uint32 {
	var uid uint32
	obj := c.tracker.conn.BusObject()
	if err := obj.Call("org.freedesktop.DBus.GetConnectionUnixUser", 0, c.name).Store(&uid); err != nil {
		return 0
	}
	return uid
}

func (c *busCaller) OnDisconnect(fn func()) (cancel func()) {
	return c.tracker.onDisconnect(c.name, fn)
}
