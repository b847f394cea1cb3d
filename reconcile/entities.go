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

package reconcile

import (
	"time"

	"github.com/blockdaemon/blockd/domain"
)

// handleAdapter, handlePort and handleExpander are the three simpler
// sub-reconcilers of: they share the uniform algorithm but
// never rename keys on "change" (adapters/ports/expanders are keyed only by
// native-path and object-id, neither of which is expected to change).

func (c *Core) handleAdapter(ev domain.Event) {
	existing, ok := c.reg.AdapterByNativePath(ev.NativePath)
	switch ev.Action {
	case domain.ActionAdd:
		if ok {
			c.changeAdapter(existing, ev)
			return
		}
		a := domain.NewAdapter(ev.NativePath, time.Now())
		res := c.updater.RecomputeAdapter(a, ev)
		if res.Keep {
			c.reg.InsertAdapter(a)
			c.sink.EntityAdded(a)
		}
	case domain.ActionChange:
		if !ok {
			c.handleAdapter(domain.Event{Action: domain.ActionAdd, Subsystem: ev.Subsystem, NativePath: ev.NativePath, Env: ev.Env})
			return
		}
		c.changeAdapter(existing, ev)
	case domain.ActionRemove:
		if !ok {
			return
		}
		c.reg.RemoveAdapter(existing)
		c.sink.EntityRemoved(existing)
	}
}

func (c *Core) changeAdapter(a *domain.Adapter, ev domain.Event) {
	res := c.updater.RecomputeAdapter(a, ev)
	if !res.Keep {
		c.reg.RemoveAdapter(a)
		c.sink.EntityRemoved(a)
		return
	}
	if res.Changed {
		c.sink.EntityChanged(a)
	}
}

func (c *Core) handlePort(ev domain.Event) {
	existing, ok := c.reg.PortByNativePath(ev.NativePath)
	switch ev.Action {
	case domain.ActionAdd:
		if ok {
			c.changePort(existing, ev)
			return
		}
		p := domain.NewPort(ev.NativePath, time.Now())
		res := c.updater.RecomputePort(p, ev)
		if res.Keep {
			c.reg.InsertPort(p)
			c.sink.EntityAdded(p)
		}
	case domain.ActionChange:
		if !ok {
			c.handlePort(domain.Event{Action: domain.ActionAdd, Subsystem: ev.Subsystem, NativePath: ev.NativePath, Env: ev.Env})
			return
		}
		c.changePort(existing, ev)
	case domain.ActionRemove:
		if !ok {
			return
		}
		c.reg.RemovePort(existing)
		c.sink.EntityRemoved(existing)
	}
}

func (c *Core) changePort(p *domain.Port, ev domain.Event) {
	res := c.updater.RecomputePort(p, ev)
	if !res.Keep {
		c.reg.RemovePort(p)
		c.sink.EntityRemoved(p)
		return
	}
	if res.Changed {
		c.sink.EntityChanged(p)
	}
}

func (c *Core) handleExpander(ev domain.Event) {
	existing, ok := c.reg.ExpanderByNativePath(ev.NativePath)
	switch ev.Action {
	case domain.ActionAdd:
		if ok {
			c.changeExpander(existing, ev)
			return
		}
		e := domain.NewExpander(ev.NativePath, time.Now())
		res := c.updater.RecomputeExpander(e, ev)
		if res.Keep {
			c.reg.InsertExpander(e)
			c.sink.EntityAdded(e)
		}
	case domain.ActionChange:
		if !ok {
			c.handleExpander(domain.Event{Action: domain.ActionAdd, Subsystem: ev.Subsystem, NativePath: ev.NativePath, Env: ev.Env})
			return
		}
		c.changeExpander(existing, ev)
	case domain.ActionRemove:
		if !ok {
			return
		}
		c.reg.RemoveExpander(existing)
		c.sink.EntityRemoved(existing)
	}
}

func (c *Core) changeExpander(e *domain.Expander, ev domain.Event) {
	res := c.updater.RecomputeExpander(e, ev)
	if !res.Keep {
		c.reg.RemoveExpander(e)
		c.sink.EntityRemoved(e)
		return
	}
	if res.Changed {
		c.sink.EntityChanged(e)
	}
}
