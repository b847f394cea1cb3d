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

package eventsource

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/blockdaemon/blockd/domain"
)

const netlinkKobjectUevent = 15 // NETLINK_KOBJECT_UEVENT, not exported by x/sys/unix

// NetlinkMonitor reads kernel uevents off a netlink socket bound to the
// kernel broadcast group, the live half of the event source (Coldplug
// covers startup).
type NetlinkMonitor struct {
	fd int
}

// NewNetlinkMonitor opens and binds the socket. Requires CAP_NET_ADMIN (the
// daemon otherwise runs fully privileged per ambient-capability
// model).
func NewNetlinkMonitor() (*NetlinkMonitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, netlinkKobjectUevent)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, 1<<20); err != nil {
		logrus.Debugf("eventsource: SO_RCVBUFFORCE unavailable, falling back to SO_RCVBUF: %v", err)
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, 1<<20)
	}
	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &NetlinkMonitor{fd: fd}, nil
}

func (m *NetlinkMonitor) Close() error {
	return unix.Close(m.fd)
}

// Run delivers parsed events to emit until ctx is cancelled. A 1s receive
// timeout keeps the read loop responsive to cancellation without needing a
// second control-plane fd.
func (m *NetlinkMonitor) Run(ctx context.Context, emit func(domain.Event)) error {
	buf := make([]byte, 1<<16)
	tv := unix.Timeval{Sec: 1}
	if err := unix.SetsockoptTimeval(m.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, _, err := unix.Recvfrom(m.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}
		ev := parseUevent(buf[:n])
		if ev == nil {
			logrus.Debugf("eventsource: discarding malformed uevent datagram (%d bytes)", n)
			continue
		}
		emit(*ev)
	}
}
