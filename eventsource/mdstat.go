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
	"bufio"
	"context"
	"os"
	"regexp"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/blockdaemon/blockd/domain"
)

// MDStatWatcher mirrors the original daemon's g_io_add_watch(G_IO_PRI) on
// /proc/mdstat: that flag maps to the kernel waking epoll's exceptional
// condition on procfs files whose content changed, the mechanism md arrays
// use to announce sync-progress and membership changes without a dedicated
// uevent per tick. Go has no GLib mainloop, so this reimplements the same
// epoll(EPOLLPRI) wait directly against the real /proc/mdstat fd — afero
// cannot stand in here since in-memory files can't support epoll.
type MDStatWatcher struct {
	path string
}

func NewMDStatWatcher(path string) *MDStatWatcher {
	return &MDStatWatcher{path: path}
}

var mdLineRE = regexp.MustCompile(`^(md\d+)\s*:`)

// Run blocks until ctx is cancelled, invoking emit with a synthesized change
// event for every md device named in /proc/mdstat each time the kernel
// flags it as changed.
func (w *MDStatWatcher) Run(ctx context.Context, emit func(domain.Event)) error {
	f, err := os.Open(w.path)
	if err != nil {
		logrus.Warnf("eventsource: no %s, md sync-progress watch disabled: %v", w.path, err)
		return nil
	}
	defer f.Close()

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	defer unix.Close(epfd)

	fd := int(f.Fd())
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: unix.EPOLLPRI | unix.EPOLLERR, Fd: int32(fd)}); err != nil {
		return err
	}

	events := make([]unix.EpollEvent, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := unix.EpollWait(epfd, events, 1000)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}

		for _, name := range readMDNames(w.path) {
			emit(domain.Event{
				Action: domain.ActionChange,
				Subsystem: domain.SubsystemBlock,
				NativePath: "/sys/block/" + name,
				Synthesized: true,
			})
		}

		if _, err := f.Seek(0, 0); err != nil {
			return err
		}
	}
}

func readMDNames(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := mdLineRE.FindStringSubmatch(scanner.Text()); m != nil {
			names = append(names, m[1])
		}
	}
	return names
}
