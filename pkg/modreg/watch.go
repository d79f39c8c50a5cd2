// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 The Genie Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modreg

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces bursts of file events (editors write manifests in
// several steps) into one reload.
const watchDebounce = 500 * time.Millisecond

type dirWatcher struct {
	fsw  *fsnotify.Watcher
	done chan struct{}
}

// StartWatch begins watching the user module directory, reloading the
// registry when its contents change. No-op when watching is disabled or no
// user directory is configured.
func (r *Registry) StartWatch() error {
	if !r.cfg.Watch || r.cfg.UserDir == "" {
		return nil
	}
	if r.watcher != nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(r.cfg.UserDir); err != nil {
		_ = fsw.Close()
		return err
	}

	w := &dirWatcher{fsw: fsw, done: make(chan struct{})}
	r.watcher = w
	go r.watchLoop(w)

	slog.Info("Watching user module directory", "dir", r.cfg.UserDir)
	return nil
}

func (r *Registry) watchLoop(w *dirWatcher) {
	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			pending = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("Module directory watch error", "error", err)

		case <-pending:
			pending = nil
			slog.Info("User module directory changed, reloading")
			if err := r.Reload(); err != nil {
				slog.Error("Module reload failed", "error", err)
			}
		}
	}
}

// StopWatch stops the user directory watcher.
func (r *Registry) StopWatch() error {
	if r.watcher == nil {
		return nil
	}
	close(r.watcher.done)
	err := r.watcher.fsw.Close()
	r.watcher = nil
	return err
}
