// Copyright 2019-2024 The pCPU Scheduler Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"sync"
)

// registry is the global logger registry: known sources, their runtime
// configuration, and the currently active backend.
type registry struct {
	sync.RWMutex
	names   map[string]logger    // source name to logger id
	sources map[logger]string    // logger id to source name
	configs map[logger]config    // per-logger runtime configuration
	backend map[string]BackendFn // registered backend constructors
	active  Backend              // currently active backend instance
	level   Level                // lowest unsuppressed severity
	forced  bool                 // forced (SIGUSR1-toggled) full debugging
	align   int                  // longest known source name, for alignment
	next    logger                // next unallocated logger id
}

var log = &registry{
	names:   make(map[string]logger),
	sources: make(map[logger]string),
	configs: make(map[logger]config),
	backend: make(map[string]BackendFn),
	level:   DefaultLevel,
}

// get returns the logger for source, allocating a new one if necessary.
func (r *registry) get(source string) logger {
	r.Lock()
	defer r.Unlock()

	if id, ok := r.names[source]; ok {
		return id
	}

	if int(r.next) >= maxLoggers {
		panic("log: too many distinct logging sources")
	}

	id := r.next
	r.next++

	r.names[source] = id
	r.sources[id] = source
	r.configs[id] = mkConfig(id, true, false)

	if len(source) > r.align {
		r.align = len(source)
		if r.active != nil {
			r.active.SetSourceAlignment(r.align)
		}
	}

	return id
}

// NewLogger creates or looks up the Logger for the given source.
func NewLogger(source string) Logger {
	return log.get(source)
}

// Get is an alias for NewLogger.
func Get(source string) Logger {
	return log.get(source)
}

// SetLevel sets the lowest unsuppressed logging severity.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.level = level
}

// SetBackend activates the named backend, replacing any currently active one.
func SetBackend(name string) error {
	return activateBackend(name)
}

// forceDebug sets or clears forced (signal-toggled) full debugging.
func (r *registry) forceDebug(state bool) {
	r.Lock()
	defer r.Unlock()
	r.forced = state
}

// debugForced reports whether forced full debugging is currently active.
func (r *registry) debugForced() bool {
	r.RLock()
	defer r.RUnlock()
	return r.forced
}

// activateBackend looks up and activates the named backend.
func activateBackend(name string) error {
	log.Lock()
	defer log.Unlock()

	fn, ok := log.backend[name]
	if !ok {
		return loggerError("unknown logger backend %q", name)
	}

	if log.active != nil {
		log.active.Stop()
	}

	log.active = fn()
	log.active.SetSourceAlignment(log.align)

	return nil
}

// Flush flushes the active backend's initial message buffer, if any.
func Flush() {
	log.RLock()
	active := log.active
	log.RUnlock()
	if active != nil {
		active.Flush()
	}
}

// Sync waits for the active backend to emit all pending messages.
func Sync() {
	log.RLock()
	active := log.active
	log.RUnlock()
	if active != nil {
		active.Sync()
	}
}

// Stop stops the active backend.
func Stop() {
	log.RLock()
	active := log.active
	log.RUnlock()
	if active != nil {
		active.Stop()
	}
}

func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("log: "+format, args...)
}

func init() {
	if err := activateBackend(FmtBackendName); err != nil {
		panic(err)
	}
}
