// Copyright 2024 The pCPU Scheduler Authors.
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

// Package config implements a small typed module registry used to load and
// validate the scheduler's runtime configuration: per-pCPU policy bindings
// and per-policy tunables. Each caller registers a named module with a
// pointer to the struct it wants populated and a function that produces
// fresh defaults; Load decodes a YAML document into the matching modules by
// top-level key and runs their notification callbacks.
package config

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"sigs.k8s.io/yaml"
)

// Event describes why a module's notification callback is being invoked.
type Event string

const (
	// EventUpdate indicates new configuration data was decoded into a module.
	EventUpdate Event = "update"
	// EventReset indicates a module was reset back to its defaults.
	EventReset Event = "reset"
)

// Source identifies where configuration data for a notification came from.
type Source string

const (
	// SourceFile marks configuration loaded from a YAML document.
	SourceFile Source = "file"
	// SourceDefault marks configuration reset to compiled-in defaults.
	SourceDefault Source = "default"
)

// ErrorHandling selects what a module does when its notify callback fails.
type ErrorHandling int

const (
	// ContinueOnError logs the error and keeps going.
	ContinueOnError ErrorHandling = iota
	// ExitOnError logs the error and terminates the process.
	ExitOnError
	// PanicOnError logs the error and panics.
	PanicOnError
	// StopOnError returns the error to the caller of Load/Reset.
	StopOnError
)

// NotifyFn is called whenever a module's configuration changes.
type NotifyFn func(event Event, source Source) error

// Module is a single named, independently (re)loadable slice of configuration.
type Module struct {
	name        string
	description string
	target      interface{}
	defaultsFn  func() interface{}
	onError     ErrorHandling
	notify      []NotifyFn
}

// Option configures a Module at registration time.
type Option interface {
	apply(*Module)
}

type funcOption func(*Module)

func (fo funcOption) apply(m *Module) { fo(m) }

// WithNotify adds a notification callback, invoked after every successful
// decode or reset of the module's configuration.
func WithNotify(fn NotifyFn) Option {
	return funcOption(func(m *Module) { m.notify = append(m.notify, fn) })
}

// WithErrorHandling sets how the module reacts to a notify callback failure.
func WithErrorHandling(eh ErrorHandling) Option {
	return funcOption(func(m *Module) { m.onError = eh })
}

var (
	mu      sync.Mutex
	modules = map[string]*Module{}
	order   []string
)

// Register creates and registers a configuration module under path. target
// must be a pointer to the struct that module data is decoded into;
// defaultsFn must return a freshly allocated value of the same type,
// pre-populated with defaults. Register panics on a duplicate path, since
// that is always a programming error caught at module-init time.
func Register(path, description string, target interface{}, defaultsFn func() interface{}, opts ...Option) *Module {
	mu.Lock()
	defer mu.Unlock()

	if _, ok := modules[path]; ok {
		panic(fmt.Sprintf("config: module %q already registered", path))
	}

	m := &Module{
		name:        path,
		description: description,
		target:      target,
		defaultsFn:  defaultsFn,
	}
	for _, o := range opts {
		o.apply(m)
	}

	modules[path] = m
	order = append(order, path)
	sort.Strings(order)

	log.Debugf("registered configuration module %q", path)

	return m
}

// Paths returns the registered module paths, in sorted order.
func Paths() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, len(order))
	copy(out, order)
	return out
}

// Load decodes a YAML document into the modules that have a matching
// top-level key, and runs each decoded module's notify callbacks. Modules
// whose key is absent from raw are left untouched. A decode or notify
// failure for one module does not prevent others from loading. Decode
// failures, and notify failures of modules using StopOnError, are
// aggregated into a single returned ConfigError; other notify failures are
// handled as the module's ErrorHandling says (logged, exit, or panic).
func Load(raw []byte) error {
	doc := map[string]yaml.RawMessage{}
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return newConfigError("failed to parse configuration: %v", err)
		}
	}

	mu.Lock()
	paths := make([]string, len(order))
	copy(paths, order)
	mu.Unlock()

	var errs []error
	for _, path := range paths {
		mu.Lock()
		m := modules[path]
		mu.Unlock()

		section, ok := doc[path]
		if !ok {
			continue
		}
		if err := yaml.Unmarshal(section, m.target); err != nil {
			errs = append(errs, newConfigError("module %q: failed to decode configuration: %v", path, err))
			continue
		}
		if err := m.runNotify(EventUpdate, SourceFile); err != nil {
			errs = append(errs, err)
		}
	}

	return aggregate(errs)
}

// Reset restores every registered module to its compiled-in defaults and
// runs its notify callbacks.
func Reset() error {
	mu.Lock()
	paths := make([]string, len(order))
	copy(paths, order)
	mu.Unlock()

	var errs []error
	for _, path := range paths {
		mu.Lock()
		m := modules[path]
		mu.Unlock()

		def := m.defaultsFn()
		assignPtr(m.target, def)
		if err := m.runNotify(EventReset, SourceDefault); err != nil {
			errs = append(errs, err)
		}
	}

	return aggregate(errs)
}

// runNotify invokes every notify callback for the module, honoring its
// configured ErrorHandling.
func (m *Module) runNotify(event Event, source Source) error {
	for _, fn := range m.notify {
		if err := fn(event, source); err != nil {
			wrapped := newConfigError("module %q: rejected %s from %s: %v", m.name, event, source, err)
			switch m.onError {
			case ExitOnError:
				log.Fatalf("%v", wrapped)
			case PanicOnError:
				log.Panicf("%v", wrapped)
			case StopOnError:
				return wrapped
			default:
				log.Errorf("%v", wrapped)
			}
		}
	}
	return nil
}

// Describe returns the description of every registered module, or of the
// named ones if paths is non-empty.
func Describe(paths ...string) string {
	mu.Lock()
	defer mu.Unlock()

	if len(paths) == 0 {
		paths = order
	}

	out := ""
	for _, path := range paths {
		m, ok := modules[path]
		if !ok {
			out += fmt.Sprintf("%s: <no such module>\n", path)
			continue
		}
		out += fmt.Sprintf("%s: %s\n", path, m.description)
	}
	return out
}

// assignPtr copies the value pointed to by src into the value pointed to by
// dst; both must be pointers to the same underlying type.
func assignPtr(dst, src interface{}) {
	dv := reflect.ValueOf(dst).Elem()
	sv := reflect.ValueOf(src).Elem()
	dv.Set(sv)
}
