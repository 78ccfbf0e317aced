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
	"flag"
	"strconv"
	"strings"

	"github.com/intel/pcpu-scheduler/pkg/config"
)

// Logging can be configured both from the command line and through
// pkg/config. Flags given on the command line set the initial defaults;
// configuration received via pkg/config only changes the runtime state.

const (
	// DefaultLevel is the default lowest unsuppressed severity.
	DefaultLevel = LevelInfo
	// ConfigPath is the configuration module path for the logger.
	ConfigPath = "logger"

	optLevel   = "logger-level"
	optDebug   = "logger-debug"
	optBackend = "logger-backend"
)

// stateMap is a comma-separated, optionally on:/off:-prefixed set of names,
// used to select which logging sources have debugging enabled.
type stateMap map[string]bool

func (m *stateMap) Set(value string) error {
	*m = make(stateMap)

	prev := "on"
	for _, req := range strings.Split(strings.TrimSpace(value), ",") {
		if req == "" {
			continue
		}
		status := prev
		names := req
		if split := strings.SplitN(req, ":", 2); len(split) == 2 {
			status, names = split[0], split[1]
			prev = status
		}

		var state bool
		switch status {
		case "on", "enable", "enabled":
			state = true
		case "off", "disable", "disabled":
			state = false
		default:
			var err error
			if state, err = strconv.ParseBool(status); err != nil {
				return loggerError("invalid state %q in %q: %v", status, value, err)
			}
		}

		for _, name := range strings.Split(names, ",") {
			switch name {
			case "all", "*":
				(*m)["*"] = state
			case "none":
				(*m)["*"] = !state
			default:
				(*m)[name] = state
			}
		}
	}
	return nil
}

func (m stateMap) String() string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return strings.Join(names, ",")
}

// debugFlag is a flag.Value that applies debug-state changes immediately,
// so that both -logger-debug on the command line and flag.Set at runtime
// take effect right away.
type debugFlag struct {
	value string
}

func (f *debugFlag) String() string {
	if f == nil {
		return ""
	}
	return f.value
}

func (f *debugFlag) Set(value string) error {
	if err := applyDebug(value); err != nil {
		return err
	}
	f.value = value
	opt.Debug = value
	return nil
}

// backendFlag is a flag.Value that activates a logger backend immediately.
type backendFlag struct {
	value string
}

func (f *backendFlag) String() string {
	if f == nil {
		return ""
	}
	return f.value
}

func (f *backendFlag) Set(value string) error {
	if err := activateBackend(value); err != nil {
		return err
	}
	f.value = value
	opt.Backend = value
	return nil
}

// options is the config-loadable and flag-settable runtime state of the
// logging package.
type options struct {
	// Level is the lowest unsuppressed severity.
	Level string `json:"level,omitempty"`
	// Backend selects the active logger backend by name.
	Backend string `json:"backend,omitempty"`
	// Debug enables debugging for the listed sources ("*"/"all" for every source).
	Debug string `json:"debug,omitempty"`
}

func defaultOptions() interface{} {
	return &options{
		Level:   DefaultLevel.String(),
		Backend: FmtBackendName,
	}
}

var opt = defaultOptions().(*options)

// String renders a Level as its configuration name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	case LevelPanic:
		return "panic"
	default:
		return "info"
	}
}

// parseLevel parses a textual severity level.
func parseLevel(value string) (Level, error) {
	switch value {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, loggerError("unknown log level %q", value)
	}
}

// applyLevel parses and activates a textual severity level.
func applyLevel(value string) error {
	l, err := parseLevel(value)
	if err != nil {
		return err
	}
	SetLevel(l)
	return nil
}

// levelFlag is a flag.Value that activates a severity level immediately.
type levelFlag struct {
	value string
}

func (f *levelFlag) String() string {
	if f == nil {
		return ""
	}
	return f.value
}

func (f *levelFlag) Set(value string) error {
	if err := applyLevel(value); err != nil {
		return err
	}
	f.value = value
	opt.Level = value
	return nil
}

// applyDebug enables/disables debugging for the sources named by value.
func applyDebug(value string) error {
	var m stateMap
	if err := m.Set(value); err != nil {
		return err
	}

	wildcard, hasWildcard := m["*"]
	log.RLock()
	names := make(map[string]logger, len(log.names))
	for name, id := range log.names {
		names[name] = id
	}
	log.RUnlock()

	if hasWildcard {
		for _, id := range names {
			id.EnableDebug(wildcard)
		}
	}
	for name, state := range m {
		if name == "*" {
			continue
		}
		id, ok := names[name]
		if !ok {
			id = log.get(name)
		}
		id.EnableDebug(state)
	}

	return nil
}

func configNotify(event config.Event, source config.Source) error {
	if opt.Level != "" {
		if err := applyLevel(opt.Level); err != nil {
			return err
		}
	}
	if opt.Backend != "" {
		if err := activateBackend(opt.Backend); err != nil {
			return err
		}
	}
	if opt.Debug != "" {
		if err := applyDebug(opt.Debug); err != nil {
			return err
		}
	}

	Default().Info("logger configuration %v (from %v): level=%s backend=%s debug=%s",
		event, source, opt.Level, opt.Backend, opt.Debug)

	return nil
}

func init() {
	config.SetLogger(config.Logger{
		DebugEnabled: Default().DebugEnabled,
		Debugf:       Default().Debug,
		Infof:        Default().Info,
		Warningf:     Default().Warn,
		Errorf:       Default().Error,
		Fatalf:       Default().Fatal,
		Panicf:       Default().Panic,
	})

	flag.Var(&levelFlag{value: DefaultLevel.String()}, optLevel, "least severity of log messages to pass through")
	flag.Var(&debugFlag{}, optDebug, "comma-separated, on:/off:-prefixed list of logger sources to enable debugging for")
	flag.Var(&backendFlag{value: FmtBackendName}, optBackend, "logger backend to use")

	config.Register(ConfigPath, configHelp, opt, defaultOptions,
		config.WithNotify(configNotify))
}
