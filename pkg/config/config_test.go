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

package config_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intel/pcpu-scheduler/pkg/config"
)

type sampleOptions struct {
	Name  string `json:"name,omitempty"`
	Count int    `json:"count,omitempty"`
}

func sampleDefaults() interface{} {
	return &sampleOptions{Name: "default", Count: 1}
}

func TestRegisterPanicsOnDuplicatePath(t *testing.T) {
	path := fmt.Sprintf("sample-%d", len(config.Paths()))
	target := sampleDefaults().(*sampleOptions)
	config.Register(path, "a sample module", target, sampleDefaults)

	require.Panics(t, func() {
		config.Register(path, "a conflicting module", target, sampleDefaults)
	})
}

func TestLoadDecodesMatchingModule(t *testing.T) {
	path := fmt.Sprintf("sample-%d", len(config.Paths())+100)
	target := sampleDefaults().(*sampleOptions)
	var notified []config.Event

	config.Register(path, "a sample module", target, sampleDefaults,
		config.WithNotify(func(event config.Event, source config.Source) error {
			notified = append(notified, event)
			return nil
		}))

	raw := []byte(fmt.Sprintf("%s:\n  name: custom\n  count: 7\n", path))
	err := config.Load(raw)
	require.NoError(t, err)
	require.Equal(t, "custom", target.Name)
	require.Equal(t, 7, target.Count)
	require.Equal(t, []config.Event{config.EventUpdate}, notified)
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	err := config.Load([]byte("no-such-module:\n  name: whatever\n"))
	require.NoError(t, err)
}

func TestResetRestoresDefaults(t *testing.T) {
	path := fmt.Sprintf("sample-%d", len(config.Paths())+200)
	target := sampleDefaults().(*sampleOptions)
	config.Register(path, "a sample module", target, sampleDefaults)

	raw := []byte(fmt.Sprintf("%s:\n  name: custom\n  count: 9\n", path))
	require.NoError(t, config.Load(raw))
	require.Equal(t, "custom", target.Name)

	require.NoError(t, config.Reset())
	require.Equal(t, "default", target.Name)
	require.Equal(t, 1, target.Count)
}

func TestLoadAggregatesNotifyErrors(t *testing.T) {
	path := fmt.Sprintf("sample-%d", len(config.Paths())+300)
	target := sampleDefaults().(*sampleOptions)
	config.Register(path, "a sample module", target, sampleDefaults,
		config.WithErrorHandling(config.StopOnError),
		config.WithNotify(func(config.Event, config.Source) error {
			return fmt.Errorf("rejected")
		}))

	raw := []byte(fmt.Sprintf("%s:\n  name: custom\n", path))
	err := config.Load(raw)
	require.Error(t, err)

	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestDescribeListsRegisteredModules(t *testing.T) {
	path := fmt.Sprintf("sample-%d", len(config.Paths())+400)
	target := sampleDefaults().(*sampleOptions)
	config.Register(path, "a described module", target, sampleDefaults)

	desc := config.Describe(path)
	require.Contains(t, desc, "a described module")
}
