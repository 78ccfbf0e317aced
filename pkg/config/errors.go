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

package config

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ConfigError is returned for malformed or conflicting configuration data.
// It is the sentinel errors.As callers check for to distinguish a
// configuration mistake from any other failure.
type ConfigError struct {
	cause error
}

func (e *ConfigError) Error() string { return e.cause.Error() }
func (e *ConfigError) Unwrap() error { return e.cause }

func newConfigError(format string, args ...interface{}) error {
	return &ConfigError{cause: errors.Wrap(fmt.Errorf(format, args...), "config")}
}

// aggregate collects zero or more errors into a single ConfigError, or nil
// if errs is empty.
func aggregate(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	var merr *multierror.Error
	for _, err := range errs {
		merr = multierror.Append(merr, err)
	}
	return &ConfigError{cause: merr}
}
