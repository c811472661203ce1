// Copyright 2018 The gVisor Authors.
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

// Package options implements the Options record of SPEC_FULL §2.10:
// defaults, a TOML config file loaded under an advisory file lock, and
// runtime key/value overrides, with human byte-size strings for the
// heap/nursery size options.
package options

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/gofrs/flock"
	"github.com/hashicorp/go-multierror"
	"github.com/mohae/deepcopy"
	"github.com/pkg/errors"
)

// Options is the process-wide tunable record (spec §4.3 plan
// construction takes Options; §6 embedding API "process(mmtk, name,
// value)"). It is write-once at startup; post-init reads are lock-free
// (SPEC_FULL §5 "the options record is write-once at startup").
type Options struct {
	// Threads is the GC worker-thread pool size (spec §5 "N = option
	// threads"). Zero (the default) makes mmtk's GCInit start a single
	// worker.
	Threads int `toml:"threads"`
	// HeapSize is the total heap reservation in bytes.
	HeapSize uint64 `toml:"heap_size"`
	// NurserySize is the GenCopy nursery's reservation in bytes.
	NurserySize uint64 `toml:"nursery_size"`
	// StressFactor is the stress-mode interval in bytes allocated between
	// forced collections (0 disables stress mode). It is parsed and stored
	// only: no allocation path reads it, so it forces no collection.
	StressFactor uint64 `toml:"stress_factor"`
	// GCTrigger names the trigger policy, "dynamic" or "fixed_heap".
	// Process rejects any other value; Load stores the file's value
	// unchecked. No collection path reads it.
	GCTrigger string `toml:"gc_trigger"`
	// ProtectOnRelease mprotects a CopySpace's released half PROT_NONE
	// until it's reacquired as a destination, trading a syscall per
	// release for earlier detection of dangling references.
	ProtectOnRelease bool `toml:"protect_on_release"`
	// Sanity records whether a sanity-GC pass is requested. It is stored
	// only: no collection path reads it, and no sanity pass runs.
	Sanity bool `toml:"sanity"`
}

// Defaults is the package-level template every fresh Options starts from
// (SPEC_FULL §4.9): deep-copied per caller via github.com/mohae/deepcopy
// so repeated callers never share mutable state.
var Defaults = Options{
	Threads:          0,
	HeapSize:         256 << 20,
	NurserySize:      32 << 20,
	StressFactor:     0,
	GCTrigger:        "dynamic",
	ProtectOnRelease: false,
	Sanity:           false,
}

// New returns a fresh copy of Defaults.
func New() *Options {
	return deepcopy.Copy(&Defaults).(*Options)
}

// recognized lists the option keys Process accepts, per spec §6
// "process(mmtk, name, value)".
var recognized = map[string]bool{
	"threads":            true,
	"heap_size":          true,
	"nursery_size":       true,
	"stress_factor":      true,
	"gc_trigger":         true,
	"protect_on_release": true,
	"sanity":             true,
	"config_file":        true, // SPEC_FULL §2.10: load a TOML file at this path
}

// Load reads a TOML config file under an advisory lock (SPEC_FULL §2.10
// "read under an advisory file lock... so concurrent embedders don't
// race on the same config path"), applying it on top of Defaults.
func Load(path string) (*Options, error) {
	lock := flock.NewFlock(path)
	if err := lock.Lock(); err != nil {
		return nil, errors.Wrapf(err, "options: locking config file %s", path)
	}
	defer lock.Unlock()

	opts := New()
	if _, err := toml.DecodeFile(path, opts); err != nil {
		return nil, errors.Wrapf(err, "options: decoding config file %s", path)
	}
	return opts, nil
}

// Process applies a single name/value override (spec §6
// "process(mmtk, name, value) -> bool", returning whether name was
// recognized). config_file loads and merges a TOML file in place;
// heap_size/nursery_size accept human byte strings via
// github.com/docker/go-units (e.g. "512MiB").
func (o *Options) Process(name, value string) bool {
	if !recognized[name] {
		return false
	}
	switch name {
	case "threads":
		n, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		o.Threads = n
	case "heap_size":
		n, err := units.RAMInBytes(value)
		if err != nil {
			return false
		}
		o.HeapSize = uint64(n)
	case "nursery_size":
		n, err := units.RAMInBytes(value)
		if err != nil {
			return false
		}
		o.NurserySize = uint64(n)
	case "stress_factor":
		n, err := units.RAMInBytes(value)
		if err != nil {
			return false
		}
		o.StressFactor = uint64(n)
	case "gc_trigger":
		if value != "dynamic" && value != "fixed_heap" {
			return false
		}
		o.GCTrigger = value
	case "protect_on_release":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false
		}
		o.ProtectOnRelease = b
	case "sanity":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false
		}
		o.Sanity = b
	case "config_file":
		if _, err := os.Stat(value); err != nil {
			return false
		}
		lock := flock.NewFlock(value)
		if err := lock.Lock(); err != nil {
			return false
		}
		merged := *o
		_, err := toml.DecodeFile(value, &merged)
		lock.Unlock()
		if err != nil {
			return false
		}
		*o = merged
	default:
		return false
	}
	return true
}

// ProcessAll applies a batch of name/value overrides (e.g. parsed from a
// command line), collecting every rejected key into a single error rather
// than stopping at the first one — useful for an embedder that wants to
// report all malformed flags in one diagnostic instead of one-at-a-time.
func (o *Options) ProcessAll(overrides map[string]string) error {
	var result *multierror.Error
	for name, value := range overrides {
		if !o.Process(name, value) {
			result = multierror.Append(result, errors.Errorf("options: rejected %s=%q", name, value))
		}
	}
	return result.ErrorOrNil()
}
