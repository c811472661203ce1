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

package plan

import "github.com/pkg/errors"

// errOutOfMemory is returned by a plan's HandlePoll when no further
// memory can be reclaimed or reserved (spec §7 kind 1 "OOM").
var errOutOfMemory = errors.New("plan: out of memory")

// errModifiedForwarded is returned by ModifyCheck when a mutator attempts
// to write to an object mid-forward (spec §7 kind 3).
var errModifiedForwarded = errors.New("plan: object modified during forwarding")
