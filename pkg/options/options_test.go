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

package options

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewIsIndependentOfDefaults(t *testing.T) {
	o := New()
	o.HeapSize = 1 << 30
	if Defaults.HeapSize == o.HeapSize {
		t.Fatal("New() must deep-copy Defaults, not alias it")
	}
}

func TestProcessRejectsUnknownKey(t *testing.T) {
	o := New()
	if o.Process("does_not_exist", "1") {
		t.Error("Process should reject an unrecognized key")
	}
}

func TestProcessHeapSizeAcceptsHumanBytes(t *testing.T) {
	o := New()
	if !o.Process("heap_size", "512MiB") {
		t.Fatal("Process should accept a human byte-size string")
	}
	if o.HeapSize != 512*1024*1024 {
		t.Errorf("HeapSize = %d, want %d", o.HeapSize, 512*1024*1024)
	}
}

func TestProcessRejectsMalformedByteSize(t *testing.T) {
	o := New()
	if o.Process("nursery_size", "not-a-size") {
		t.Error("Process should reject a malformed byte-size string")
	}
}

func TestProcessGCTriggerRejectsUnknownValue(t *testing.T) {
	o := New()
	if o.Process("gc_trigger", "bogus") {
		t.Error("Process should reject an unrecognized gc_trigger value")
	}
	if o.Process("gc_trigger", "fixed_heap"); o.GCTrigger != "fixed_heap" {
		t.Errorf("GCTrigger = %q, want fixed_heap", o.GCTrigger)
	}
}

func TestProcessBooleanFlags(t *testing.T) {
	o := New()
	if !o.Process("sanity", "true") || !o.Sanity {
		t.Error("Process should set Sanity from a bool string")
	}
	if !o.Process("protect_on_release", "true") || !o.ProtectOnRelease {
		t.Error("Process should set ProtectOnRelease from a bool string")
	}
}

func TestProcessAllCollectsEveryRejection(t *testing.T) {
	o := New()
	err := o.ProcessAll(map[string]string{
		"threads":   "4",
		"bogus_key": "x",
		"heap_size": "not-a-size",
	})
	if err == nil {
		t.Fatal("ProcessAll should return an error when any key is rejected")
	}
	if o.Threads != 4 {
		t.Errorf("ProcessAll should still apply valid keys, Threads = %d, want 4", o.Threads)
	}
}

func TestProcessAllNoErrorWhenAllValid(t *testing.T) {
	o := New()
	err := o.ProcessAll(map[string]string{"threads": "2", "sanity": "false"})
	if err != nil {
		t.Errorf("ProcessAll with only valid keys should return nil, got %v", err)
	}
}

func TestLoadConfigFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mmtk.toml")
	const content = "threads = 8\nheap_size = 134217728\ngc_trigger = \"fixed_heap\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	o, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if o.Threads != 8 {
		t.Errorf("Threads = %d, want 8", o.Threads)
	}
	if o.HeapSize != 134217728 {
		t.Errorf("HeapSize = %d, want 134217728", o.HeapSize)
	}
	if o.GCTrigger != "fixed_heap" {
		t.Errorf("GCTrigger = %q, want fixed_heap", o.GCTrigger)
	}
}

func TestProcessConfigFileMergesInPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mmtk.toml")
	if err := os.WriteFile(path, []byte("threads = 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	o := New()
	if !o.Process("config_file", path) {
		t.Fatal("Process should accept a config_file pointing at a readable TOML file")
	}
	if o.Threads != 3 {
		t.Errorf("Threads = %d, want 3 after config_file merge", o.Threads)
	}
}

func TestProcessConfigFileRejectsMissingPath(t *testing.T) {
	o := New()
	if o.Process("config_file", "/does/not/exist.toml") {
		t.Error("Process should reject a config_file path that doesn't exist")
	}
}
