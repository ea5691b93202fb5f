// Copyright The TrustTunnel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"testing"

	"coderunner-orchestrator/pkg/wire"
)

func TestValidateFilesRejectsEmptySet(t *testing.T) {
	if err := ValidateFiles(nil, defaultValidation()); err == nil {
		t.Error("expected error for empty file set")
	}
}

func TestValidateFilesRejectsTooManyFiles(t *testing.T) {
	cfg := defaultValidation()
	cfg.MaxFileCount = 1

	files := []wire.File{{Path: "a.py"}, {Path: "b.py"}}
	if err := ValidateFiles(files, cfg); err == nil {
		t.Error("expected error for file count over the maximum")
	}
}

func TestValidateFilesRejectsOversizedFile(t *testing.T) {
	cfg := defaultValidation()
	cfg.MaxFileSize = 4

	files := []wire.File{{Path: "a.py", Content: "print('hello world')"}}
	if err := ValidateFiles(files, cfg); err == nil {
		t.Error("expected error for a file over the per-file size maximum")
	}
}

func TestValidateFilesRejectsOversizedTotal(t *testing.T) {
	cfg := defaultValidation()
	cfg.MaxFileSize = 100
	cfg.MaxTotalSize = 10

	files := []wire.File{{Path: "a.py", Content: "aaaaaa"}, {Path: "b.py", Content: "bbbbbb"}}
	if err := ValidateFiles(files, cfg); err == nil {
		t.Error("expected error for a submission over the total size maximum")
	}
}

func TestValidatePathRejectsTraversal(t *testing.T) {
	cases := []string{
		"../etc/passwd",
		"a/../../b.py",
		"/etc/passwd",
		"a\x00b.py",
		"weird$(path).py",
	}

	for _, p := range cases {
		if err := validatePath(p); err == nil {
			t.Errorf("validatePath(%q) = nil, want error", p)
		}
	}
}

func TestValidatePathAcceptsOrdinaryRelativePaths(t *testing.T) {
	cases := []string{"main.py", "src/lib.go", "a/b/c.txt", "file-name_1.0.js"}

	for _, p := range cases {
		if err := validatePath(p); err != nil {
			t.Errorf("validatePath(%q) = %v, want nil", p, err)
		}
	}
}
