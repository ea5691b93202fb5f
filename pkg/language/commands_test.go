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

package language

import (
	"strings"
	"testing"
)

func TestLookupUnknownLanguage(t *testing.T) {
	if _, err := Lookup("cobol"); err == nil {
		t.Error("expected error for unknown language")
	}
}

func TestShellQuoteEscapesInnerQuote(t *testing.T) {
	got := shellQuote("it's a file.py")
	want := `'it'\''s a file.py'`

	if got != want {
		t.Errorf("shellQuote() = %s, want %s", got, want)
	}
}

func TestBuildPythonCommandQuotesEntry(t *testing.T) {
	cmd := buildPythonCommand(nil, "it's.py")

	joined := strings.Join(cmd, " ")
	if !strings.Contains(joined, `'it'\''s.py'`) {
		t.Errorf("expected quoted entry in command, got %q", joined)
	}
}

func TestBuildCCommandFiltersByExtension(t *testing.T) {
	files := []string{"main.c", "helper.h", "notes.txt", "other.cpp"}
	cmd := buildCCommand(files, "")

	joined := strings.Join(cmd, " ")
	if !strings.Contains(joined, "main.c") {
		t.Errorf("expected main.c in compile command, got %q", joined)
	}

	if strings.Contains(joined, "other.cpp") {
		t.Errorf("did not expect other.cpp in c compile command, got %q", joined)
	}
}

func TestResolveEntryRequiresMarkerForPython(t *testing.T) {
	files := []File{{Path: "a.py"}, {Path: "b.py"}}

	if _, err := ResolveEntry("python", files); err == nil {
		t.Error("expected error when no file is marked toBeExec")
	}
}

func TestResolveEntryUsesMarker(t *testing.T) {
	files := []File{{Path: "a.py"}, {Path: "b.py", ToBeExec: true}}

	entry, err := ResolveEntry("python", files)
	if err != nil {
		t.Fatalf("ResolveEntry: %v", err)
	}

	if entry != "b.py" {
		t.Errorf("ResolveEntry() = %s, want b.py", entry)
	}
}

func TestResolveEntrySQLFallsBackToFirstSQLFile(t *testing.T) {
	files := []File{{Path: "schema.sql"}, {Path: "seed.sql"}}

	entry, err := ResolveEntry("sql", files)
	if err != nil {
		t.Fatalf("ResolveEntry: %v", err)
	}

	if entry != "schema.sql" {
		t.Errorf("ResolveEntry() = %s, want schema.sql", entry)
	}
}

func TestResolveEntryOptionalForC(t *testing.T) {
	files := []File{{Path: "main.c"}, {Path: "util.c"}}

	entry, err := ResolveEntry("c", files)
	if err != nil {
		t.Fatalf("ResolveEntry: %v", err)
	}

	if entry != "" {
		t.Errorf("ResolveEntry() = %s, want empty for c with no marker", entry)
	}
}
