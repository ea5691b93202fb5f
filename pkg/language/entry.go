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
	"fmt"
	"strings"
)

// File is the minimal shape ResolveEntry needs from a submitted file.
type File struct {
	Path     string
	ToBeExec bool
}

// ResolveEntry determines the entry file for a submission, per SPEC_FULL
// §4.5 step 4: most languages require exactly one file marked toBeExec;
// sql accepts the first .sql file as a fallback; c/cpp have no entry
// requirement since compilation is whole-directory.
func ResolveEntry(lang string, files []File) (string, error) {
	d, err := Lookup(lang)
	if err != nil {
		return "", err
	}

	entry, marked := "", 0
	for _, f := range files {
		if f.ToBeExec && marked == 0 {
			entry = f.Path
		}
		if f.ToBeExec {
			marked++
		}
	}

	if marked > 1 && d.NeedsEntry {
		return "", fmt.Errorf("%d files marked as entry for language %q, expected exactly one", marked, lang)
	}

	if marked > 0 {
		return entry, nil
	}

	if lang == "sql" {
		for _, f := range files {
			if strings.HasSuffix(f.Path, ".sql") {
				return f.Path, nil
			}
		}
	}

	if !d.NeedsEntry {
		return "", nil
	}

	return "", fmt.Errorf("no entry file marked for language %q", lang)
}
