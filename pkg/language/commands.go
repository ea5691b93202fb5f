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

// shellQuote wraps s in single quotes, escaping any inner single quote with
// the standard '…\'…' trick so a filename containing a quote cannot
// terminate the shell argument early.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func quoteAll(files []string) string {
	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = shellQuote(f)
	}

	return strings.Join(quoted, " ")
}

func filterByExt(files []string, exts ...string) []string {
	var out []string

	for _, f := range files {
		for _, ext := range exts {
			if strings.HasSuffix(f, ext) {
				out = append(out, f)

				break
			}
		}
	}

	return out
}

func buildPythonCommand(_ []string, entry string) []string {
	return []string{"sh", "-c", fmt.Sprintf("python -u %s", shellQuote(entry))}
}

func buildJavaScriptCommand(_ []string, entry string) []string {
	return []string{"sh", "-c", fmt.Sprintf("node %s", shellQuote(entry))}
}

// buildCCommand compiles every *.c file in the submission (after the
// orchestrator has already filtered the file set to the entry's extension
// family, per SPEC_FULL §4.5 step 7) into ./app and runs it.
func buildCCommand(files []string, _ string) []string {
	sources := filterByExt(files, ".c")

	return []string{"sh", "-c", fmt.Sprintf("cc -o ./app %s && ./app", quoteAll(sources))}
}

func buildCppCommand(files []string, _ string) []string {
	sources := filterByExt(files, ".cpp", ".cc", ".cxx", ".c++")

	return []string{"sh", "-c", fmt.Sprintf("c++ -std=c++17 -o ./app %s && ./app", quoteAll(sources))}
}

// buildJavaCommand compiles every submitted .java file and runs the main
// class named after the entry file's stem, with a small, fixed heap and the
// serial collector so short-lived submissions do not pay G1's warmup cost.
func buildJavaCommand(files []string, entry string) []string {
	sources := filterByExt(files, ".java")
	className := strings.TrimSuffix(entry, ".java")

	return []string{"sh", "-c", fmt.Sprintf(
		"javac -d . %s && java -Xmx256m -XX:+UseSerialGC -cp . %s",
		quoteAll(sources), shellQuote(className),
	)}
}

// sqlPassword is the fixed credential the sql runtime's postgres server and
// client both use (set via Descriptor.Env's POSTGRES_PASSWORD/PGPASSWORD
// entries). It authenticates a throwaway per-submission database, not a
// secret worth protecting.
const sqlPassword = "coderunner"

// buildSQLCommand invokes the bundled relational client against entry,
// reading it as a script under a language-specific password supplied via
// the container's environment (PGPASSWORD) rather than the command line,
// so it never appears in process listings.
func buildSQLCommand(_ []string, entry string) []string {
	return []string{"sh", "-c", fmt.Sprintf("psql -U runner -d runner -f %s", shellQuote(entry))}
}
