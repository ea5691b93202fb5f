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
	"regexp"
	"strings"

	"coderunner-orchestrator/pkg/common/sessionutil"
	"coderunner-orchestrator/pkg/wire"
)

var pathPattern = regexp.MustCompile(`^[A-Za-z0-9._\-/]+$`)

// ValidationConfig bounds a submission's file set.
type ValidationConfig struct {
	MaxFileSize  int
	MaxTotalSize int
	MaxFileCount int
}

// ValidateFiles enforces §3's per-file/total-size, count, and path rules.
func ValidateFiles(files []wire.File, cfg ValidationConfig) error {
	if len(files) == 0 {
		return sessionutil.Wrapf(sessionutil.KindValidation, "no files submitted")
	}

	if len(files) > cfg.MaxFileCount {
		return sessionutil.Wrapf(sessionutil.KindValidation, "file count %d exceeds maximum %d", len(files), cfg.MaxFileCount)
	}

	total := 0

	for _, f := range files {
		if err := validatePath(f.Path); err != nil {
			return err
		}

		size := len(f.Content)
		if size > cfg.MaxFileSize {
			return sessionutil.Wrapf(sessionutil.KindValidation, "file %s size %d exceeds maximum %d", f.Path, size, cfg.MaxFileSize)
		}

		total += size
	}

	if total > cfg.MaxTotalSize {
		return sessionutil.Wrapf(sessionutil.KindValidation, "total submission size %d exceeds maximum %d", total, cfg.MaxTotalSize)
	}

	return nil
}

func validatePath(path string) error {
	if !pathPattern.MatchString(path) {
		return sessionutil.Wrapf(sessionutil.KindValidation, "path %q contains disallowed characters", path)
	}

	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return sessionutil.Wrapf(sessionutil.KindValidation, "path %q contains a .. segment", path)
		}
	}

	if strings.ContainsRune(path, 0) {
		return sessionutil.Wrapf(sessionutil.KindValidation, "path %q contains a NUL byte", path)
	}

	if strings.HasPrefix(path, "/") {
		return sessionutil.Wrapf(sessionutil.KindValidation, "path %q is not relative", path)
	}

	return nil
}
