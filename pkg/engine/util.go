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

package engine

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/filters"
)

// newLabelFilterArgs builds an equality filter set ANDing every key/value
// pair, matching the engine's label-filter syntax ("label=key=value").
func newLabelFilterArgs(labelFilter map[string]string) filters.Args {
	args := filters.NewArgs()

	for k, v := range labelFilter {
		args.Add("label", fmt.Sprintf("%s=%s", k, v))
	}

	return args
}

// discard drains r line by line; the engine's pull/build progress streams
// must be fully read before the response body can be closed cleanly.
func discard(r io.Reader) (int, error) {
	br := bufio.NewReader(r)

	lines := 0

	for {
		_, _, err := br.ReadLine()
		if err == io.EOF {
			return lines, nil
		}

		if err != nil {
			return lines, err
		}

		lines++
	}
}

// ParseMemory converts a teacher-style memory string ("512m", "1g", "1024k",
// or a bare byte count) into bytes.
func ParseMemory(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty memory value")
	}

	mult := int64(1)
	suffix := s[len(s)-1]

	switch suffix {
	case 'k':
		mult = 1024
		s = s[:len(s)-1]
	case 'm':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	case 'g':
		mult = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory value %q: %w", s, err)
	}

	return n * mult, nil
}

// NanoCPUs converts a decimal core count ("0.5", "2") into the engine's
// NanoCPUs unit.
func NanoCPUs(cpus float64) int64 {
	return int64(cpus * 1e9)
}
