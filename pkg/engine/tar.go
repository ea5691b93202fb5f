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
	"archive/tar"
	"context"
	"fmt"
	"io"

	"coderunner-orchestrator/pkg/common/sessionutil"

	"github.com/docker/docker/api/types"
)

// FileEntry is the minimal shape PutFiles needs; the orchestrator converts
// each submitted wire.File into one of these before calling PutFiles.
type FileEntry struct {
	Path    string
	Content []byte
}

// PutFiles streams a POSIX tar containing every entry into destDir inside
// id, without ever touching the host filesystem. The tar is built on an
// io.Pipe so the engine reads it as it is written rather than waiting on a
// fully-buffered archive first.
func (c *Client) PutFiles(ctx context.Context, id string, files []FileEntry, destDir string) error {
	if destDir == "" {
		destDir = "/app"
	}

	pr, pw := io.Pipe()

	go func() {
		tw := tar.NewWriter(pw)

		for _, f := range files {
			hdr := &tar.Header{
				Name: f.Path,
				Mode: 0o644,
				Size: int64(len(f.Content)),
			}

			if err := tw.WriteHeader(hdr); err != nil {
				pw.CloseWithError(fmt.Errorf("write tar header for %s: %w", f.Path, err))

				return
			}

			if _, err := tw.Write(f.Content); err != nil {
				pw.CloseWithError(fmt.Errorf("write tar body for %s: %w", f.Path, err))

				return
			}
		}

		pw.CloseWithError(tw.Close())
	}()

	err := c.api.CopyToContainer(ctx, id, destDir, pr, types.CopyToContainerOptions{})
	if err != nil {
		return sessionutil.Wrapf(sessionutil.KindEngineUnavailable, "copy files into container %s: %v", id, err)
	}

	return nil
}
