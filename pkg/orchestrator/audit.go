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
	"encoding/json"
	"time"

	"coderunner-orchestrator/pkg/common/logutil"

	"github.com/google/uuid"
)

var auditLogger = logutil.GetLogger("coderunner-audit")

// submissionAuditRecord is one submission's admission record, logged as a
// single structured JSON line independent of the per-module debug/info
// logs, for incident reconstruction only. SubmissionID is generated fresh
// per run so repeated submissions on a reused sessionKey still correlate
// to distinct audit lines.
type submissionAuditRecord struct {
	SubmissionID string `json:"submission_id"`
	SessionKey   string `json:"session_key"`
	Language     string `json:"language"`
	EntryFile    string `json:"entry_file"`
	SourceIP     string `json:"source_ip,omitempty"`
	GmtCreate    string `json:"gmt_create"`
}

func auditSubmission(sessionKey, language, entryFile, sourceIP string) {
	record := submissionAuditRecord{
		SubmissionID: uuid.NewString(),
		SessionKey:   sessionKey,
		Language:     language,
		EntryFile:    entryFile,
		SourceIP:     sourceIP,
		GmtCreate:    time.Now().Format("2006.01.02 15:04:05"),
	}

	b, err := json.Marshal(record)
	if err != nil {
		return
	}

	auditLogger.Info(string(b))
}
