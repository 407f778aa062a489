/*
Copyright The CloudNativePG Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package orchestrator

import (
	"fmt"

	"github.com/cloudnative-pg/pg-backup-core/pkg/copier"
	"github.com/cloudnative-pg/pg-backup-core/pkg/manifest"
)

// backupFileCmd is the subprocess protocol's command name for a single
// file-copy job, dispatched positionally as described in §6.
const backupFileCmd = "backupFile"

// jobToRequest renders a copier.Job as the positional parameter list a
// remote worker subprocess expects. The order here is the wire contract:
// changing it breaks compatibility with any worker binary built against
// an older version of this package.
func jobToRequest(job copier.Job) Request {
	return Request{
		Cmd: backupFileCmd,
		Param: []interface{}{
			job.SourceName,
			job.IgnoreMissing,
			job.ExpectedSize,
			job.CopyExactSize,
			job.ExpectedChecksum,
			job.CheckPages,
			job.PageBaseBlock,
			job.RepoName,
			job.HasReference,
			string(job.CompressType),
			job.CompressLevel,
			job.Label,
			job.Delta,
			job.Cipher.CipherType,
			job.Cipher.Passphrase,
		},
	}
}

// responseToResult decodes a successful Response's Out array back into a
// manifest.CopyResult, the mirror image of how a worker subprocess would
// encode one.
func responseToResult(resp Response) (manifest.CopyResult, error) {
	const expectedFields = 5
	if len(resp.Out) < expectedFields {
		return manifest.CopyResult{}, fmt.Errorf("malformed backupFile response: want %d fields, got %d",
			expectedFields, len(resp.Out))
	}

	status, ok := resp.Out[0].(string)
	if !ok {
		return manifest.CopyResult{}, fmt.Errorf("malformed backupFile response: status field is not a string")
	}

	result := manifest.CopyResult{
		Status:   manifest.CopyStatus(status),
		CopySize: toInt64(resp.Out[1]),
		RepoSize: toInt64(resp.Out[2]),
		Checksum: toString(resp.Out[3]),
	}

	if pages, ok := resp.Out[4].(map[string]interface{}); ok && len(pages) > 0 {
		pc := &manifest.PageChecksumResult{}
		if v, ok := pages["valid"].(bool); ok {
			pc.Valid = v
		}
		if v, ok := pages["misaligned"].(bool); ok {
			pc.Misaligned = v
		}
		result.PageChecksum = pc
	}

	return result, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}
