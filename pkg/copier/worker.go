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

package copier

import (
	"crypto/sha1" //nolint:gosec
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/cloudnative-pg/pg-backup-core/pkg/backupengine"
	"github.com/cloudnative-pg/pg-backup-core/pkg/manifest"
)

var errSkip = errors.New("source missing, ignored")

// Job is the input to one file-copy, the positional parameters described
// in §4.4 and carried verbatim across the subprocess protocol when the
// worker runs remotely.
type Job struct {
	SourceName       string
	IgnoreMissing    bool
	ExpectedSize     int64
	CopyExactSize    bool
	ExpectedChecksum string
	CheckPages       bool
	PageBaseBlock    uint32
	RepoName         string
	HasReference     bool
	CompressType     CompressType
	CompressLevel    int
	Label            string
	Delta            bool
	Cipher           EncryptionOptions
}

// Worker runs file-copy jobs against a source filesystem and a repository
// writer. It holds no per-job state, so the same Worker can run jobs
// concurrently for different files (never the same repository path, per
// the orchestrator's one-worker-per-path rule).
type Worker struct {
	Source     SourceFilesystem
	Repository RepositoryWriter
}

// CopyFile executes one job end to end, implementing the six numbered
// steps of §4.4.
func (w *Worker) CopyFile(job Job) (manifest.CopyResult, error) {
	open := func() (io.ReadCloser, error) {
		src, err := w.Source.Open(job.SourceName)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && job.IgnoreMissing {
				return nil, errSkip
			}
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%s: %w", job.SourceName, backupengine.ErrFileMissing)
			}
			return nil, err
		}
		return src, nil
	}

	if job.Delta && job.ExpectedChecksum != "" {
		deltaSrc, err := open()
		if errors.Is(err, errSkip) {
			return manifest.CopyResult{Status: manifest.CopyStatusSkipped}, nil
		}
		if err != nil {
			return manifest.CopyResult{}, err
		}
		noop, result, err := w.tryDeltaNoop(deltaSrc, job)
		_ = deltaSrc.Close()
		if err != nil {
			return manifest.CopyResult{}, err
		}
		if noop {
			return result, nil
		}
		// The source changed since expected-checksum was computed: fall
		// through to a full pipeline run, reading from a fresh handle
		// since the delta check already consumed the one above.
	}

	src, err := open()
	if errors.Is(err, errSkip) {
		return manifest.CopyResult{Status: manifest.CopyStatusSkipped}, nil
	}
	if err != nil {
		return manifest.CopyResult{}, err
	}
	defer func() { _ = src.Close() }()

	repoPath := repositoryPath(job.Label, job.RepoName, job.CompressType)
	existing, err := w.Repository.Stat(repoPath)
	if err != nil {
		return manifest.CopyResult{}, err
	}

	counting := newCountingReader(src)
	var reader io.Reader = counting

	var pageReader *pageChecksumReader
	if job.CheckPages {
		pageReader = newPageChecksumReader(reader, job.PageBaseBlock)
		reader = pageReader
	}

	if job.ExpectedSize > 0 {
		reader = io.LimitReader(reader, job.ExpectedSize)
	}

	repoFile, err := w.Repository.Create(repoPath)
	if err != nil {
		return manifest.CopyResult{}, err
	}

	repoCounting := &countingWriter{inner: repoFile}

	encWriter, err := newEncryptWriter(repoCounting, job.Cipher)
	if err != nil {
		_ = repoFile.Close()
		return manifest.CopyResult{}, err
	}
	compWriter, err := newCompressWriter(encWriter, job.CompressType, job.CompressLevel)
	if err != nil {
		_ = encWriter.Close()
		_ = repoFile.Close()
		return manifest.CopyResult{}, err
	}

	if _, err := io.Copy(compWriter, reader); err != nil {
		_ = compWriter.Close()
		_ = encWriter.Close()
		_ = repoFile.Close()
		return manifest.CopyResult{}, err
	}

	if err := compWriter.Close(); err != nil {
		_ = encWriter.Close()
		_ = repoFile.Close()
		return manifest.CopyResult{}, err
	}
	if err := encWriter.Close(); err != nil {
		_ = repoFile.Close()
		return manifest.CopyResult{}, err
	}
	if err := repoFile.Close(); err != nil {
		return manifest.CopyResult{}, err
	}

	checksum := counting.Checksum()

	var pageResult *manifest.PageChecksumResult
	if pageReader != nil {
		r := pageReader.Result()
		pageResult = &manifest.PageChecksumResult{
			Valid:      r.Valid,
			Misaligned: r.Misaligned,
			BadPages:   manifest.CompactPageRanges(r.BadPages),
		}
	}

	status := manifest.CopyStatusCopied
	if existing.Exists {
		if existing.Checksum == checksum && existing.Size == counting.count {
			status = manifest.CopyStatusChecksumMatch
		} else {
			status = manifest.CopyStatusRecopied
		}
	}

	return manifest.CopyResult{
		Status:       status,
		CopySize:     counting.count,
		RepoSize:     repoCounting.count,
		Checksum:     checksum,
		PageChecksum: pageResult,
	}, nil
}

// tryDeltaNoop implements steps 2 and 3 of §4.4: when running in delta
// mode with a known expected checksum, read up to expected-size bytes (or
// the whole file, per copy-exact-size) and compare against the expected
// checksum before committing to a full pipeline run.
func (w *Worker) tryDeltaNoop(src io.Reader, job Job) (bool, manifest.CopyResult, error) {
	var reader io.Reader = src
	if job.CopyExactSize && job.ExpectedSize > 0 {
		reader = io.LimitReader(src, job.ExpectedSize)
	}

	hasher := sha1.New() //nolint:gosec
	n, err := io.Copy(hasher, reader)
	if err != nil {
		return false, manifest.CopyResult{}, err
	}

	checksum := fmt.Sprintf("%x", hasher.Sum(nil))
	if checksum != job.ExpectedChecksum {
		return false, manifest.CopyResult{}, nil
	}

	return true, manifest.CopyResult{
		Status:   manifest.CopyStatusNoop,
		CopySize: n,
		RepoSize: 0,
		Checksum: job.ExpectedChecksum,
	}, nil
}

func repositoryPath(label, repoName string, compressType CompressType) string {
	return label + "/" + repoName + compressType.Extension()
}

type countingWriter struct {
	inner io.Writer
	count int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.inner.Write(p)
	c.count += int64(n)
	return n, err
}
