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

// Package copier implements the per-file copy pipeline: read from the
// cluster, optionally verify page checksums, hash, compress, encrypt, and
// write into the repository.
package copier

import "io"

// SourceFilesystem is the read side of the pipeline: the cluster's data
// directory (local, or reached indirectly through a remote worker's own
// local filesystem).
type SourceFilesystem interface {
	// Open opens name for reading. Implementations must return an error
	// satisfying errors.Is(err, fs.ErrNotExist) when the file is absent.
	Open(name string) (io.ReadCloser, error)
}

// RepositoryExistingFile describes a file already present in the
// repository at the path a new copy would be written to, as found by the
// resume analyzer or a prior worker run.
type RepositoryExistingFile struct {
	Exists   bool
	Size     int64
	Checksum string
}

// RepositoryWriter is the write side of the pipeline: the backup
// repository (local POSIX directory, object store, or SFTP target).
type RepositoryWriter interface {
	// Create opens relPath for writing, creating any missing parent
	// directories. Any existing content at relPath is replaced only once
	// the returned writer is closed successfully.
	Create(relPath string) (io.WriteCloser, error)
	// Stat reports what, if anything, already exists at relPath.
	Stat(relPath string) (RepositoryExistingFile, error)
}
