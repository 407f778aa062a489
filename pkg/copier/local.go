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
	"os"
	"path/filepath"
)

// LocalSourceFilesystem reads cluster files directly off a local POSIX
// filesystem, rooted at baseDir. This is the default used when the
// controller and its workers run on the database host itself.
type LocalSourceFilesystem struct {
	BaseDir string
}

// Open implements SourceFilesystem.
func (l LocalSourceFilesystem) Open(name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(l.BaseDir, name)) //nolint:gosec
	if err != nil {
		return nil, err
	}
	return f, nil
}

// LocalRepositoryWriter writes backup artifacts directly to a local POSIX
// directory, rooted at baseDir. This is the thin default driver this
// repository ships so the engine is runnable end-to-end without an object
// store; production deployments are expected to supply their own
// RepositoryWriter (S3, GCS, SFTP, ...).
type LocalRepositoryWriter struct {
	BaseDir string
}

// Create implements RepositoryWriter.
func (l LocalRepositoryWriter) Create(relPath string) (io.WriteCloser, error) {
	full := filepath.Join(l.BaseDir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return nil, err
	}
	f, err := os.Create(full) //nolint:gosec
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Stat implements RepositoryWriter.
func (l LocalRepositoryWriter) Stat(relPath string) (RepositoryExistingFile, error) {
	full := filepath.Join(l.BaseDir, relPath)
	f, err := os.Open(full) //nolint:gosec
	if errors.Is(err, fs.ErrNotExist) {
		return RepositoryExistingFile{}, nil
	}
	if err != nil {
		return RepositoryExistingFile{}, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return RepositoryExistingFile{}, err
	}

	hasher := sha1.New() //nolint:gosec
	if _, err := io.Copy(hasher, f); err != nil {
		return RepositoryExistingFile{}, err
	}

	return RepositoryExistingFile{
		Exists:   true,
		Size:     info.Size(),
		Checksum: fmt.Sprintf("%x", hasher.Sum(nil)),
	}, nil
}
