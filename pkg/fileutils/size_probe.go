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

package fileutils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// createFileBlockSize is the chunk size used to pre-allocate a probe file
// when testing for free space in a directory.
const createFileBlockSize = 1024 * 1024

// Directory represents a filesystem directory that can be probed for free
// space for a file of a known size.
type Directory struct {
	path           string
	createFileFunc func(ctx context.Context, path string, size int) error
}

// NewDirectory wraps dir for space probing.
func NewDirectory(dir string) *Directory {
	return &Directory{
		path:           dir,
		createFileFunc: createFileWithSize,
	}
}

// HasSpaceInDirectory reports whether a file of the given size (in bytes)
// could be created inside the directory, by actually attempting to create
// one and removing it immediately afterward. Running out of space is
// reported as (false, nil); any other failure is returned as an error.
func (d *Directory) HasSpaceInDirectory(ctx context.Context, size int) (bool, error) {
	probePath := filepath.Join(d.path, fmt.Sprintf(".space-probe-%d", time.Now().UnixNano()))

	err := d.createFileFunc(ctx, probePath, size)
	defer func() { _ = os.Remove(probePath) }()

	if err == nil {
		return true, nil
	}

	if IsNoSpaceLeftOnDevice(err) {
		return false, nil
	}

	return false, err
}

// createFileWithSize creates a new file at path containing exactly size
// zero bytes, written in createFileBlockSize chunks so probing a large
// size doesn't require holding it all in memory at once.
func createFileWithSize(ctx context.Context, path string, size int) error {
	f, err := os.Create(path) //nolint:gosec
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	block := make([]byte, createFileBlockSize)
	remaining := size
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk := block
		if remaining < len(chunk) {
			chunk = chunk[:remaining]
		}

		n, err := f.Write(chunk)
		if err != nil {
			return err
		}
		remaining -= n
	}

	return nil
}

// IsNoSpaceLeftOnDevice tells whether err is, or wraps, an ENOSPC error.
func IsNoSpaceLeftOnDevice(err error) bool {
	if err == nil {
		return false
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr.Err, syscall.ENOSPC)
	}

	return errors.Is(err, syscall.ENOSPC)
}
