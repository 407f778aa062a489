/*
Copyright 2019-2022 The CloudNativePG Contributors

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

// Package fileutils contains small filesystem helpers: existence checks,
// idempotent file writes, single-file copies, directory clean-up and
// non-recursive directory listings.
package fileutils

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
)

// FileExists checks whether a file (or directory) exists at path.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// WriteStringToFile writes content to path, creating any missing parent
// directories. It reports changed=false without touching the file if its
// content is already exactly content, so repeated calls are idempotent and
// don't perturb file mtimes.
func WriteStringToFile(path, content string) (changed bool, err error) {
	existing, err := os.ReadFile(path) //nolint:gosec
	if err == nil && bytes.Equal(existing, []byte(content)) {
		return false, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return false, err
	}

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return false, err
	}

	return true, nil
}

// CopyFile copies the content of source into destination, creating any
// missing parent directories of destination.
func CopyFile(source, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o750); err != nil {
		return err
	}

	src, err := os.Open(source) //nolint:gosec
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(destination) //nolint:gosec
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	_, err = io.Copy(dst, src)
	return err
}

// RemoveDirectoryContent removes every entry inside dir without removing
// dir itself.
func RemoveDirectoryContent(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}

	return nil
}

// RemoveFile removes path, returning no error if it is already absent.
func RemoveFile(path string) error {
	err := os.Remove(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// GetDirectoryContent lists the base names of the entries directly inside
// dir (not recursive).
func GetDirectoryContent(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(entries))
	for _, entry := range entries {
		result = append(result, entry.Name())
	}

	return result, nil
}
