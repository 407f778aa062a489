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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec
	"fmt"
	"hash"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/crypto/pbkdf2"

	"github.com/cloudnative-pg/pg-backup-core/pkg/postgres"
)

// CompressType identifies which compression filter, if any, wraps the
// pipeline's output.
type CompressType string

// Supported compression filters. None is the zero value and default.
const (
	CompressNone CompressType = ""
	CompressZstd CompressType = "zstd"
	CompressLZ4  CompressType = "lz4"
)

// Extension returns the file name suffix this compression type appends to
// a repository artifact, "" for CompressNone.
func (c CompressType) Extension() string {
	switch c {
	case CompressZstd:
		return ".zst"
	case CompressLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// countingReader wraps an io.Reader, tracking how many bytes were read
// through it and computing a running SHA-1.
type countingReader struct {
	inner io.Reader
	hash  hash.Hash
	count int64
}

func newCountingReader(inner io.Reader) *countingReader {
	return &countingReader{inner: inner, hash: sha1.New()} //nolint:gosec
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 {
		r.count += int64(n)
		r.hash.Write(p[:n])
	}
	return n, err
}

func (r *countingReader) Checksum() string {
	return fmt.Sprintf("%x", r.hash.Sum(nil))
}

// pageChecksumReader wraps an io.Reader over a relation file, verifying
// each complete PageSize-sized block as it streams past and accumulating
// the bad-page list without buffering the whole file.
type pageChecksumReader struct {
	inner       io.Reader
	baseBlock   uint32
	buf         []byte
	bufFill     int
	blockIndex  uint32
	misaligned  bool
	totalRead   int64
	badPages    []int
}

func newPageChecksumReader(inner io.Reader, baseBlock uint32) *pageChecksumReader {
	return &pageChecksumReader{
		inner:     inner,
		baseBlock: baseBlock,
		buf:       make([]byte, postgres.PageSize),
	}
}

func (r *pageChecksumReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 {
		r.totalRead += int64(n)
		r.consume(p[:n])
	}
	return n, err
}

func (r *pageChecksumReader) consume(data []byte) {
	for len(data) > 0 {
		copied := copy(r.buf[r.bufFill:], data)
		r.bufFill += copied
		data = data[copied:]

		if r.bufFill == postgres.PageSize {
			result := postgres.VerifyPageChecksum(r.buf, r.baseBlock+r.blockIndex)
			if !result.Valid {
				r.badPages = append(r.badPages, int(r.baseBlock+r.blockIndex))
			}
			r.blockIndex++
			r.bufFill = 0
		}
	}
}

// Result finalizes page-checksum verification: a trailing partial page
// means the file size wasn't a multiple of PageSize, which is reported as
// misaligned rather than as a checksum failure.
func (r *pageChecksumReader) Result() *struct {
	Valid      bool
	Misaligned bool
	BadPages   []int
} {
	if r.bufFill != 0 {
		r.misaligned = true
	}
	return &struct {
		Valid      bool
		Misaligned bool
		BadPages   []int
	}{
		Valid:      !r.misaligned && len(r.badPages) == 0,
		Misaligned: r.misaligned,
		BadPages:   r.badPages,
	}
}

// newCompressWriter wraps w so that bytes written through the returned
// writer are compressed with the given algorithm before reaching w. The
// returned closer must be closed to flush trailing compressed data.
func newCompressWriter(w io.Writer, compressType CompressType, level int) (io.WriteCloser, error) {
	switch compressType {
	case CompressNone:
		return nopWriteCloser{w}, nil
	case CompressZstd:
		opts := []zstd.EOption{zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level))}
		return zstd.NewWriter(w, opts...)
	case CompressLZ4:
		lzw := lz4.NewWriter(w)
		if err := lzw.Apply(lz4.CompressionLevelOption(lz4.CompressionLevel(level))); err != nil {
			return nil, err
		}
		return lzw, nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %q", compressType)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// EncryptionOptions configures the AES-256-GCM encryption filter.
type EncryptionOptions struct {
	CipherType string
	Passphrase string
}

const (
	encryptionSaltSize  = 16
	encryptionNonceSize = 12
	pbkdf2Iterations    = 100_000
	pbkdf2KeyLength     = 32
)

// newEncryptWriter wraps w so that bytes written through the returned
// writer are AES-256-GCM encrypted before reaching w. A random salt and a
// random base nonce are written as a small cleartext header so Open-side
// decryption can rederive the key and the nonces; each write is sealed as its own GCM chunk with a monotonic
// nonce counter, avoiding having to buffer the whole file to produce one
// authentication tag.
func newEncryptWriter(w io.Writer, opts EncryptionOptions) (io.WriteCloser, error) {
	if opts.CipherType == "" {
		return nopWriteCloser{w}, nil
	}
	if opts.CipherType != "aes-256-gcm" {
		return nil, fmt.Errorf("unsupported cipher type: %q", opts.CipherType)
	}

	salt := make([]byte, encryptionSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if _, err := w.Write(salt); err != nil {
		return nil, err
	}

	key := pbkdf2.Key([]byte(opts.Passphrase), salt, pbkdf2Iterations, pbkdf2KeyLength, sha1.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	baseNonce := make([]byte, encryptionNonceSize)
	if _, err := rand.Read(baseNonce); err != nil {
		return nil, err
	}
	if _, err := w.Write(baseNonce); err != nil {
		return nil, err
	}

	return &gcmChunkWriter{w: w, gcm: gcm, baseNonce: baseNonce}, nil
}

// gcmChunkWriter seals each Write call as an independent GCM-authenticated
// chunk, length-prefixed so the reader can split them back out.
type gcmChunkWriter struct {
	w         io.Writer
	gcm       cipher.AEAD
	baseNonce []byte
	counter   uint64
}

func (g *gcmChunkWriter) Write(p []byte) (int, error) {
	nonce := make([]byte, len(g.baseNonce))
	copy(nonce, g.baseNonce)
	for i := 0; i < 8 && i < len(nonce); i++ {
		nonce[i] ^= byte(g.counter >> (8 * i))
	}
	g.counter++

	sealed := g.gcm.Seal(nil, nonce, p, nil)

	length := uint32(len(sealed))
	header := []byte{byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length)}
	if _, err := g.w.Write(header); err != nil {
		return 0, err
	}
	if _, err := g.w.Write(sealed); err != nil {
		return 0, err
	}

	return len(p), nil
}

func (g *gcmChunkWriter) Close() error { return nil }
