// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package attach

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// MaxUploadBytes is the advisor's per-file upload ceiling.
const MaxUploadBytes = 10 << 20

var (
	// ErrEmptyFile rejects zero-byte files before any bytes move.
	ErrEmptyFile = errors.New("empty file is not allowed")

	// ErrFileTooLarge rejects files over MaxUploadBytes.
	ErrFileTooLarge = errors.New("file exceeds 10 MB limit")

	// ErrUnsupportedType rejects files outside the advisor's MIME
	// allowlist.
	ErrUnsupportedType = errors.New("unsupported file type")
)

// allowedMimeTypes mirrors the advisor's server-side allowlist. Checking
// here means a rejected file never leaves the machine.
var allowedMimeTypes = map[string]struct{}{
	"application/pdf": {},
	"text/markdown":   {},
	"text/plain":      {},
	"image/png":       {},
	"image/jpeg":      {},
	"image/webp":      {},
	"audio/mpeg":      {},
	"audio/mp4":       {},
	"audio/wav":       {},
	"audio/x-wav":     {},
	"audio/webm":      {},
	"audio/ogg":       {},
	"audio/aac":       {},
	"audio/x-m4a":     {},
}

// extensionMimeTypes backstops extension lookup when the platform MIME
// table gives nothing usable. Matches the advisor's own fallback map.
var extensionMimeTypes = map[string]string{
	".pdf":      "application/pdf",
	".txt":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".jpg":      "image/jpeg",
	".jpeg":     "image/jpeg",
	".png":      "image/png",
	".webp":     "image/webp",
	".mp3":      "audio/mpeg",
	".m4a":      "audio/x-m4a",
	".mp4":      "audio/mp4",
	".webm":     "audio/webm",
	".wav":      "audio/wav",
	".ogg":      "audio/ogg",
	".aac":      "audio/aac",
}

// FileCheck is the result of a successful preflight: everything the
// pipeline needs to build a PendingAttachment record.
type FileCheck struct {
	Filename  string
	Path      string
	MimeType  string
	SizeBytes int64
	SHA256    string
}

// Preflight validates a file before any bytes leave the machine.
//
// # Description
//
// Checks the size bound, resolves and checks the MIME type against the
// advisor allowlist, and computes the file's SHA-256 in a single streaming
// pass. The hash is later compared against the server's upload receipt to
// catch corruption in transit.
//
// # Inputs
//
//   - path: File to validate. Relative paths are resolved to absolute.
//
// # Outputs
//
//   - *FileCheck: Validated metadata, nil on error.
//   - error: ErrEmptyFile, ErrFileTooLarge, ErrUnsupportedType, or an
//     I/O failure.
func Preflight(path string) (*FileCheck, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	mimeType, ok := DetectMimeType(absPath)
	if !ok {
		return nil, fmt.Errorf("%s: %w", filepath.Base(absPath), ErrUnsupportedType)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	// Hash and size-check in one pass. The limit reader caps the read at
	// one byte past the ceiling so oversized files are detected without
	// hashing gigabytes.
	hasher := sha256.New()
	size, err := io.Copy(hasher, io.LimitReader(f, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if size == 0 {
		return nil, fmt.Errorf("%s: %w", filepath.Base(absPath), ErrEmptyFile)
	}
	if size > MaxUploadBytes {
		return nil, fmt.Errorf("%s: %w", filepath.Base(absPath), ErrFileTooLarge)
	}

	return &FileCheck{
		Filename:  filepath.Base(absPath),
		Path:      absPath,
		MimeType:  mimeType,
		SizeBytes: size,
		SHA256:    hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// DetectMimeType resolves a filename to an allowed MIME type.
//
// The platform MIME table is consulted first (parameters stripped), then
// the built-in extension map. Returns false when neither yields a type on
// the allowlist.
func DetectMimeType(filename string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(filename))

	if byTable := mime.TypeByExtension(ext); byTable != "" {
		if parsed, _, err := mime.ParseMediaType(byTable); err == nil {
			if _, ok := allowedMimeTypes[parsed]; ok {
				return parsed, true
			}
		}
	}

	if byExt, ok := extensionMimeTypes[ext]; ok {
		if _, allowed := allowedMimeTypes[byExt]; allowed {
			return byExt, true
		}
	}

	return "", false
}

// AllowedMimeType reports whether the advisor accepts the given MIME type.
func AllowedMimeType(mimeType string) bool {
	parsed, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	_, ok := allowedMimeTypes[parsed]
	return ok
}
