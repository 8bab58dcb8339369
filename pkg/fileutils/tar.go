// Package fileutils provides the tar archive helpers used for moving single
// files in and out of sandbox containers.
package fileutils

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrFileTooLarge is returned when an archived file exceeds the caller's
// size limit.
var ErrFileTooLarge = errors.New("file too large")

// ErrEmptyArchive is returned when an archive contains no regular file.
var ErrEmptyArchive = errors.New("archive contains no regular file")

// PackSingleFile builds an in-memory tar archive containing one regular file
// with the given name and contents.
func PackSingleFile(name string, data []byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize tar archive: %w", err)
	}
	return &buf, nil
}

// ExtractSingleFile reads the first regular file from a tar archive stream
// and returns its contents. It returns ErrFileTooLarge if the file's declared
// size exceeds maxSize, without reading the body.
func ExtractSingleFile(r io.Reader, maxSize int64) ([]byte, error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyArchive
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		if hdr.Size > maxSize {
			return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, hdr.Size, maxSize)
		}

		// LimitReader guards against archives whose body is longer than
		// the declared header size.
		data, err := io.ReadAll(io.LimitReader(tr, maxSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read file from archive: %w", err)
		}
		if int64(len(data)) > maxSize {
			return nil, fmt.Errorf("%w: content exceeds limit of %d", ErrFileTooLarge, maxSize)
		}
		return data, nil
	}
}
