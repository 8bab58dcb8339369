package fileutils

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackAndExtractRoundTrip(t *testing.T) {
	t.Parallel()

	content := []byte("x <- c(1, 2, 3)\nmean(x)\n")
	archive, err := PackSingleFile("analysis.R", content)
	require.NoError(t, err)

	got, err := ExtractSingleFile(archive, 1024)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestPackSingleFileHeader(t *testing.T) {
	t.Parallel()

	archive, err := PackSingleFile("data.csv", []byte("a,b\n1,2\n"))
	require.NoError(t, err)

	tr := tar.NewReader(archive)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "data.csv", hdr.Name)
	assert.Equal(t, byte(tar.TypeReg), hdr.Typeflag)
	assert.Equal(t, int64(8), hdr.Size)
	assert.False(t, hdr.ModTime.IsZero())
}

func TestExtractSingleFileTooLarge(t *testing.T) {
	t.Parallel()

	archive, err := PackSingleFile("big.bin", bytes.Repeat([]byte{0x41}, 100))
	require.NoError(t, err)

	_, err = ExtractSingleFile(archive, 99)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestExtractSingleFileSkipsDirectories(t *testing.T) {
	t.Parallel()

	// Docker's CopyFromContainer can emit a directory entry ahead of the
	// file when copying a path.
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "dir/",
		Typeflag: tar.TypeDir,
		Mode:     0o755,
	}))
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "dir/file.txt",
		Mode: 0o644,
		Size: 5,
	}))
	_, err := io.WriteString(tw, "hello")
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	got, err := ExtractSingleFile(&buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestExtractSingleFileEmptyArchive(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.Close())

	_, err := ExtractSingleFile(&buf, 1024)
	assert.ErrorIs(t, err, ErrEmptyArchive)
}
