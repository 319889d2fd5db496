package app

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractArchive(t *testing.T) {
	dir := t.TempDir()
	archive := buildZip(t, map[string]string{
		"readme.txt":     "top",
		"docs/notes.txt": "nested",
	})
	dest := filepath.Join(dir, "received")

	err := extractArchive(bytes.NewReader(archive), int64(len(archive)), dest)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dest, "readme.txt"))
	require.NoError(t, err)
	require.Equal(t, "top", string(got))
	got, err = os.ReadFile(filepath.Join(dest, "docs", "notes.txt"))
	require.NoError(t, err)
	require.Equal(t, "nested", string(got))

	// Staging directory is gone once the rename lands.
	_, err = os.Lstat(dest + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestExtractArchiveConfinesEntryNames(t *testing.T) {
	dir := t.TempDir()
	archive := buildZip(t, map[string]string{
		"../escape.txt":       "outside",
		"/abs/rooted.txt":     "rooted",
		"okay/../../deep.txt": "deep",
	})
	dest := filepath.Join(dir, "received")

	err := extractArchive(bytes.NewReader(archive), int64(len(archive)), dest)
	require.NoError(t, err)

	// Everything lands under dest no matter what the entry claims.
	for _, name := range []string{"escape.txt", filepath.Join("abs", "rooted.txt"), "deep.txt"} {
		_, err := os.Lstat(filepath.Join(dest, name))
		require.NoError(t, err, name)
	}
	_, err = os.Lstat(filepath.Join(dir, "escape.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestExtractArchiveRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	junk := []byte("this is not a zip archive at all")

	err := extractArchive(bytes.NewReader(junk), int64(len(junk)), filepath.Join(dir, "received"))
	require.ErrorContains(t, err, "open received archive")
}
