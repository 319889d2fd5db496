package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveDestinationStripsOfferedPath(t *testing.T) {
	dir := t.TempDir()
	ch := &fakeChannel{}
	r, _ := newTestReceiver(t, Config{Dir: dir}, ch, nil)

	tests := []struct {
		name    string
		offered string
		want    string
	}{
		{"plain", "photo.jpg", "photo.jpg"},
		{"traversal", "../../evil.txt", "evil.txt"},
		{"absolute", "/etc/passwd", "passwd"},
		{"nested", "holiday/photo.jpg", "photo.jpg"},
		{"dotfile path", "../.ssh/authorized_keys", "authorized_keys"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dest, err := r.resolveDestination(context.Background(), "file", tc.offered)
			require.NoError(t, err)
			require.Equal(t, filepath.Join(dir, tc.want), dest)
		})
	}
}

func TestResolveDestinationOutputOverride(t *testing.T) {
	dir := t.TempDir()
	ch := &fakeChannel{}
	r, _ := newTestReceiver(t, Config{Dir: dir, OutputFile: "chosen.bin"}, ch, nil)

	dest, err := r.resolveDestination(context.Background(), "file", "offered.bin")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "chosen.bin"), dest)
}
