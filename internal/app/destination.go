package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// resolveDestination picks where the received data will land. Only the
// base name of the offered path is used, so a sender cannot steer us into
// ".ssh/authorized_keys" or similar. An existing destination refuses the
// transfer outright.
func (r *Receiver) resolveDestination(ctx context.Context, kind, offered string) (string, error) {
	name := filepath.Base(offered)
	if r.cfg.OutputFile != "" {
		name = r.cfg.OutputFile
	}
	dest, err := filepath.Abs(filepath.Join(r.cfg.Dir, name))
	if err != nil {
		return "", fmt.Errorf("resolve destination: %w", err)
	}

	if _, err := os.Lstat(dest); err == nil {
		fmt.Fprintf(r.stdout, "Error: refusing to overwrite existing %s %s\n", kind, name)
		return "", r.respondError(ctx, fmt.Sprintf("%s already exists", kind))
	}
	return dest, nil
}
