//go:build !windows

package socket

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultSocketPath returns $XDG_RUNTIME_DIR/<name>.sock, or a per-user
// path under /tmp.
func DefaultSocketPath(name string) string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, name+".sock")
	}
	return fmt.Sprintf("/tmp/%s-%d.sock", name, os.Getuid())
}
