//go:build windows

package socket

import (
	"os"
	"path/filepath"
)

// DefaultSocketPath returns <temp>\<name>.sock. Windows 10 and later
// support AF_UNIX sockets.
func DefaultSocketPath(name string) string {
	return filepath.Join(os.TempDir(), name+".sock")
}
