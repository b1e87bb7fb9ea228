// Package channel defines the run definition of a supervised process and
// resolves its working directory and environment.
package channel

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/subosito/gotenv"
)

var (
	// ErrMissingID is returned for a channel without an identifier.
	ErrMissingID = errors.New("channel id is required")
	// ErrMissingExecutable is returned for a channel without an executable.
	ErrMissingExecutable = errors.New("channel executable is required")
)

// Rewrite is an output rewrite rule: the first match of Search in each line
// is replaced with Replace.
type Rewrite struct {
	Search  string `json:"search"`
	Replace string `json:"replace"`
}

// Channel is a run definition.
type Channel struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Color      string            `json:"color,omitempty"`
	Executable string            `json:"executable"`
	Arguments  []string          `json:"arguments,omitempty"`
	WorkingDir string            `json:"workingDir,omitempty"`
	EnvFile    string            `json:"envFile,omitempty"`
	EnvVars    map[string]string `json:"envVars,omitempty"`
	Rewrite    *Rewrite          `json:"rewrite,omitempty"`
	WaitOn     []string          `json:"waitOn,omitempty"`
	// WaitTimeoutMS bounds the readiness wait in milliseconds. Zero waits
	// forever.
	WaitTimeoutMS int64  `json:"waitTimeout,omitempty"`
	KillSignal    string `json:"killSignal,omitempty"`
	Active        bool   `json:"active"`
}

// Validate checks the fields the engine depends on.
func (c *Channel) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(c.Executable) == "" {
		return fmt.Errorf("channel %s: %w", c.ID, ErrMissingExecutable)
	}
	return nil
}

// DisplayName returns Name, falling back to ID.
func (c *Channel) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// WaitTimeout returns the readiness timeout as a duration.
func (c *Channel) WaitTimeout() time.Duration {
	if c.WaitTimeoutMS <= 0 {
		return 0
	}
	return time.Duration(c.WaitTimeoutMS) * time.Millisecond
}

// RewriteRule returns the search and replace strings, empty when unset.
func (c *Channel) RewriteRule() (search, replace string) {
	if c.Rewrite == nil {
		return "", ""
	}
	return c.Rewrite.Search, c.Rewrite.Replace
}

// ResolvePath resolves p against the directory containing projectFile.
// Absolute paths are returned unchanged; with no project file, p is
// returned as given.
func ResolvePath(projectFile, p string) string {
	if filepath.IsAbs(p) || projectFile == "" {
		return p
	}
	return filepath.Join(filepath.Dir(projectFile), p)
}

// ResolveWorkingDir returns the directory the process runs in. An unset
// working directory means ".".
func (c *Channel) ResolveWorkingDir(projectFile string) string {
	dir := c.WorkingDir
	if dir == "" {
		dir = "."
	}
	return ResolvePath(projectFile, dir)
}

// Environment loads the env file (if any) and overlays EnvVars on top.
func (c *Channel) Environment(projectFile string) (map[string]string, error) {
	env := make(map[string]string)

	if c.EnvFile != "" {
		path := ResolvePath(projectFile, c.EnvFile)
		loaded, err := gotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", path, err)
		}
		for k, v := range loaded {
			env[k] = v
		}
	}

	for k, v := range c.EnvVars {
		env[k] = v
	}
	return env, nil
}

// MergeEnviron overlays values onto a KEY=VALUE environment list. Keys from
// overlay replace existing entries; new keys are appended in sorted order.
func MergeEnviron(base []string, overlay map[string]string) []string {
	out := make([]string, 0, len(base)+len(overlay))
	seen := make(map[string]bool, len(overlay))

	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if v, ok := overlay[key]; ok {
			if !seen[key] {
				out = append(out, key+"="+v)
				seen[key] = true
			}
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overlay[k])
	}
	return out
}
