package channel

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChannelJSON(t *testing.T) {
	raw := `{
		"id": "web",
		"name": "Web",
		"color": "#ff0000",
		"executable": "npm",
		"arguments": ["run", "dev"],
		"workingDir": "frontend",
		"envFile": ".env",
		"envVars": {"PORT": "3000"},
		"rewrite": {"search": "^\\[vite\\] ", "replace": ""},
		"waitOn": ["tcp:5432"],
		"waitTimeout": 5000,
		"killSignal": "SIGINT",
		"active": true
	}`

	var c Channel
	require.NoError(t, json.Unmarshal([]byte(raw), &c))

	require.Equal(t, "web", c.ID)
	require.Equal(t, []string{"run", "dev"}, c.Arguments)
	require.Equal(t, "3000", c.EnvVars["PORT"])
	require.Equal(t, 5*time.Second, c.WaitTimeout())
	require.True(t, c.Active)

	search, replace := c.RewriteRule()
	require.Equal(t, `^\[vite\] `, search)
	require.Equal(t, "", replace)
}

func TestChannelValidate(t *testing.T) {
	require.ErrorIs(t, (&Channel{Executable: "x"}).Validate(), ErrMissingID)
	require.ErrorIs(t, (&Channel{ID: "a"}).Validate(), ErrMissingExecutable)
	require.NoError(t, (&Channel{ID: "a", Executable: "x"}).Validate())
}

func TestDisplayName(t *testing.T) {
	require.Equal(t, "Web", (&Channel{ID: "web", Name: "Web"}).DisplayName())
	require.Equal(t, "web", (&Channel{ID: "web"}).DisplayName())
}

func TestResolveWorkingDir(t *testing.T) {
	project := filepath.Join("/home", "dev", "proj", "devconsole.json")
	abs := filepath.Join(string(filepath.Separator), "srv", "api")

	tests := []struct {
		name    string
		dir     string
		project string
		want    string
	}{
		{"unset", "", project, filepath.Join("/home", "dev", "proj")},
		{"relative", "api", project, filepath.Join("/home", "dev", "proj", "api")},
		{"absolute", abs, project, abs},
		{"no project file", "api", "", "api"},
		{"unset without project", "", "", "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Channel{WorkingDir: tt.dir}
			if got := c.ResolveWorkingDir(tt.project); got != tt.want {
				t.Errorf("ResolveWorkingDir() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnvironment(t *testing.T) {
	dir := t.TempDir()
	project := filepath.Join(dir, "devconsole.json")
	envFile := "# comment\nPORT=8080\nexport NAME=\"dev server\"\nDEBUG=1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(envFile), 0o644))

	c := Channel{
		EnvFile: ".env",
		EnvVars: map[string]string{"PORT": "9090", "EXTRA": "yes"},
	}

	env, err := c.Environment(project)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"PORT":  "9090",
		"NAME":  "dev server",
		"DEBUG": "1",
		"EXTRA": "yes",
	}, env)
}

func TestEnvironmentMissingFile(t *testing.T) {
	c := Channel{EnvFile: "nope.env"}
	_, err := c.Environment(filepath.Join(t.TempDir(), "p.json"))
	require.Error(t, err)
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestMergeEnviron(t *testing.T) {
	base := []string{"PATH=/bin", "HOME=/root", "PORT=1"}
	got := MergeEnviron(base, map[string]string{"PORT": "2", "B": "b", "A": "a"})
	require.Equal(t, []string{"PATH=/bin", "HOME=/root", "PORT=2", "A=a", "B=b"}, got)
}
