package project

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const plainProject = `{
	"version": 1,
	"channels": [
		{"id": "db", "name": "Database", "executable": "postgres", "active": true},
		{"id": "web", "name": "Web", "executable": "npm", "arguments": ["start"], "waitOn": ["tcp:5432"]}
	]
}`

const legacyProject = `{
	"channels": {
		"ids": ["b", "a"],
		"entities": {
			"a": {"id": "a", "name": "A", "executable": "echo", "active": true},
			"b": {"name": "B", "executable": "echo"}
		}
	}
}`

func TestParsePlain(t *testing.T) {
	p, err := Parse([]byte(plainProject))
	require.NoError(t, err)

	require.Equal(t, 1, p.Version)
	require.Equal(t, []string{"db", "web"}, p.IDs())

	web, ok := p.Channel("web")
	require.True(t, ok)
	require.Equal(t, []string{"start"}, web.Arguments)
	require.Equal(t, []string{"tcp:5432"}, web.WaitOn)

	active := p.Active()
	require.Len(t, active, 1)
	require.Equal(t, "db", active[0].ID)

	_, ok = p.Channel("missing")
	require.False(t, ok)
}

// TestParseLegacyEnvelope verifies the entity-store shape is flattened in
// ids order and entities without an id take their key.
func TestParseLegacyEnvelope(t *testing.T) {
	p, err := Parse([]byte(legacyProject))
	require.NoError(t, err)

	require.Equal(t, 0, p.Version)
	require.Equal(t, []string{"b", "a"}, p.IDs())
	require.Equal(t, "B", p.Channels[0].Name)
}

func TestParseLegacyWithoutIDs(t *testing.T) {
	doc := `{"channels": {"entities": {
		"z": {"id": "z", "executable": "echo"},
		"y": {"id": "y", "executable": "echo"}
	}}}`

	p, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, []string{"z", "y"}, p.IDs())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"invalid json", `{"channels": [`},
		{"no channels", `{"version": 1}`},
		{"duplicate id", `{"channels": [{"id": "a", "executable": "x"}, {"id": "a", "executable": "y"}]}`},
		{"missing executable", `{"channels": [{"id": "a"}]}`},
		{"missing id", `{"channels": [{"executable": "x"}]}`},
		{"unknown legacy id", `{"channels": {"ids": ["q"], "entities": {}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
		})
	}
}

func TestParseDuplicateSentinel(t *testing.T) {
	_, err := Parse([]byte(`{"channels": [{"id": "a", "executable": "x"}, {"id": "a", "executable": "y"}]}`))
	require.ErrorIs(t, err, ErrDuplicateID)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devconsole.json")
	require.NoError(t, os.WriteFile(path, []byte(plainProject), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, p.Path)
	require.Len(t, p.Channels, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devconsole.json")
	require.NoError(t, os.WriteFile(path, []byte(plainProject), 0o644))

	reloads := make(chan *Project, 4)
	w, err := NewWatcher(path, func(p *Project, err error) {
		if err == nil {
			reloads <- p
		}
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)

	w.Start(context.Background())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(legacyProject), 0o644))

	select {
	case p := <-reloads:
		require.Equal(t, []string{"b", "a"}, p.IDs())
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}
}
