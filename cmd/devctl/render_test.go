package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/scomans/dev-console-sub000/channel"
	"github.com/scomans/dev-console-sub000/coordinator"
	"github.com/scomans/dev-console-sub000/output"
	"github.com/scomans/dev-console-sub000/process"
)

func testChannels() channels {
	return indexChannels([]channel.Channel{
		{ID: "api", Name: "API Server", Color: "#ff8800"},
		{ID: "db"},
	})
}

func TestChannelName(t *testing.T) {
	cs := testChannels()
	tests := []struct {
		id, want string
	}{
		{"api", "API Server"},
		{"db", "db"},
		{"unknown", "unknown"},
	}
	for _, tt := range tests {
		if got := cs.name(tt.id); !strings.Contains(got, tt.want) {
			t.Errorf("name(%q) = %q, want it to contain %q", tt.id, got, tt.want)
		}
	}
}

func TestRenderStatus(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	recs := []process.RecordInfo{
		{ChannelID: "api", Status: process.Running, PID: 4242, StartedAt: now.Add(-3 * time.Minute)},
		{ChannelID: "db", Status: process.Stopped, ExitCode: 1},
		{ChannelID: "web", Status: process.Stopped, ExitCode: -1},
	}

	var buf bytes.Buffer
	renderStatus(&buf, testChannels(), recs, now)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), buf.String())
	}
	for _, want := range []string{"CHANNEL", "STATUS", "PID", "STARTED", "EXIT"} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("header %q missing %q", lines[0], want)
		}
	}
	if !strings.Contains(lines[1], "running") || !strings.Contains(lines[1], "4242") || !strings.Contains(lines[1], "3 minutes ago") {
		t.Errorf("running row = %q", lines[1])
	}
	if !strings.Contains(lines[2], "stopped") || !strings.HasSuffix(lines[2], "1") {
		t.Errorf("stopped row = %q", lines[2])
	}
	if !strings.HasSuffix(lines[3], "-") {
		t.Errorf("never-run row = %q, want no exit code", lines[3])
	}
}

func TestFormatLine(t *testing.T) {
	l := output.LogLine{
		ChannelID: "api",
		Message:   output.Sanitize("listening on http://localhost:8080 & ready"),
		Kind:      output.KindData,
		Time:      time.Date(2026, 1, 2, 15, 4, 5, 0, time.Local),
	}

	got := formatLine(testChannels(), l, false)
	if !strings.Contains(got, "[API Server]") || !strings.HasSuffix(got, "listening on http://localhost:8080 & ready") {
		t.Errorf("formatLine = %q", got)
	}

	got = formatLine(testChannels(), l, true)
	if !strings.HasPrefix(got, "15:04:05.000 ") {
		t.Errorf("formatLine with timestamps = %q", got)
	}
}

func TestRenderResults(t *testing.T) {
	var buf bytes.Buffer
	renderResults(&buf, testChannels(), []coordinator.Result{
		{ChannelID: "api", OK: true},
		{ChannelID: "db", Skipped: true},
		{ChannelID: "web", Error: "boom"},
	})

	out := buf.String()
	for _, want := range []string{"API Server ok", "db skipped", "web failed: boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
