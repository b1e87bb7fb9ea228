package process

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{Stopped, "stopped"},
		{Waiting, "waiting"},
		{Running, "running"},
		{Status(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []Status{Stopped, Waiting, Running} {
		got, err := ParseStatus(s.String())
		if err != nil || got != s {
			t.Errorf("ParseStatus(%q) = %v, %v, want %v", s.String(), got, err, s)
		}
	}
	if _, err := ParseStatus("paused"); err == nil {
		t.Error("ParseStatus(paused) should fail")
	}
}

func TestStatusEventJSON(t *testing.T) {
	e := StatusEvent{ChannelID: "api", Status: Running, PID: 42, Time: time.Unix(0, 0).UTC()}

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["id"] != "api" || m["status"] != "running" {
		t.Errorf("encoded event = %s, want id api and status running", data)
	}
}

func TestRecordInfoUptime(t *testing.T) {
	r := RecordInfo{Status: Running, StartedAt: time.Now().Add(-time.Minute)}
	if up := r.Uptime(); up < time.Minute {
		t.Errorf("Uptime() = %v, want >= 1m", up)
	}

	r.Status = Stopped
	if up := r.Uptime(); up != 0 {
		t.Errorf("Uptime() of stopped record = %v, want 0", up)
	}
}
