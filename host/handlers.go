package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/scomans/dev-console-sub000/coordinator"
	"github.com/scomans/dev-console-sub000/output"
	"github.com/scomans/dev-console-sub000/process"
	"github.com/scomans/dev-console-sub000/project"
	"github.com/scomans/dev-console-sub000/protocol"
)

func writeError(conn *Connection, err error) error {
	return conn.WriteErr(protocol.CodeOf(err), err.Error())
}

func requireID(conn *Connection, cmd *protocol.Command) (string, bool) {
	id := cmd.Arg(0)
	if id == "" {
		_ = conn.WriteErr(protocol.ErrMissingParam, fmt.Sprintf("%s %s requires a channel id", cmd.Verb, cmd.SubVerb))
		return "", false
	}
	return id, true
}

func writeRunResult(conn *Connection, id string, ok bool, err error) error {
	if err != nil {
		return writeError(conn, err)
	}
	return conn.WriteValue(protocol.RunResult{ID: id, OK: ok})
}

// EXECUTE

// handleExecuteRun starts a project channel by ID, or the channel carried
// in a RunRequest payload. It answers once the channel is running or the
// run ended.
func (h *Host) handleExecuteRun(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
	if len(cmd.Data) > 0 {
		var req protocol.RunRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return conn.WriteErr(protocol.ErrInvalidArgs, "invalid run request: "+err.Error())
		}
		ok, err := h.coord.RunChannel(ctx, req.Channel, req.ProjectFile)
		return writeRunResult(conn, req.Channel.ID, ok, err)
	}

	id, valid := requireID(conn, cmd)
	if !valid {
		return nil
	}
	ok, err := h.coord.Run(ctx, id)
	return writeRunResult(conn, id, ok, err)
}

func (h *Host) handleExecuteKill(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
	id, valid := requireID(conn, cmd)
	if !valid {
		return nil
	}
	if err := h.coord.Kill(ctx, id); err != nil {
		return writeError(conn, err)
	}
	return conn.WriteOK("killed " + id)
}

func (h *Host) handleExecuteRestart(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
	id, valid := requireID(conn, cmd)
	if !valid {
		return nil
	}
	ok, err := h.coord.Restart(ctx, id)
	return writeRunResult(conn, id, ok, err)
}

// handleExecuteStatus answers with one record, or with the records of the
// whole project when no ID is given.
func (h *Host) handleExecuteStatus(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
	if id := cmd.Arg(0); id != "" {
		rec, _ := h.coord.Supervisor().Record(id)
		return conn.WriteValue(rec)
	}
	return conn.WriteValue(h.coord.Statuses())
}

// handleExecuteWatch streams status events, starting with the current
// state of every channel (or of the given one).
func (h *Host) handleExecuteWatch(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
	sup := h.coord.Supervisor()

	var (
		events <-chan process.StatusEvent
		cancel func()
	)
	id := cmd.Arg(0)
	if id != "" {
		events, cancel = sup.SelectStatus(id)
	} else {
		events, cancel = sup.SubscribeStatus()
	}
	defer cancel()

	var current []process.RecordInfo
	if id != "" {
		rec, _ := sup.Record(id)
		current = []process.RecordInfo{rec}
	} else {
		current = h.coord.Statuses()
	}
	for _, rec := range current {
		data, _ := json.Marshal(process.StatusEvent{
			ChannelID: rec.ChannelID,
			Status:    rec.Status,
			PID:       rec.PID,
			RunID:     rec.RunID,
			Time:      rec.StartedAt,
		})
		if err := conn.WriteChunk(data); err != nil {
			return err
		}
	}

	return stream(ctx, conn, events, nil)
}

// LOG

func (h *Host) handleLogGet(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
	id, valid := requireID(conn, cmd)
	if !valid {
		return nil
	}
	return conn.WriteValue(nonNil(h.out.Lines(id)))
}

func (h *Host) handleLogGetAll(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
	return conn.WriteValue(nonNil(h.out.AllLines()))
}

// handleLogStream pushes new line batches, optionally only those of one
// channel.
func (h *Host) handleLogStream(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
	batches, cancel := h.out.SubscribeLines()
	defer cancel()

	var filter func(output.Batch) (output.Batch, bool)
	if id := cmd.Arg(0); id != "" {
		filter = func(b output.Batch) (output.Batch, bool) {
			var kept output.Batch
			for _, line := range b {
				if line.ChannelID == id {
					kept = append(kept, line)
				}
			}
			return kept, len(kept) > 0
		}
	}
	return stream(ctx, conn, batches, filter)
}

func (h *Host) handleLogClear(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
	id, valid := requireID(conn, cmd)
	if !valid {
		return nil
	}
	h.out.Clear(id)
	return conn.WriteOK("cleared " + id)
}

// GROUP

func writeGroupResult(conn *Connection, results []coordinator.Result, err error) error {
	if results == nil && err != nil {
		return writeError(conn, err)
	}
	res := protocol.GroupResult{Results: results}
	if res.Results == nil {
		res.Results = []coordinator.Result{}
	}
	if err != nil {
		res.Error = err.Error()
	}
	return conn.WriteValue(res)
}

func (h *Host) handleGroupRunAll(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
	results, err := h.coord.RunAll(ctx)
	return writeGroupResult(conn, results, err)
}

func (h *Host) handleGroupStopAll(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
	results, err := h.coord.StopAll(ctx)
	return writeGroupResult(conn, results, err)
}

func (h *Host) handleGroupRestartAll(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
	results, err := h.coord.RestartAll(ctx)
	return writeGroupResult(conn, results, err)
}

func (h *Host) handleGroupRestart(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
	id, valid := requireID(conn, cmd)
	if !valid {
		return nil
	}
	ok, err := h.coord.Restart(ctx, id)
	if errors.Is(err, coordinator.ErrUnknownChannel) || errors.Is(err, coordinator.ErrNoProject) {
		return writeError(conn, err)
	}
	res := coordinator.Result{ChannelID: id, OK: ok}
	if err != nil {
		res.Error = err.Error()
	}
	return writeGroupResult(conn, []coordinator.Result{res}, err)
}

// PROJECT

func projectInfo(p *project.Project) protocol.ProjectInfo {
	return protocol.ProjectInfo{Path: p.Path, Version: p.Version, Channels: p.Channels}
}

func (h *Host) handleProjectGet(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
	p := h.coord.Project()
	if p == nil {
		return writeError(conn, coordinator.ErrNoProject)
	}
	return conn.WriteValue(projectInfo(p))
}

func (h *Host) handleProjectReload(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
	p := h.coord.Project()
	if p == nil {
		return writeError(conn, coordinator.ErrNoProject)
	}
	return h.openProject(conn, p.Path)
}

// handleProjectOpen loads another project file. The path comes from an
// OpenRequest payload or the first argument.
func (h *Host) handleProjectOpen(ctx context.Context, conn *Connection, cmd *protocol.Command) error {
	path := strings.Join(cmd.Args, " ")
	if len(cmd.Data) > 0 {
		var req protocol.OpenRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return conn.WriteErr(protocol.ErrInvalidArgs, "invalid open request: "+err.Error())
		}
		path = req.Path
	}
	if path == "" {
		return conn.WriteErr(protocol.ErrMissingParam, "PROJECT OPEN requires a path")
	}
	return h.openProject(conn, path)
}

// openProject replaces the coordinator's project. A file that fails to
// load leaves the current project in place.
func (h *Host) openProject(conn *Connection, path string) error {
	p, err := h.config.LoadProject(path)
	if err != nil {
		h.logger.Warn("project load failed", "path", path, "error", err)
		return conn.WriteErr(protocol.ErrInvalidArgs, err.Error())
	}

	h.coord.SetProject(p)
	if h.config.OnProject != nil {
		h.config.OnProject(p)
	}
	return conn.WriteValue(projectInfo(p))
}

func nonNil(lines []output.LogLine) []output.LogLine {
	if lines == nil {
		return []output.LogLine{}
	}
	return lines
}
