package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/scomans/dev-console-sub000/client"
	"github.com/scomans/dev-console-sub000/output"
	"github.com/scomans/dev-console-sub000/process"
	"github.com/scomans/dev-console-sub000/protocol"
)

// printJSON writes a raw JSON payload indented.
func printJSON(cmd *cobra.Command, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(formatted))
	return nil
}

// request connects and decodes one JSON response into v, or prints it raw
// with --json.
func (a *app) request(cmd *cobra.Command, req func(*client.Conn) *client.RequestBuilder, v any) (printed bool, err error) {
	conn, err := a.connect(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return false, err
	}
	data, err := req(conn).Bytes()
	if err != nil {
		return false, err
	}
	if a.jsonOut {
		return true, printJSON(cmd, data)
	}
	return false, json.Unmarshal(data, v)
}

// channelIndex fetches the project's channel definitions for display.
// Without a project, IDs are shown as they are.
func (a *app) channelIndex(cmd *cobra.Command) channels {
	conn, err := a.connect(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return channels{}
	}
	var info protocol.ProjectInfo
	if err := conn.Request(protocol.VerbProject, "GET").JSONInto(&info); err != nil {
		return channels{}
	}
	return indexChannels(info.Channels)
}

func runResult(cmd *cobra.Command, a *app, verb string, id string) error {
	var res protocol.RunResult
	printed, err := a.request(cmd, func(c *client.Conn) *client.RequestBuilder {
		// Runs block until readiness conditions hold.
		return c.Request(protocol.VerbExecute, verb, id).Timeout(0)
	}, &res)
	if err != nil || printed {
		return err
	}
	cs := a.channelIndex(cmd)
	if res.OK {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cs.name(id), runningStyle.Render("running"))
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cs.name(id), waitingStyle.Render("not started"))
	return nil
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <channel>",
		Short: "Start a channel once its readiness conditions hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResult(cmd, a, "RUN", args[0])
		},
	}
}

func newRestartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <channel>",
		Short: "Stop a channel and start it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResult(cmd, a, "RESTART", args[0])
		},
	}
}

func newKillCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "kill <channel>",
		Aliases: []string{"stop"},
		Short:   "Stop a channel and its process tree",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			msg, err := conn.Request(protocol.VerbExecute, "KILL", args[0]).Timeout(0).OK()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [channel]",
		Short: "Show channel status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var recs []process.RecordInfo
			var printed bool
			var err error
			if len(args) == 1 {
				var rec process.RecordInfo
				printed, err = a.request(cmd, func(c *client.Conn) *client.RequestBuilder {
					return c.Request(protocol.VerbExecute, "STATUS", args[0])
				}, &rec)
				recs = []process.RecordInfo{rec}
			} else {
				printed, err = a.request(cmd, func(c *client.Conn) *client.RequestBuilder {
					return c.Request(protocol.VerbExecute, "STATUS")
				}, &recs)
			}
			if err != nil || printed {
				return err
			}
			renderStatus(cmd.OutOrStdout(), a.channelIndex(cmd), recs, time.Now())
			return nil
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [channel]",
		Short: "Print status transitions as they happen",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cs := a.channelIndex(cmd)
			return conn.Request(protocol.VerbExecute, append([]string{"WATCH"}, args...)...).
				Stream(cmd.Context(), func(chunk []byte) error {
					if a.jsonOut {
						fmt.Fprintln(cmd.OutOrStdout(), string(chunk))
						return nil
					}
					var ev process.StatusEvent
					if err := json.Unmarshal(chunk, &ev); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), formatEvent(cs, ev))
					return nil
				})
		},
	}
}

func newLogsCmd(a *app) *cobra.Command {
	var follow, timestamps bool
	var tail int

	cmd := &cobra.Command{
		Use:   "logs [channel]",
		Short: "Print the log of one channel, or of all channels",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cs := a.channelIndex(cmd)
			emit := func(l output.LogLine) {
				if a.jsonOut {
					data, _ := json.Marshal(l)
					fmt.Fprintln(cmd.OutOrStdout(), string(data))
					return
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatLine(cs, l, timestamps))
			}

			var lines []output.LogLine
			if len(args) == 1 {
				err = conn.Request(protocol.VerbLog, "GET", args[0]).JSONInto(&lines)
			} else {
				err = conn.Request(protocol.VerbLog, "GET-ALL").JSONInto(&lines)
			}
			if err != nil {
				return err
			}
			if tail > 0 && len(lines) > tail {
				lines = lines[len(lines)-tail:]
			}
			for _, l := range lines {
				emit(l)
			}
			if !follow {
				return nil
			}

			return conn.Request(protocol.VerbLog, append([]string{"STREAM"}, args...)...).
				Stream(cmd.Context(), func(chunk []byte) error {
					var batch output.Batch
					if err := json.Unmarshal(chunk, &batch); err != nil {
						return err
					}
					for _, l := range batch {
						emit(l)
					}
					return nil
				})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().BoolVarP(&timestamps, "timestamps", "t", false, "Prefix lines with their time")
	cmd.Flags().IntVarP(&tail, "tail", "n", 0, "Only print the last n stored lines")
	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <channel>",
		Short: "Clear the stored log of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			msg, err := conn.Request(protocol.VerbLog, "CLEAR", args[0]).OK()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func newGroupCmd(a *app, use, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res protocol.GroupResult
			printed, err := a.request(cmd, func(c *client.Conn) *client.RequestBuilder {
				return c.Request(protocol.VerbGroup, action).Timeout(0)
			}, &res)
			if err != nil || printed {
				return err
			}
			renderResults(cmd.OutOrStdout(), a.channelIndex(cmd), res.Results)
			if res.Error != "" {
				return fmt.Errorf("%s: %s", use, res.Error)
			}
			return nil
		},
	}
}

func newProjectCmd(a *app) *cobra.Command {
	show := func(cmd *cobra.Command, req func(*client.Conn) *client.RequestBuilder) error {
		var info protocol.ProjectInfo
		printed, err := a.request(cmd, req, &info)
		if err != nil || printed {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s %s (version %d)\n", headerStyle.Render("Project"), info.Path, info.Version)
		cs := indexChannels(info.Channels)
		for _, c := range info.Channels {
			state := stoppedStyle.Render("inactive")
			if c.Active {
				state = runningStyle.Render("active")
			}
			fmt.Fprintf(w, "  %s %s  %s\n", pad(cs.name(c.ID), 20), state, infoStyle.Render(commandLine(c.Executable, c.Arguments)))
		}
		return nil
	}

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Show the open project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return show(cmd, func(c *client.Conn) *client.RequestBuilder {
				return c.Request(protocol.VerbProject, "GET")
			})
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "open <file>",
			Short: "Open another project file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				return show(cmd, func(c *client.Conn) *client.RequestBuilder {
					return c.Request(protocol.VerbProject, "OPEN").WithJSON(protocol.OpenRequest{Path: path})
				})
			},
		},
		&cobra.Command{
			Use:   "reload",
			Short: "Reload the project file from disk",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return show(cmd, func(c *client.Conn) *client.RequestBuilder {
					return c.Request(protocol.VerbProject, "RELOAD")
				})
			},
		},
	)
	return cmd
}

func commandLine(exe string, args []string) string {
	return strings.TrimSpace(exe + " " + strings.Join(args, " "))
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show daemon information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var info protocol.DaemonInfo
			printed, err := a.request(cmd, func(c *client.Conn) *client.RequestBuilder {
				return c.Request(protocol.VerbInfo)
			}, &info)
			if err != nil || printed {
				return err
			}

			w := cmd.OutOrStdout()
			field := func(k, v string) {
				fmt.Fprintf(w, "%s %s\n", pad(headerStyle.Render(k+":"), 15), v)
			}
			field("Version", info.Version)
			field("PID", fmt.Sprint(info.PID))
			field("Socket", info.SocketPath)
			if info.WebAddr != "" {
				field("Web", "http://"+info.WebAddr)
			}
			if info.Project != "" {
				field("Project", info.Project)
			}
			field("Started", since(time.Unix(info.StartedAt, 0), time.Now()))
			field("Clients", fmt.Sprint(info.Clients))
			field("Runs", fmt.Sprintf("%d started, %d failed", info.TotalStarted, info.TotalFailed))
			if info.DroppedLines > 0 {
				field("Dropped", humanize.Comma(int64(info.DroppedLines))+" log lines")
			}
			if len(info.Active) > 0 {
				field("Active", strings.Join(info.Active, ", "))
			}
			return nil
		},
	}
}

func newPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon responds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.connect(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			start := time.Now()
			if err := conn.Ping(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "PONG (%s)\n", time.Since(start).Round(time.Microsecond))
			return nil
		},
	}
}

func newDaemonCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the daemon process",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Start the daemon if it is not running",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg := client.DefaultAutoStartConfig()
				cfg.SocketPath = a.socket()
				conn, err := client.EnsureDaemonRunning(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer conn.Close()
				fmt.Fprintf(cmd.OutOrStdout(), "daemon running at %s\n", cfg.SocketPath)
				return nil
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the daemon and every channel it runs",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path := a.socket()
				if !client.IsDaemonRunning(path) {
					fmt.Fprintln(cmd.OutOrStdout(), "daemon not running")
					return nil
				}
				if err := client.StopDaemon(path); err != nil {
					return err
				}
				return waitStopped(cmd.Context(), path, 10*time.Second)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Report whether the daemon is running",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path := a.socket()
				if client.IsDaemonRunning(path) {
					fmt.Fprintf(cmd.OutOrStdout(), "running at %s\n", path)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "not running")
				}
				return nil
			},
		},
	)
	return cmd
}

// waitStopped polls until the daemon no longer accepts connections.
func waitStopped(ctx context.Context, path string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for client.IsDaemonRunning(path) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("daemon at %s did not stop within %s", path, timeout)
		case <-ticker.C:
		}
	}
	return nil
}
