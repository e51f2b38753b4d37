package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apihttp "replaylog/internal/http"
	"replaylog/pkg/flow"
	"replaylog/pkg/metrics"
	"replaylog/pkg/replay"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the journal over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := metrics.NewRegistry()
			j, err := openJournal(a.cfg, reg)
			if err != nil {
				return err
			}
			defer j.Close()

			srv := apihttp.NewServer(j, fmt.Sprint(a.cfg.Server.Port),
				apihttp.WithMetrics(reg),
				apihttp.WithTimeouts(a.cfg.Server.ReadHeaderTimeout.Std(), a.cfg.Server.ShutdownTimeout.Std()),
				apihttp.WithReplayDefaults(apihttp.ReplayDefaults{
					Acceleration: a.cfg.Replay.Acceleration,
					LoopDelay:    a.cfg.Replay.LoopDelay.Std(),
				}),
				apihttp.WithReplayOptions(replayOptions(a.cfg)...),
			)
			if err := srv.Start(); err != nil {
				return err
			}

			<-cmd.Context().Done()
			slog.Info("shutting down")
			return srv.Stop()
		},
	}
}

func newAppendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "append [json...]",
		Short: "Append JSON values given as arguments, or one per line on stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal(a.cfg, metrics.Nop{})
			if err != nil {
				return err
			}
			defer j.Close()

			var in io.Reader = cmd.InOrStdin()
			if len(args) > 0 {
				in = strings.NewReader(strings.Join(args, "\n"))
			}

			src := jsonLines("input", in)
			ing := j.AppendFrom(cmd.Context(), src.stream)
			ing.Wait()
			if err := ing.Err(); err != nil {
				return err
			}
			if src.err != nil {
				return src.err
			}
			slog.Info("values appended", "count", src.count)
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print every stored value with its timestamp",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal(a.cfg, metrics.Nop{})
			if err != nil {
				return err
			}
			defer j.Close()

			return printStream(cmd, j.RetrieveHistory(), limit, func(v replay.Timed[json.RawMessage]) any {
				return apihttp.NewEntry(v, nil)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many values (0 means all)")
	return cmd
}

func newTailCmd(a *app) *cobra.Command {
	var all, deleteAfterRead bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the journal and print values as they are appended",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal(a.cfg, metrics.Nop{})
			if err != nil {
				return err
			}
			defer j.Close()

			deleteAfterRead = deleteAfterRead || a.cfg.Retrieval.DeleteAfterRead
			s := j.RetrieveNewValues()
			if all || deleteAfterRead {
				s = j.RetrieveAll(deleteAfterRead)
			}
			return printStream(cmd, s, 0, func(v replay.Timed[json.RawMessage]) any {
				return apihttp.NewEntry(v, nil)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "start from the beginning of the journal")
	cmd.Flags().BoolVar(&deleteAfterRead, "delete-after-read", false, "delete segments once they were read (implies --all)")
	return cmd
}

func newReplayCmd(a *app) *cobra.Command {
	var (
		acceleration float64
		loop         bool
		delay        time.Duration
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the stored history with its original pacing",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal(a.cfg, metrics.Nop{})
			if err != nil {
				return err
			}
			defer j.Close()

			if !cmd.Flags().Changed("acceleration") {
				acceleration = a.cfg.Replay.Acceleration
			}
			if !cmd.Flags().Changed("delay") {
				delay = a.cfg.Replay.LoopDelay.Std()
			}

			flux, err := j.ReplayHistory(replayOptions(a.cfg)...).WithTimeAcceleration(acceleration)
			if err != nil {
				return err
			}

			if !loop {
				return printStream(cmd, flux.Stream(), limit, func(v replay.Timed[json.RawMessage]) any {
					return apihttp.NewEntry(v, nil)
				})
			}
			return printStream(cmd, flux.InLoopWithDelay(delay), limit, func(v replay.ReplayValue[replay.Timed[json.RawMessage]]) any {
				restart := v.Restart
				return apihttp.NewEntry(v.Value, &restart)
			})
		},
	}
	cmd.Flags().Float64Var(&acceleration, "acceleration", 1, "speed-up factor applied to the recorded gaps")
	cmd.Flags().BoolVar(&loop, "loop", false, "restart the replay whenever it completes")
	cmd.Flags().DurationVar(&delay, "delay", 0, "pause before every loop iteration")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many values (0 means unbounded)")
	return cmd
}

// printStream writes s to stdout as NDJSON until it ends, limit is reached or
// the command is interrupted.
func printStream[T any](cmd *cobra.Command, s flow.Stream[T], limit int, render func(T) any) error {
	ctx := cmd.Context()
	sub := s.Subscribe(ctx)
	defer sub.Cancel()

	enc := json.NewEncoder(cmd.OutOrStdout())
	for n := 0; limit <= 0 || n < limit; n++ {
		v, ok, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !ok {
			return nil
		}
		if err := enc.Encode(render(v)); err != nil {
			return err
		}
	}
	return nil
}

type lineSource struct {
	stream flow.Stream[json.RawMessage]
	count  int
	err    error
}

// jsonLines emits every non-blank line of r as a JSON value. A line that is
// not valid JSON fails the stream.
func jsonLines(name string, r io.Reader) *lineSource {
	ls := &lineSource{}
	ls.stream = flow.New(name, func(sink *flow.Sink[json.RawMessage]) {
		sc := bufio.NewScanner(r)
		line := 0
		for sc.Scan() {
			line++
			text := strings.TrimSpace(sc.Text())
			if text == "" {
				continue
			}
			if !json.Valid([]byte(text)) {
				ls.err = fmt.Errorf("line %d is not valid JSON", line)
				sink.Error(ls.err)
				return
			}
			if err := sink.AwaitDemand(); err != nil {
				return
			}
			if err := sink.Next(json.RawMessage(text)); err != nil {
				return
			}
			ls.count++
		}
		if err := sc.Err(); err != nil {
			ls.err = err
			sink.Error(err)
			return
		}
		sink.Complete()
	})
	return ls
}
