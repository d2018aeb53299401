package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"backend-runhub/internal/run"
	"backend-runhub/internal/sensor"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const finalSnapshotGrace = 250 * time.Millisecond

type SimulateOptions struct {
	Script      string
	Tick        time.Duration
	PauseAt     int
	ResumeAfter time.Duration
	Extended    bool
}

func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a scripted route through a run session",
		Long: `Replay a YAML route through a run session and print every snapshot.

With --pause-at the run is paused after that many snapshots and resumed
after --resume-after. The final summary is printed when the route ends.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), rootOpts, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.Script, "script", "", "route script (YAML)")
	cmd.Flags().DurationVar(&opts.Tick, "tick", run.DefaultTickInterval, "snapshot interval while running")
	cmd.Flags().IntVar(&opts.PauseAt, "pause-at", 0, "pause after this many snapshots (0 disables)")
	cmd.Flags().DurationVar(&opts.ResumeAfter, "resume-after", 2*time.Second, "how long to stay paused")
	cmd.Flags().BoolVar(&opts.Extended, "extended", false, "tag path points with pace zones")
	_ = cmd.MarkFlagRequired("script")

	return cmd
}

func runSimulate(ctx context.Context, rootOpts *RootOptions, opts *SimulateOptions, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	script, err := sensor.LoadScript(opts.Script)
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if rootOpts.Verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}

	src := newRouteSource(sensor.NewSimulatedSource(script))
	sessionOpts := []run.Option{run.WithTickInterval(opts.Tick), run.WithLogger(logger)}
	if opts.Extended {
		sessionOpts = append(sessionOpts, run.WithExtendedStats(run.DefaultPaceZones))
	}
	session := run.NewSession(src, sessionOpts...)

	stream, err := session.Start(ctx)
	if err != nil {
		return err
	}
	p := &printer{format: rootOpts.Format, out: out}
	if rootOpts.Verbose {
		fmt.Fprintf(errOut, "replaying %q: %d steps every %s\n", script.Name, len(script.Steps), script.Interval)
	}

	count, sameStamp := 0, 0
	var lastPrinted time.Time
	exhausted := src.exhausted
	var grace <-chan time.Time
	for {
		select {
		case snap, ok := <-stream.C():
			if !ok {
				detail := session.Stop()
				p.detail(detail)
				if err := stream.Err(); err != nil {
					return fmt.Errorf("run failed: %w", err)
				}
				return nil
			}
			count++
			if snap.Timestamp.Equal(lastPrinted) {
				sameStamp++
			} else {
				lastPrinted, sameStamp = snap.Timestamp, 1
			}
			p.snapshot(snap)

			if exhausted == nil && src.caughtUp(lastPrinted, sameStamp) {
				p.detail(session.Stop())
				return nil
			}
			if opts.PauseAt > 0 && count == opts.PauseAt {
				if err := pauseFor(ctx, session, opts.ResumeAfter); err != nil {
					p.detail(session.Stop())
					return err
				}
				if rootOpts.Verbose {
					fmt.Fprintf(errOut, "resumed after %s\n", opts.ResumeAfter)
				}
			}

		case <-exhausted:
			exhausted = nil
			if src.caughtUp(lastPrinted, sameStamp) {
				p.detail(session.Stop())
				return nil
			}
			// The final snapshots are still on their way, or were dropped.
			grace = time.After(max(2*script.Interval, finalSnapshotGrace))

		case <-grace:
			p.detail(session.Stop())
			return nil

		case <-ctx.Done():
			p.detail(session.Stop())
			return ctx.Err()
		}
	}
}

func pauseFor(ctx context.Context, session *run.Session, d time.Duration) error {
	session.Pause()
	if err := sleep(ctx, d); err != nil {
		return err
	}
	return session.Resume()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type printer struct {
	format string
	out    io.Writer
}

func (p *printer) snapshot(s run.Snapshot) {
	if p.format == "json" {
		_ = json.NewEncoder(p.out).Encode(map[string]any{"snapshot": s})
		return
	}
	m := s.Metrics
	fmt.Fprintf(p.out, "%6.0fs  %8.1f m  pace %s  cadence %5.1f spm  steps %d\n",
		m.ElapsedSeconds, m.TotalDistanceMeters, formatPace(m.CurrentPaceSecPerKm), m.CurrentCadenceSpm, m.TotalSteps)
}

func (p *printer) detail(d run.Detail) {
	if p.format == "json" {
		_ = json.NewEncoder(p.out).Encode(map[string]any{"summary": d})
		return
	}
	fmt.Fprintln(p.out, "---")
	fmt.Fprintf(p.out, "distance      %.1f m\n", d.TotalDistanceMeters)
	fmt.Fprintf(p.out, "elapsed       %.0f s\n", d.ElapsedSeconds)
	fmt.Fprintf(p.out, "avg pace      %s\n", formatPace(d.AvgPaceSecPerKm))
	fmt.Fprintf(p.out, "fastest pace  %s at %.5f,%.5f\n", formatPace(d.FastestPaceSecPerKm), d.CoordinateAtFastestPace.Lat, d.CoordinateAtFastestPace.Lng)
	fmt.Fprintf(p.out, "avg cadence   %.1f spm (max %.1f)\n", d.AvgCadenceSpm, d.MaxCadenceSpm)
	fmt.Fprintf(p.out, "steps         %d\n", d.TotalSteps)
	fmt.Fprintf(p.out, "path points   %d\n", len(d.Path))
}

// formatPace renders seconds per km as m:ss, or "-" when unknown.
func formatPace(secPerKm float64) string {
	if secPerKm <= 0 {
		return "-"
	}
	total := int(secPerKm + 0.5)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
