package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/saviobatista/flightpath/internal/api"
	"github.com/saviobatista/flightpath/internal/parser"
	"github.com/saviobatista/flightpath/internal/position"
	"github.com/saviobatista/flightpath/internal/profile"
	"github.com/saviobatista/flightpath/internal/trajectory"
	"github.com/saviobatista/flightpath/internal/types"
	"github.com/spf13/cobra"
)

// flightFlags are shared by the commands that build a synthetic flight
type flightFlags struct {
	from        string
	to          string
	duration    time.Duration
	samples     int
	departure   string
	headingStep int
	progress    float64
	at          string
}

func (f *flightFlags) register(cmd *cobra.Command, withPosition bool) {
	cmd.Flags().StringVar(&f.from, "from", "46.2382,6.1089", "Departure as lat,lon")
	cmd.Flags().StringVar(&f.to, "to", "37.9364,23.9445", "Arrival as lat,lon")
	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 165*time.Minute, "Flight duration")
	cmd.Flags().IntVarP(&f.samples, "samples", "n", trajectory.DefaultSampleCount, "Number of trajectory points")
	cmd.Flags().StringVar(&f.departure, "departure", "", "Departure time (RFC 3339, default now)")
	if withPosition {
		cmd.Flags().IntVar(&f.headingStep, "heading-step", position.DefaultHeadingStep, "Heading bucket width in degrees")
		cmd.Flags().Float64VarP(&f.progress, "progress", "p", -1, "Progress percent (default: derived from --at)")
		cmd.Flags().StringVar(&f.at, "at", "", "Time to resolve the position at (RFC 3339, default now)")
	}
}

func (f *flightFlags) build(now time.Time) (types.Sequence, error) {
	start, err := parsePoint(f.from)
	if err != nil {
		return nil, fmt.Errorf("invalid --from: %w", err)
	}
	end, err := parsePoint(f.to)
	if err != nil {
		return nil, fmt.Errorf("invalid --to: %w", err)
	}
	departure, err := parseTime(f.departure, now)
	if err != nil {
		return nil, fmt.Errorf("invalid --departure: %w", err)
	}

	return trajectory.Build(trajectory.Query{
		Start:         start,
		End:           end,
		Departure:     departure,
		TotalDuration: f.duration,
		SampleCount:   f.samples,
		Envelope:      profile.DefaultEnvelope(),
	})
}

// resolve picks the position by --progress when set, else at --at
func (f *flightFlags) resolve(seq types.Sequence, now time.Time) (position.Snapshot, profile.Phase, string, error) {
	resolver, err := position.NewResolver(f.headingStep)
	if err != nil {
		return position.Snapshot{}, "", "", err
	}

	var snap position.Snapshot
	if f.progress >= 0 {
		result, err := resolver.Resolve(seq, f.progress)
		if err != nil {
			return position.Snapshot{}, "", "", err
		}
		pct := f.progress
		if pct > 100 {
			pct = 100
		}
		progress := position.Progress{Elapsed: time.Duration(pct / 100 * float64(seq.Duration())), Total: seq.Duration()}
		snap = position.Snapshot{
			Result:          result,
			ProgressPercent: pct,
			Elapsed:         progress.Elapsed,
			Remaining:       progress.Remaining(),
			Status:          progress.Status(),
		}
	} else {
		at, err := parseTime(f.at, now)
		if err != nil {
			return position.Snapshot{}, "", "", fmt.Errorf("invalid --at: %w", err)
		}
		if snap, err = resolver.ResolveAt(seq, at); err != nil {
			return position.Snapshot{}, "", "", err
		}
	}

	phase := profile.DefaultEnvelope().PhaseAt(float64(snap.Index) / float64(len(seq)-1))
	return snap, phase, position.IconName(api.DefaultIconPrefix, snap.Heading.Bucket), nil
}

func newRootCmd(out io.Writer, now func() time.Time) *cobra.Command {
	root := &cobra.Command{
		Use:           "trajctl",
		Short:         "Reconstruct flight trajectories and positions from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	var solveFlags flightFlags
	var format string
	solveCmd := &cobra.Command{
		Use:   "solve",
		Short: "Build a great-circle trajectory",
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := solveFlags.build(now())
			if err != nil {
				return err
			}
			return writeSequence(out, seq, format)
		},
	}
	solveFlags.register(solveCmd, false)
	solveCmd.Flags().StringVarP(&format, "format", "o", "json", "Output format: json or csv")

	var positionFlags flightFlags
	positionCmd := &cobra.Command{
		Use:   "position",
		Short: "Resolve the aircraft position on a trajectory",
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := positionFlags.build(now())
			if err != nil {
				return err
			}
			snap, phase, icon, err := positionFlags.resolve(seq, now())
			if err != nil {
				return err
			}
			update := api.PositionUpdate("", "", snap, phase, icon)
			fmt.Fprintf(out, "position  %.5f, %.5f\n", update.Latitude, update.Longitude)
			fmt.Fprintf(out, "altitude  %.0f ft\n", update.Altitude)
			fmt.Fprintf(out, "speed     %.0f kt\n", update.Speed)
			fmt.Fprintf(out, "heading   %d (%s)\n", update.Heading, update.Icon)
			fmt.Fprintf(out, "progress  %.1f%% %s %s\n", update.ProgressPercent, update.Status, update.Phase)
			fmt.Fprintf(out, "elapsed   %s remaining %s\n", position.FormatDuration(snap.Elapsed), position.FormatDuration(snap.Remaining))
			return nil
		},
	}
	positionFlags.register(positionCmd, true)

	var geojsonFlags flightFlags
	geojsonCmd := &cobra.Command{
		Use:   "geojson",
		Short: "Export the route and aircraft position as GeoJSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := geojsonFlags.build(now())
			if err != nil {
				return err
			}
			snap, phase, icon, err := geojsonFlags.resolve(seq, now())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(api.FeatureCollection(seq, snap, phase, icon))
		},
	}
	geojsonFlags.register(geojsonCmd, true)

	var trackFile, mode, trackFormat string
	var trackSamples int
	trackCmd := &cobra.Command{
		Use:   "track",
		Short: "Convert a recorded OpenSky track into a trajectory",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(trackFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			track, err := parser.ParseTrack(body)
			if err != nil {
				return err
			}
			seq, err := trajectory.FromTrack(*track)
			if err != nil {
				return err
			}
			switch mode {
			case "":
			case "time":
				seq, err = trajectory.ResampleByTime(seq, trackSamples)
			case "distance":
				seq, err = trajectory.ResampleByDistance(seq, trackSamples)
			case "dense":
				seq, err = trajectory.ResampleDense(seq)
			default:
				return fmt.Errorf("unknown resample mode %q", mode)
			}
			if err != nil {
				return err
			}
			return writeSequence(out, seq, trackFormat)
		},
	}
	trackCmd.Flags().StringVarP(&trackFile, "file", "f", "-", "Track JSON file, - for stdin")
	trackCmd.Flags().StringVar(&mode, "resample", "", "Resample by time, distance or dense")
	trackCmd.Flags().IntVarP(&trackSamples, "samples", "n", trajectory.DefaultSampleCount, "Points when resampling")
	trackCmd.Flags().StringVarP(&trackFormat, "format", "o", "json", "Output format: json or csv")

	root.AddCommand(solveCmd, positionCmd, geojsonCmd, trackCmd)
	return root
}

func writeSequence(w io.Writer, seq types.Sequence, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(seq)
	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"timestamp", "lat", "lon", "altitude", "speed"}); err != nil {
			return err
		}
		for _, p := range seq {
			row := []string{
				p.Timestamp.UTC().Format(time.RFC3339),
				strconv.FormatFloat(p.Lat, 'f', 6, 64),
				strconv.FormatFloat(p.Lon, 'f', 6, 64),
				strconv.FormatFloat(p.Altitude, 'f', 0, 64),
				strconv.FormatFloat(p.Speed, 'f', 0, 64),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read track: %w", err)
	}
	return body, nil
}

func parsePoint(s string) (types.GeoPoint, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return types.GeoPoint{}, fmt.Errorf("expected lat,lon, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return types.GeoPoint{}, fmt.Errorf("invalid latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return types.GeoPoint{}, fmt.Errorf("invalid longitude: %w", err)
	}
	p := types.GeoPoint{Lat: lat, Lon: lon}
	return p, p.Validate()
}

func parseTime(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, s)
}

func main() {
	if err := newRootCmd(os.Stdout, time.Now).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
