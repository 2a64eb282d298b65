package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wolfman30/clinic-booking-core/internal/slots"
)

type windowsOptions struct {
	file        string
	duration    int
	granularity time.Duration
	tolerance   time.Duration
	timezone    string
	byShift     bool
}

func newWindowsCmd() *cobra.Command {
	opts := windowsOptions{}
	cmd := &cobra.Command{
		Use:   "windows",
		Short: "Aggregate atomic slots from a JSON file into bookable windows",
		Long: "Reads a JSON array of atomic slots (from --file, or stdin when the file is \"-\")\n" +
			"and prints the windows that fit the requested duration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWindows(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "-", "slot JSON file, - for stdin")
	cmd.Flags().IntVarP(&opts.duration, "duration", "d", 0, "treatment duration in minutes")
	cmd.Flags().DurationVar(&opts.granularity, "granularity", slots.DefaultGranularity, "window start step")
	cmd.Flags().DurationVar(&opts.tolerance, "tolerance", slots.DefaultTolerance, "allowed gap between adjacent slots")
	cmd.Flags().StringVar(&opts.timezone, "tz", "UTC", "timezone for shift grouping")
	cmd.Flags().BoolVar(&opts.byShift, "by-shift", false, "group windows into morning/afternoon/evening")
	_ = cmd.MarkFlagRequired("duration")
	return cmd
}

func runWindows(cmd *cobra.Command, opts windowsOptions) error {
	if opts.duration <= 0 {
		return fmt.Errorf("duration must be positive, got %d", opts.duration)
	}
	var r io.Reader = cmd.InOrStdin()
	if opts.file != "-" {
		f, err := os.Open(opts.file)
		if err != nil {
			return fmt.Errorf("open slots: %w", err)
		}
		defer f.Close()
		r = f
	}
	var input []slots.AtomicSlot
	if err := json.NewDecoder(r).Decode(&input); err != nil {
		return fmt.Errorf("decode slots: %w", err)
	}

	windows := slots.Aggregate(input, opts.duration, slots.Options{
		Granularity: opts.granularity,
		Tolerance:   opts.tolerance,
	})
	if !opts.byShift {
		return printJSON(cmd.OutOrStdout(), windows)
	}
	loc, err := time.LoadLocation(opts.timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), slots.GroupByShift(windows, slots.DefaultShifts, loc))
}
