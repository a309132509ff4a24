package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mschirtzinger/exposure-tracker/internal/state"
	"github.com/mschirtzinger/exposure-tracker/internal/types"
	"github.com/mschirtzinger/exposure-tracker/internal/ui"
)

var exposureCmd = &cobra.Command{
	Use:     "exposure",
	Aliases: []string{"exp"},
	GroupID: "data",
	Short:   "Log and review exposures",
}

var exposureAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Log a new exposure",
	Long: `Log a new exposure. The reference number (EXP-YYMMDD-NNN) is assigned
from the exposures already logged on the same date.

Examples:
  exposure exposure add --situation "Called the dentist" --anticipated 7 --peak 5 --duration "10 min"
  exposure exposure add --date yesterday --time 6pm -i`,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := nowFunc()
		var e types.Exposure
		if err := applyExposureFlags(cmd.Flags(), &e, now, true); err != nil {
			return err
		}
		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			if err := ui.ExposureForm(&e, now); err != nil {
				return err
			}
		}

		ctx := cmd.Context()
		env, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// Numbering reads the mirror, so wait for it.
		if err := env.waitLoaded(ctx, state.KindExposures); err != nil {
			return err
		}
		if _, err := env.session.Client().SaveExposure(ctx, &e); err != nil {
			return writeFailed(ctx, err)
		}
		fmt.Fprintf(stdout, "%s Logged %s\n", ui.RenderPass("✓"), ui.RenderAccent(e.ReferenceNumber))
		fmt.Fprintln(stdout, ui.RenderMuted("  id "+e.ID))
		return nil
	},
}

var exposureEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a logged exposure",
	Long: `Edit a logged exposure. Only the flags given are changed; the reference
number never changes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.waitLoaded(ctx, state.KindExposures); err != nil {
			return err
		}
		e, ok := env.local.Exposure(args[0])
		if !ok {
			return fmt.Errorf("no exposure with id %s", args[0])
		}

		now := nowFunc()
		if err := applyExposureFlags(cmd.Flags(), &e, now, false); err != nil {
			return err
		}
		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			if err := ui.ExposureForm(&e, now); err != nil {
				return err
			}
		}

		if _, err := env.session.Client().SaveExposure(ctx, &e); err != nil {
			return writeFailed(ctx, err)
		}
		fmt.Fprintf(stdout, "%s Updated %s\n", ui.RenderPass("✓"), ui.RenderAccent(e.ReferenceNumber))
		return nil
	},
}

var exposureDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete an exposure",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if _, err := env.session.Client().DeleteExposure(ctx, args[0]); err != nil {
			return writeFailed(ctx, err)
		}
		fmt.Fprintf(stdout, "%s Deleted %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

var exposureListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List exposures, newest first",
	Long: `List exposures, newest first.

Filters:
  --search   text in the situation, notes, fear or outcome
  --anxiety  peak anxiety band: low (0-3), medium (3-6], high (over 6)
  --range    today, week, month or 3months`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := filterFromFlags(cmd.Flags())
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.waitLoaded(ctx, state.KindExposures, state.KindSummaries); err != nil {
			return err
		}
		list := filter.Apply(env.local.Exposures(), nowFunc())
		if jsonOutput {
			return printJSON(list)
		}
		if env.local.ReminderDue() {
			fmt.Fprintln(stdout, ui.ReminderBanner())
		}
		fmt.Fprint(stdout, ui.Exposures(list))
		return nil
	},
}

var exposureShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one exposure in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.waitLoaded(ctx, state.KindExposures); err != nil {
			return err
		}
		e, ok := env.local.Exposure(args[0])
		if !ok {
			return fmt.Errorf("no exposure with id %s", args[0])
		}
		if jsonOutput {
			return printJSON(e)
		}
		fmt.Fprint(stdout, ui.Exposure(&e))
		return nil
	},
}

// applyExposureFlags copies the set flags into e. With fill, date and time
// default to now when not given.
func applyExposureFlags(flags *pflag.FlagSet, e *types.Exposure, now time.Time, fill bool) error {
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	scale := func(name string, dst *types.Scale) error {
		if !flags.Changed(name) {
			return nil
		}
		raw, _ := flags.GetString(name)
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || !types.Scale(f).Valid() {
			return fmt.Errorf("%w: --%s must be a number from 0 to 10", types.ErrInvalid, name)
		}
		*dst = types.Scale(f)
		return nil
	}

	if flags.Changed("date") || fill {
		raw, _ := flags.GetString("date")
		day, err := ui.ParseDay(raw, now)
		if err != nil {
			return err
		}
		e.Date = day
	}
	if flags.Changed("time") || fill {
		raw, _ := flags.GetString("time")
		clock, err := ui.ParseClock(raw, now)
		if err != nil {
			return err
		}
		e.Time = clock
	}

	str("situation", &e.Situation)
	str("duration", &e.Duration)
	str("fear", &e.FearWillHappen)
	str("happened", &e.WhatActuallyHappened)
	str("notes", &e.Notes)
	if err := scale("anticipated", &e.AnticipatedAnxiety); err != nil {
		return err
	}
	if err := scale("peak", &e.PeakAnxiety); err != nil {
		return err
	}
	if flags.Changed("graph") {
		e.GraphAdded, _ = flags.GetBool("graph")
	}
	return nil
}

func filterFromFlags(flags *pflag.FlagSet) (types.Filter, error) {
	search, _ := flags.GetString("search")
	anxiety, _ := flags.GetString("anxiety")
	dateRange, _ := flags.GetString("range")

	f := types.Filter{
		Search:  search,
		Anxiety: types.AnxietyBand(strings.ToLower(anxiety)),
		Range:   types.DateRange(strings.ToLower(dateRange)),
	}
	switch f.Anxiety {
	case types.AnxietyAny, types.AnxietyLow, types.AnxietyMedium, types.AnxietyHigh:
	default:
		return f, fmt.Errorf("--anxiety must be low, medium or high")
	}
	switch f.Range {
	case types.RangeAll, types.RangeToday, types.RangeWeek, types.RangeMonth, types.Range3Months:
	default:
		return f, fmt.Errorf("--range must be today, week, month or 3months")
	}
	return f, nil
}

func registerExposureFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("date", "", "date, YYYY-MM-DD or a phrase like \"yesterday\" (default today)")
	f.String("time", "", "time of day, HH:MM or 6pm (default now)")
	f.String("situation", "", "what the exposure was")
	f.String("anticipated", "", "anticipated anxiety, 0-10")
	f.String("peak", "", "peak anxiety, 0-10")
	f.String("duration", "", "how long it lasted")
	f.String("fear", "", "what you feared would happen")
	f.String("happened", "", "what actually happened")
	f.String("notes", "", "free-form notes")
	f.Bool("graph", false, "an anxiety graph was added")
	f.BoolP("interactive", "i", false, "fill the fields in a form")
}

func init() {
	registerExposureFlags(exposureAddCmd)
	registerExposureFlags(exposureEditCmd)

	exposureListCmd.Flags().String("search", "", "text to search for")
	exposureListCmd.Flags().String("anxiety", "", "peak anxiety band: low, medium, high")
	exposureListCmd.Flags().String("range", "", "date range: today, week, month, 3months")

	exposureCmd.AddCommand(exposureAddCmd, exposureEditCmd, exposureDeleteCmd, exposureListCmd, exposureShowCmd)
	rootCmd.AddCommand(exposureCmd)
}
