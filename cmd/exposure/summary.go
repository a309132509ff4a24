package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/exposure-tracker/internal/state"
	"github.com/mschirtzinger/exposure-tracker/internal/types"
	"github.com/mschirtzinger/exposure-tracker/internal/ui"
)

var summaryCmd = &cobra.Command{
	Use:     "summary",
	GroupID: "data",
	Short:   "Write and review weekly summaries",
}

var summaryAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Write a weekly summary",
	Long: `Write a weekly summary. The exposure count defaults to the number of
exposures logged in the Sunday-Saturday week being summarized.

Examples:
  exposure summary add --difficult "The subway ride" --confidence 6
  exposure summary add --week "last sunday" -i`,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := nowFunc()
		flags := cmd.Flags()

		weekRaw, _ := flags.GetString("week")
		week, err := ui.ParseDay(weekRaw, now)
		if err != nil {
			return err
		}
		s := types.WeeklySummary{WeekOf: week}
		s.DifficultExposure, _ = flags.GetString("difficult")
		s.Learnings, _ = flags.GetString("learnings")
		if flags.Changed("confidence") {
			raw, _ := flags.GetString("confidence")
			f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil || !types.Scale(f).Valid() {
				return fmt.Errorf("%w: --confidence must be a number from 0 to 10", types.ErrInvalid)
			}
			s.ConfidenceRating = types.Scale(f)
		}

		ctx := cmd.Context()
		env, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.waitLoaded(ctx, state.KindExposures); err != nil {
			return err
		}
		if flags.Changed("count") {
			s.NumExposures, _ = flags.GetInt("count")
		} else {
			s.NumExposures = types.CountInWeek(env.local.Exposures(), s.Week())
		}

		if interactive, _ := flags.GetBool("interactive"); interactive {
			if err := ui.SummaryForm(&s, now); err != nil {
				return err
			}
		}

		if _, err := env.session.Client().SaveSummary(ctx, &s); err != nil {
			return writeFailed(ctx, err)
		}
		fmt.Fprintf(stdout, "%s Saved summary for the week of %s\n", ui.RenderPass("✓"), s.WeekOf)
		fmt.Fprintln(stdout, ui.RenderMuted("  id "+s.ID))
		return nil
	},
}

var summaryDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a weekly summary",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if _, err := env.session.Client().DeleteSummary(ctx, args[0]); err != nil {
			return writeFailed(ctx, err)
		}
		fmt.Fprintf(stdout, "%s Deleted %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

var summaryListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List weekly summaries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.waitLoaded(ctx, state.KindSummaries); err != nil {
			return err
		}
		list := env.local.Summaries()
		if jsonOutput {
			return printJSON(list)
		}
		fmt.Fprint(stdout, ui.Summaries(list))
		return nil
	},
}

var reminderCmd = &cobra.Command{
	Use:     "reminder",
	GroupID: "data",
	Short:   "Check whether this week's summary is due",
	Long: `Check whether this week's summary is due. It is due on Sunday from 21:00
when no summary has been written for the current week. Exits 0 either way.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.waitLoaded(ctx, state.KindSummaries); err != nil {
			return err
		}
		due := env.local.ReminderDue()
		if jsonOutput {
			return printJSON(map[string]bool{"due": due})
		}
		if due {
			fmt.Fprintln(stdout, ui.ReminderBanner())
		} else {
			fmt.Fprintf(stdout, "%s No summary due\n", ui.RenderPass("✓"))
		}
		return nil
	},
}

func init() {
	f := summaryAddCmd.Flags()
	f.String("week", "", "any date in the week, or a phrase like \"last sunday\" (default this week)")
	f.Int("count", 0, "exposures completed (default: logged this week)")
	f.String("difficult", "", "the most difficult exposure")
	f.String("confidence", "", "confidence rating, 0-10")
	f.String("learnings", "", "what you learned")
	f.BoolP("interactive", "i", false, "fill the fields in a form")

	summaryCmd.AddCommand(summaryAddCmd, summaryDeleteCmd, summaryListCmd)
	rootCmd.AddCommand(summaryCmd, reminderCmd)
}
