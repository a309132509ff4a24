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

var goalsCmd = &cobra.Command{
	Use:     "goals",
	GroupID: "data",
	Short:   "Show or edit your ten goals",
}

var goalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List goals",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.waitLoaded(ctx, state.KindGoals); err != nil {
			return err
		}
		goals := env.local.Goals()
		if jsonOutput {
			return printJSON(goals)
		}
		fmt.Fprint(stdout, ui.Goals(goals))
		return nil
	},
}

var goalsSetCmd = &cobra.Command{
	Use:   "set <1-10> [text]",
	Short: "Set the text of one goal slot",
	Long: `Set the text of one goal slot. An empty text clears the slot.

Examples:
  exposure goals set 1 "Ride the subway at rush hour"
  exposure goals set 3 ""
  exposure goals set 2 --interactive`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := strconv.Atoi(args[0])
		if err != nil || slot < 1 || slot > types.GoalSlots {
			return fmt.Errorf("goal slot must be a number from 1 to %d", types.GoalSlots)
		}
		index := slot - 1

		ctx := cmd.Context()
		env, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.waitLoaded(ctx, state.KindGoals); err != nil {
			return err
		}
		goals := env.local.Goals()

		text := goals[index]
		if len(args) == 2 {
			text = args[1]
		}
		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			if err := ui.GoalForm(index, &text); err != nil {
				return err
			}
		} else if len(args) < 2 {
			return fmt.Errorf("goal text is required without --interactive")
		}

		if err := goals.Set(index, strings.TrimSpace(text)); err != nil {
			return err
		}
		if _, err := env.session.Client().SaveGoals(ctx, goals); err != nil {
			return writeFailed(ctx, err)
		}
		fmt.Fprintf(stdout, "%s Goal %d saved\n", ui.RenderPass("✓"), slot)
		return nil
	},
}

func init() {
	goalsSetCmd.Flags().BoolP("interactive", "i", false, "edit the goal in a form")

	goalsCmd.AddCommand(goalsListCmd, goalsSetCmd)
	rootCmd.AddCommand(goalsCmd)
}
