package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/wosafety/internal/scheduler"
	"github.com/user/wosafety/internal/state"
	"github.com/user/wosafety/internal/types"
)

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleRemoveCmd, scheduleEnableCmd, scheduleDisableCmd)

	scheduleAddCmd.Flags().String("name", "", "schedule name (required)")
	scheduleAddCmd.Flags().String("work-order", "", "work order id (required)")
	scheduleAddCmd.Flags().String("schedule", "", "cron expression; empty means webhook only")
	scheduleAddCmd.Flags().String("notify-key", "", "where results are delivered, e.g. telegram:<chat id>")
	_ = scheduleAddCmd.MarkFlagRequired("name")
	_ = scheduleAddCmd.MarkFlagRequired("work-order")
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage scheduled safety checks",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a scheduled safety check",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		workOrder, _ := cmd.Flags().GetString("work-order")
		expr, _ := cmd.Flags().GetString("schedule")
		notifyKey, _ := cmd.Flags().GetString("notify-key")

		if expr != "" {
			if err := scheduler.Validate(expr); err != nil {
				return err
			}
		}

		sc := &state.Schedule{
			Name:        name,
			WorkOrderID: types.WorkOrderID(workOrder),
			Schedule:    expr,
			NotifyKey:   notifyKey,
			Enabled:     true,
		}
		if err := scheduleStore(loadConfig()).Add(sc); err != nil {
			return fmt.Errorf("add schedule: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Schedule %q added. Run `wosafety restart` to load it.\n", name)
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all schedules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		schedules, err := scheduleStore(loadConfig()).List()
		if err != nil {
			return fmt.Errorf("list schedules: %w", err)
		}
		if len(schedules) == 0 {
			fmt.Println("No schedules configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tWORK ORDER\tSCHEDULE\tENABLED\tNOTIFY KEY")
		for _, sc := range schedules {
			expr := sc.Schedule
			if expr == "" {
				expr = "(webhook)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", sc.Name, sc.WorkOrderID, expr, sc.Enabled, sc.NotifyKey)
		}
		return w.Flush()
	},
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := scheduleStore(loadConfig()).Remove(args[0]); err != nil {
			return fmt.Errorf("remove schedule: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Schedule %q removed.\n", args[0])
		return nil
	},
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setScheduleEnabled(args[0], true)
	},
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setScheduleEnabled(args[0], false)
	},
}

func setScheduleEnabled(name string, enabled bool) error {
	if err := scheduleStore(loadConfig()).SetEnabled(name, enabled); err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	fmt.Fprintf(os.Stdout, "Schedule %q %s.\n", name, verb)
	return nil
}
