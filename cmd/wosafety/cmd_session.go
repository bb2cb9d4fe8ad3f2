package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/wosafety/internal/records"
	"github.com/user/wosafety/internal/state"
	"github.com/user/wosafety/internal/types"
)

func init() {
	sessionListCmd.Flags().String("work-order", "", "only sessions of this work order")
	sessionRecordsCmd.Flags().Bool("json", false, "print the merged records as JSON")
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionRecordsCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect safety-check sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest last",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()
		list, err := state.NewSessionStore(cfg.DataDir).List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if wo, _ := cmd.Flags().GetString("work-order"); wo != "" {
			kept := list[:0]
			for _, s := range list {
				if s.WorkOrderID == types.WorkOrderID(wo) {
					kept = append(kept, s)
				}
			}
			list = kept
		}
		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(out, "No sessions.")
			return nil
		}

		recs := state.NewRecordStore(cfg.DataDir)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SESSION\tWORK ORDER\tSTATUS\tRECORDS\tSTARTED")
		for _, s := range list {
			n, err := recs.Count(ctx, s.ID)
			count := fmt.Sprint(n)
			if err != nil {
				count = "?"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.WorkOrderID, s.Status, count, s.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var sessionRecordsCmd = &cobra.Command{
	Use:   "records <session>",
	Short: "Show the merged chat records of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		raw, err := state.NewRecordStore(cfg.DataDir).List(context.Background(), types.SessionID(args[0]))
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}
		merged := records.Merge(nil, raw)
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(merged)
		}
		return printRecords(cmd.OutOrStdout(), merged)
	},
}

func printRecords(w io.Writer, recs []types.StreamingRecord) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "No records.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tROLE\tTOOL\tCONTENT")
	for _, r := range recs {
		tool := r.ToolName
		if tool == "" {
			tool = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.CreatedAt, r.Role, tool, truncate(r.Content, 80))
	}
	return tw.Flush()
}

// truncate collapses whitespace and cuts s to n bytes with an ellipsis.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
