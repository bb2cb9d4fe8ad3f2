package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/user/wosafety/internal/types"
)

func init() {
	rootCmd.AddCommand(workOrderCmd)
	workOrderCmd.AddCommand(workOrderListCmd, workOrderShowCmd, workOrderImportCmd)
}

var workOrderCmd = &cobra.Command{
	Use:     "workorder",
	Aliases: []string{"wo"},
	Short:   "Manage work orders",
}

var workOrderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all work orders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		orders, err := workOrderStore(loadConfig()).List(context.Background())
		if err != nil {
			return fmt.Errorf("list work orders: %w", err)
		}
		if len(orders) == 0 {
			fmt.Println("No work orders found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tLOCATION\tLAST CHECK")
		for _, wo := range orders {
			checked := "-"
			if wo.SafetyCheckPerformedAt != "" {
				checked = wo.SafetyCheckPerformedAt
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", wo.ID, wo.Status, wo.Priority, wo.LocationName, checked)
		}
		return w.Flush()
	},
}

var workOrderShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a work order as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wo, err := workOrderStore(loadConfig()).Get(context.Background(), types.WorkOrderID(args[0]))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(wo)
	},
}

var workOrderImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import work orders from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read import file: %w", err)
		}
		orders, err := parseWorkOrders(data)
		if err != nil {
			return err
		}

		store := workOrderStore(loadConfig())
		ctx := context.Background()
		for _, wo := range orders {
			if err := store.Put(ctx, wo); err != nil {
				return fmt.Errorf("import %s: %w", wo.ID, err)
			}
		}
		fmt.Fprintf(os.Stdout, "Imported %d work order(s).\n", len(orders))
		return nil
	},
}

// importFile is the document form of an import file.
type importFile struct {
	WorkOrders []*types.WorkOrder `yaml:"work_orders"`
}

// parseWorkOrders accepts a YAML (or JSON) list of work orders, or a
// document with a work_orders list.
func parseWorkOrders(data []byte) ([]*types.WorkOrder, error) {
	var orders []*types.WorkOrder
	if err := yaml.Unmarshal(data, &orders); err != nil {
		var doc importFile
		if docErr := yaml.Unmarshal(data, &doc); docErr != nil {
			return nil, fmt.Errorf("parse work orders: %w", err)
		}
		orders = doc.WorkOrders
	}
	if len(orders) == 0 && len(bytes.TrimSpace(data)) > 0 {
		return nil, fmt.Errorf("parse work orders: no work orders found")
	}
	for i, wo := range orders {
		if wo == nil || wo.ID == "" {
			return nil, fmt.Errorf("parse work orders: entry %d has no work_order_id", i)
		}
	}
	return orders, nil
}
