package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/wosafety/internal/config"
)

func init() {
	configListCmd.Flags().Bool("show-secrets", false, "print API keys and tokens in clear")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd, configPathCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change the configuration file",
}

// printValues writes key/value rows sorted by key. A non-empty prefix keeps
// only that section, e.g. "widget" or "hazards.".
func printValues(w io.Writer, values map[string]any, prefix string) error {
	if prefix != "" && !strings.HasSuffix(prefix, ".") {
		prefix += "."
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, k := range slices.Sorted(maps.Keys(values)) {
		if strings.HasPrefix(k, prefix) {
			fmt.Fprintf(tw, "%s\t%v\n", k, values[k])
		}
	}
	return tw.Flush()
}

var configListCmd = &cobra.Command{
	Use:   "list [section]",
	Short: "List configuration values, optionally one section",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		show, _ := cmd.Flags().GetBool("show-secrets")
		values, err := config.ListValues(loadConfig(), !show)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}
		section := ""
		if len(args) == 1 {
			section = args[0]
		}
		return printValues(cmd.OutOrStdout(), values, section)
	},
}

// shown hides secret values behind a fixed mask.
func shown(key string, v any) any {
	if config.IsSecretKey(key) {
		return "***"
	}
	return v
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one value by dotted key, e.g. stream.timeout_seconds",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), shown(args[0], v))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one value; the type follows the default for that key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetValue(cfgPath, key, value); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s = %v\n", key, shown(key, value))
		if _, err := daemonPID(); err == nil {
			fmt.Fprintln(out, "wosafety is running; `wosafety restart` applies the change.")
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), cfgPath)
	},
}
