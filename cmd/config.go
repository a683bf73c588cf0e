package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Bidon15/popdeploy/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Commands for managing the popdeploy configuration file.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file",
	Long: `Write popdeploy.yaml (or the --config path) with default settings and the
built-in network table, ready to be edited.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configForce bool

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	path := cfgFile
	if path == "" {
		path = config.DefaultConfigName + ".yaml"
	}

	if _, err := os.Stat(path); err == nil && !configForce {
		_, _ = fmt.Fprintf(out, "%s Config file already exists at %s\n", colorYellow(out, "⚠"), path)
		_, _ = fmt.Fprint(out, "Overwrite? [y/N]: ")
		response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if r := strings.TrimSpace(response); r != "y" && r != "Y" {
			_, _ = fmt.Fprintln(out, "Aborted")
			return nil
		}
	}

	if err := config.WriteTemplate(path, cfg.Network, cfg.Artifact); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "%s Config file created at %s\n", colorGreen(out, "✓"), path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if jsonOut {
		return printJSON(out, map[string]interface{}{
			"network":         cfg.Network,
			"artifact":        cfg.Artifact,
			"gas_limit":       cfg.GasLimit,
			"no_prompt":       cfg.NoPrompt,
			"confirmations":   cfg.Confirmations,
			"dial_timeout":    cfg.DialTimeout.String(),
			"request_timeout": cfg.RequestTimeout.String(),
			"confirm_timeout": cfg.ConfirmTimeout.String(),
			"poll_interval":   cfg.PollInterval.String(),
			"pushgateway":     cfg.Pushgateway,
			"log_level":       cfg.Log.Level,
			"log_format":      cfg.Log.Format,
			"networks":        cfg.Networks.Names(),
			"config_file":     v.ConfigFileUsed(),
		})
	}

	_, _ = fmt.Fprintf(out, "Network:         %s\n", orNotSet(out, cfg.Network))
	_, _ = fmt.Fprintf(out, "Artifact:        %s\n", orNotSet(out, cfg.Artifact))
	_, _ = fmt.Fprintf(out, "Gas limit:       %s\n", orNotSet(out, cfg.GasLimit))
	_, _ = fmt.Fprintf(out, "Confirmations:   %d\n", cfg.Confirmations)
	_, _ = fmt.Fprintf(out, "Dial timeout:    %s\n", cfg.DialTimeout)
	_, _ = fmt.Fprintf(out, "Request timeout: %s\n", cfg.RequestTimeout)
	_, _ = fmt.Fprintf(out, "Confirm timeout: %s\n", cfg.ConfirmTimeout)
	_, _ = fmt.Fprintf(out, "Pushgateway:     %s\n", orNotSet(out, cfg.Pushgateway))
	_, _ = fmt.Fprintf(out, "Log:             %s (%s)\n", cfg.Log.Level, cfg.Log.Format)
	_, _ = fmt.Fprintf(out, "Networks:        %s\n", strings.Join(cfg.Networks.Names(), ", "))

	if configFile := v.ConfigFileUsed(); configFile != "" {
		_, _ = fmt.Fprintf(out, "Config file:     %s\n", configFile)
	}
	return nil
}

func orNotSet(w io.Writer, s string) string {
	if s == "" {
		return colorYellow(w, "(not set)")
	}
	return s
}
