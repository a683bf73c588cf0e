package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/Bidon15/popdeploy/internal/config"
	"github.com/Bidon15/popdeploy/internal/deployer"
	"github.com/Bidon15/popdeploy/internal/logging"
)

// Version information, set via ldflags during build
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Global flags
var (
	cfgFile string
	envFile string
	verbose bool
	jsonOut bool
)

// Resolved per invocation by initConfig
var (
	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger

	// clientFactory replaces RPC dialing when set.
	clientFactory deployer.ClientFactory
)

// Flags whose values are resolved through viper, keyed by flag name.
var flagKeys = map[string]string{
	"network":         "network",
	"artifact":        "artifact",
	"gas-limit":       "gas_limit",
	"no-prompt":       "no_prompt",
	"confirmations":   "confirmations",
	"dial-timeout":    "dial_timeout",
	"request-timeout": "request_timeout",
	"confirm-timeout": "confirm_timeout",
	"poll-interval":   "poll_interval",
	"pushgateway":     "pushgateway",
	"log-level":       "log.level",
	"log-format":      "log.format",
}

var rootCmd = &cobra.Command{
	Use:   "popdeploy",
	Short: "Deploy a compiled contract to a Boba network",
	Long: `popdeploy deploys a single compiled contract artifact to one of the
configured networks and reports the confirmed contract address.

Configuration (in order of priority):
  1. Command-line flags
  2. Environment variables (POPDEPLOY_NETWORK, POPDEPLOY_ARTIFACT, ...)
  3. Config file (./popdeploy.yaml or ~/popdeploy.yaml)
  4. Built-in defaults

A .env file in the working directory is loaded first, so DEPLOYER_PK and
LIGHTBRIDGE_RPC_BOBAETHMAINNET can live there.

Get started:
  $ popdeploy networks list
  $ popdeploy deploy boba_sepolia --artifact artifacts/GameContract.json`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "popdeploy %s\n", Version)
		if verbose {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  commit:  %s\n", Commit)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  built:   %s\n", BuildDate)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./popdeploy.yaml or ~/popdeploy.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load (default is ./.env when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error (or POPDEPLOY_LOG_LEVEL)")
	rootCmd.PersistentFlags().String("log-format", logging.FormatText, "log format: text or json (or POPDEPLOY_LOG_FORMAT)")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(rootCmd.ErrOrStderr(), err)
		os.Exit(1)
	}
}

// ExecuteWithArgs runs the root command with the provided arguments (for testing)
func ExecuteWithArgs(args []string) error {
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

// SetOutput sets the output writer for the root command (for testing)
func SetOutput(w io.Writer) {
	rootCmd.SetOut(w)
	rootCmd.SetErr(w)
}

// SetInput sets the input reader for the root command (for testing)
func SetInput(r io.Reader) {
	rootCmd.SetIn(r)
}

// ResetFlags resets all flags and resolved state to their defaults (for testing)
func ResetFlags() {
	cfgFile = ""
	envFile = ""
	verbose = false
	jsonOut = false
	v = nil
	cfg = nil
	logger = nil
	clientFactory = nil

	resetFlagSet(rootCmd.PersistentFlags())
	for _, c := range allCommands(rootCmd) {
		resetFlagSet(c.Flags())
	}
}

func resetFlagSet(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
}

func allCommands(c *cobra.Command) []*cobra.Command {
	cmds := []*cobra.Command{c}
	for _, sub := range c.Commands() {
		cmds = append(cmds, allCommands(sub)...)
	}
	return cmds
}

// initConfig loads the env file, resolves configuration and builds the logger.
func initConfig(cmd *cobra.Command) error {
	envPath := envFile
	if envPath == "" {
		envPath = config.DefaultEnvFile
	}
	if _, err := config.LoadDotEnv(envPath, envFile != ""); err != nil {
		return err
	}

	v = viper.New()
	config.SetDefaults(v)
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if err := config.ReadFile(v, cfgFile); err != nil {
		// config init may be creating the file.
		if cmd != configInitCmd || !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	if verbose {
		loaded.Log.Level = "debug"
	}

	logger, err = logging.New(cmd.ErrOrStderr(), logging.Options{
		Level:  loaded.Log.Level,
		Format: loaded.Log.Format,
	})
	if err != nil {
		return err
	}

	cfg = loaded
	return nil
}

// Output helpers

// printJSON outputs data as formatted JSON.
func printJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// printError prints an error message, with the failure kind and
// transaction hash for deployment errors.
func printError(w io.Writer, err error) {
	var de *deployer.Error
	if !errors.As(err, &de) {
		_, _ = fmt.Fprintf(w, "%s %s\n", colorRed(w, "Error:"), err.Error())
		return
	}

	_, _ = fmt.Fprintf(w, "%s %s\n", colorRed(w, "Deployment failed:"), err.Error())
	_, _ = fmt.Fprintf(w, "  Kind: %s\n", de.Kind)
	if de.TxHash != (common.Hash{}) {
		_, _ = fmt.Fprintf(w, "  Transaction: %s\n", de.TxHash.Hex())
	}
	if de.Kind == deployer.KindConfirmationTimeout {
		_, _ = fmt.Fprintf(w, "  %s the transaction may still be mined; check it before deploying again\n", colorYellow(w, "Note:"))
	}
}

// newTable creates a new tabwriter for formatted output.
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// printTableHeader prints a bold header row.
func printTableHeader(w *tabwriter.Writer, out io.Writer, columns ...string) {
	for i, col := range columns {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, colorBold(out, col))
	}
	_, _ = fmt.Fprintln(w)
}

// Terminal colors

func colorRed(w io.Writer, s string) string {
	return colorize(w, "\033[31m", s)
}

func colorGreen(w io.Writer, s string) string {
	return colorize(w, "\033[32m", s)
}

func colorYellow(w io.Writer, s string) string {
	return colorize(w, "\033[33m", s)
}

func colorBold(w io.Writer, s string) string {
	return colorize(w, "\033[1m", s)
}

func colorize(w io.Writer, code, s string) string {
	if !isTerminal(w) {
		return s
	}
	return code + s + "\033[0m"
}

// isTerminal reports whether v is a file attached to a terminal.
func isTerminal(v interface{}) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
