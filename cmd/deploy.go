package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Bidon15/popdeploy/internal/artifact"
	"github.com/Bidon15/popdeploy/internal/credential"
	"github.com/Bidon15/popdeploy/internal/deployer"
	"github.com/Bidon15/popdeploy/internal/gaslimit"
	"github.com/Bidon15/popdeploy/internal/metrics"
	"github.com/Bidon15/popdeploy/internal/network"
)

// pushTimeout bounds the metrics push after a run.
const pushTimeout = 10 * time.Second

var deployCmd = &cobra.Command{
	Use:   "deploy [NETWORK]",
	Short: "Deploy a compiled contract artifact",
	Long: `Deploy the contract in a compiled artifact (Hardhat or Foundry JSON) to a
network and wait for it to confirm.

The network can be given as an argument, with --network or in the config
file. Without --gas-limit the operator is asked for an optional gas limit
when stdin is a terminal; any answer that is not a positive integer uses
the network's gas estimate.`,
	Example: `  popdeploy deploy boba_sepolia --artifact artifacts/GameContract.json
  popdeploy deploy localhost --artifact out/Counter.sol/Counter.json --gas-limit 500000
  POPDEPLOY_NETWORK=boba_bnb_testnet popdeploy deploy --artifact GameContract.json --no-prompt --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeploy,
}

func init() {
	f := deployCmd.Flags()
	f.String("network", "", "target network (or POPDEPLOY_NETWORK)")
	f.String("artifact", "", "compiled contract artifact (or POPDEPLOY_ARTIFACT)")
	f.String("gas-limit", "", "gas limit override; anything but a positive integer means estimate")
	f.Bool("no-prompt", false, "never ask for a gas limit")
	f.Uint64("confirmations", deployer.DefaultConfirmations, "blocks required, including the inclusion block")
	f.Duration("dial-timeout", deployer.DefaultDialTimeout, "timeout for connecting to the network")
	f.Duration("request-timeout", deployer.DefaultRequestTimeout, "timeout for each balance, gas, fee and submission request")
	f.Duration("confirm-timeout", deployer.DefaultConfirmTimeout, "timeout for the transaction to confirm")
	f.Duration("poll-interval", deployer.DefaultPollInterval, "interval between confirmation checks")
	f.String("pushgateway", "", "Prometheus Pushgateway URL for run metrics")

	rootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		cfg.Network = args[0]
	}

	// Configuration problems are reported before any network round trip.
	target, err := cfg.SelectedNetwork()
	if err != nil {
		return deployer.NewError(deployer.KindConfiguration, "select network", err)
	}

	if cfg.Artifact == "" {
		return deployer.NewError(deployer.KindConfiguration, "load artifact",
			errors.New("no artifact given (use --artifact or POPDEPLOY_ARTIFACT)"))
	}
	art, err := artifact.Load(cfg.Artifact)
	if err != nil {
		return deployer.NewError(deployer.KindConfiguration, "load artifact", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cred, err := credential.NewLoader().Load(ctx, target.Credential)
	if err != nil {
		return deployer.NewError(deployer.KindInvalidCredential, "load credential", err)
	}

	gasLimit, err := resolveGasLimit(cmd)
	if err != nil {
		return err
	}

	if !jsonOut {
		_, _ = fmt.Fprintf(out, "Network:  %s\n", describeNetwork(target))
		_, _ = fmt.Fprintf(out, "Contract: %s\n", art.ContractName)
		_, _ = fmt.Fprintf(out, "Deployer: %s\n", cred.Address().Hex())
	}

	recorder := metrics.NewRecorder()
	dcfg := cfg.DeployerConfig()
	dcfg.Clients = clientFactory
	dcfg.Logger = logger
	dcfg.Observer = recorder

	res, deployErr := deployer.New(dcfg).Deploy(ctx, &deployer.Request{
		Artifact:   art,
		Network:    target,
		Credential: cred,
		GasLimit:   gasLimit,
	})

	pushMetrics(recorder)

	if deployErr != nil {
		return deployErr
	}

	if jsonOut {
		return printJSON(out, res)
	}
	printResult(out, target, res)
	return nil
}

// resolveGasLimit returns the configured override, prompting when allowed.
func resolveGasLimit(cmd *cobra.Command) (uint64, error) {
	if cfg.GasLimit != "" {
		limit, ok := gaslimit.Parse(cfg.GasLimit)
		if !ok {
			logger.Warn("ignoring gas limit that is not a positive integer, using estimate",
				slog.String("gas_limit", cfg.GasLimit))
		}
		return limit, nil
	}

	if cfg.NoPrompt || !canPrompt(cmd.InOrStdin()) {
		return 0, nil
	}

	limit, _, err := gaslimit.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout()).Ask()
	if err != nil {
		return 0, deployer.NewError(deployer.KindConfiguration, "read gas limit", err)
	}
	return limit, nil
}

// canPrompt reports whether in is interactive. Non-file readers are
// treated as interactive so scripted input can answer the prompt.
func canPrompt(in io.Reader) bool {
	if _, ok := in.(*os.File); ok {
		return isTerminal(in)
	}
	return in != nil
}

func pushMetrics(recorder *metrics.Recorder) {
	if cfg.Pushgateway == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	if err := recorder.Push(ctx, cfg.Pushgateway, metrics.DefaultJob); err != nil {
		logger.Warn("failed to push metrics", slog.String("error", err.Error()))
		return
	}
	logger.Debug("metrics pushed", slog.String("pushgateway", cfg.Pushgateway))
}

func describeNetwork(n network.Network) string {
	if n.ChainID == 0 {
		return n.Name
	}
	return fmt.Sprintf("%s (chain %d)", n.Name, n.ChainID)
}

func printResult(w io.Writer, n network.Network, res *deployer.Result) {
	source := "override"
	if res.GasEstimated {
		source = "estimated"
	}

	_, _ = fmt.Fprintf(w, "Transaction: %s\n", res.TransactionHash.Hex())
	_, _ = fmt.Fprintf(w, "Block:       %d\n", res.BlockNumber)
	_, _ = fmt.Fprintf(w, "Gas:         %d used of %d (%s)\n", res.GasUsed, res.GasLimit, source)
	_, _ = fmt.Fprintf(w, "%s %s deployed to %s\n", colorGreen(w, "✓"), res.Contract, res.ContractAddress.Hex())
	if res.ExplorerURL != "" {
		_, _ = fmt.Fprintf(w, "Explorer:    %s\n", res.ExplorerURL)
	}
	if txURL := n.TxURL(res.TransactionHash.Hex()); txURL != "" {
		_, _ = fmt.Fprintf(w, "             %s\n", txURL)
	}
}
