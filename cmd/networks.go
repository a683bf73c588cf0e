package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bidon15/popdeploy/internal/network"
)

var networksCmd = &cobra.Command{
	Use:     "networks",
	Aliases: []string{"network", "net"},
	Short:   "Inspect configured networks",
}

var networksListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List configured networks",
	Args:    cobra.NoArgs,
	RunE:    runNetworksList,
}

var networksShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show one network",
	Args:  cobra.ExactArgs(1),
	RunE:  runNetworksShow,
}

func init() {
	networksCmd.AddCommand(networksListCmd)
	networksCmd.AddCommand(networksShowCmd)
	rootCmd.AddCommand(networksCmd)
}

// networkView is the JSON form of a network.
type networkView struct {
	Name       string            `json:"name"`
	URL        string            `json:"url"`
	Endpoint   string            `json:"endpoint"`
	URLEnv     string            `json:"urlEnv,omitempty"`
	ChainID    uint64            `json:"chainId,omitempty"`
	Credential string            `json:"credential"`
	Explorer   *network.Explorer `json:"explorer,omitempty"`
}

func newNetworkView(n network.Network) networkView {
	return networkView{
		Name:       n.Name,
		URL:        n.URL,
		Endpoint:   n.Endpoint(),
		URLEnv:     n.URLEnv,
		ChainID:    n.ChainID,
		Credential: n.Credential,
		Explorer:   n.Explorer,
	}
}

func runNetworksList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	names := cfg.Networks.Names()
	if jsonOut {
		views := make([]networkView, 0, len(names))
		for _, name := range names {
			n, _ := cfg.Networks.Lookup(name)
			views = append(views, newNetworkView(n))
		}
		return printJSON(out, views)
	}

	w := newTable(out)
	printTableHeader(w, out, "NAME", "CHAIN ID", "ENDPOINT", "CREDENTIAL")
	for _, name := range names {
		n, _ := cfg.Networks.Lookup(name)
		chainID := "-"
		if n.ChainID != 0 {
			chainID = fmt.Sprintf("%d", n.ChainID)
		}
		marker := ""
		if name == cfg.Network {
			marker = " *"
		}
		_, _ = fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\n", name, marker, chainID, n.Endpoint(), n.Credential)
	}
	return w.Flush()
}

func runNetworksShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	n, err := cfg.Networks.Lookup(args[0])
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(out, newNetworkView(n))
	}

	_, _ = fmt.Fprintf(out, "Name:        %s\n", n.Name)
	_, _ = fmt.Fprintf(out, "Endpoint:    %s\n", n.Endpoint())
	if n.URLEnv != "" {
		_, _ = fmt.Fprintf(out, "Override:    $%s\n", n.URLEnv)
	}
	if n.ChainID != 0 {
		_, _ = fmt.Fprintf(out, "Chain ID:    %d\n", n.ChainID)
	} else {
		_, _ = fmt.Fprintf(out, "Chain ID:    %s\n", colorYellow(out, "(not checked)"))
	}
	_, _ = fmt.Fprintf(out, "Credential:  %s\n", n.Credential)
	if n.Explorer != nil {
		_, _ = fmt.Fprintf(out, "Explorer:    %s\n", n.Explorer.BrowserURL)
		_, _ = fmt.Fprintf(out, "Explorer API: %s\n", n.Explorer.APIURL)
	}
	return nil
}
