package cmd

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/spf13/cobra"

	"github.com/Trustflow-Network-Labs/dht-get-peers/internal/p2p"
	"github.com/Trustflow-Network-Labs/dht-get-peers/internal/utils"
)

var (
	bootstrapNodes []string
	receiveTimeout time.Duration
	maxRounds      int
	showStats      bool
)

func newGetPeersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get-peers <info-hash>",
		Short: "Look up peers for a 40 character hex info-hash",
		Long: `Look up peers for a torrent info-hash and print one ip:port per line.

Bootstrap nodes come from dht_bootstrap_nodes unless --bootstrap is given.
An empty result means the DHT had no peers for the info-hash.`,
		Aliases: []string{"peers", "lookup"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			infoHash, err := parseInfoHash(args[0])
			if err != nil {
				return err
			}

			lookupConfig, err := lookupConfigFromFlags(cmd, config)
			if err != nil {
				return err
			}

			// Interrupts only stop bootstrap resolution; the round loop itself runs to completion
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lookup := p2p.NewLookup(lookupConfig, logger)
			bootstrap, err := lookup.Bootstrap(ctx)
			if err != nil {
				logger.Error(fmt.Sprintf("Bootstrap resolution failed: %v", err), "cli")
				return err
			}

			peers, stats, err := lookup.Run(infoHash, bootstrap)
			if err != nil {
				logger.Error(fmt.Sprintf("Lookup failed: %v", err), "cli")
				return err
			}

			printPeers(cmd.OutOrStdout(), peers)
			if showStats {
				fmt.Fprintf(cmd.ErrOrStderr(), "rounds=%d sent=%d replies=%d discarded=%d visited=%d capped=%v\n",
					stats.Rounds, stats.Sent, stats.Replies, stats.Discarded, stats.Visited, stats.Capped)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&bootstrapNodes, "bootstrap", "b", nil, "bootstrap host:port, repeatable (overrides dht_bootstrap_nodes)")
	cmd.Flags().DurationVarP(&receiveTimeout, "timeout", "t", p2p.DefaultReceiveTimeout, "per-receive timeout, must be positive")
	cmd.Flags().IntVar(&maxRounds, "max-rounds", 0, "stop after this many rounds, 0 = unlimited")
	cmd.Flags().BoolVar(&showStats, "stats", false, "print lookup statistics to stderr")
	return cmd
}

// lookupConfigFromFlags writes the command line overrides into the config, then reads the dht_* keys
func lookupConfigFromFlags(cmd *cobra.Command, cm *utils.ConfigManager) (p2p.LookupConfig, error) {
	flags := cmd.Flags()

	if flags.Changed("timeout") {
		if receiveTimeout <= 0 {
			return p2p.LookupConfig{}, fmt.Errorf("--timeout must be positive, got %v", receiveTimeout)
		}
		cm.SetConfig("dht_receive_timeout", receiveTimeout)
	}
	if flags.Changed("max-rounds") {
		if maxRounds < 0 || maxRounds > p2p.MaxRoundsLimit {
			return p2p.LookupConfig{}, fmt.Errorf("--max-rounds must be between 0 and %d, got %d", p2p.MaxRoundsLimit, maxRounds)
		}
		cm.SetConfig("dht_max_rounds", maxRounds)
	}
	if len(bootstrapNodes) > 0 {
		cm.SetConfig("dht_bootstrap_nodes", strings.Join(bootstrapNodes, ","))
	}

	return p2p.LookupConfigFromManager(cm), nil
}

func parseInfoHash(s string) (p2p.NodeID, error) {
	var h metainfo.Hash
	if err := h.FromHexString(s); err != nil {
		return p2p.NodeID{}, fmt.Errorf("invalid info-hash %q: %w", s, err)
	}
	return p2p.NodeID(h), nil
}

func printPeers(w io.Writer, peers []netip.AddrPort) {
	for _, peer := range peers {
		fmt.Fprintln(w, peer.String())
	}
}

func init() {
	rootCmd.AddCommand(newGetPeersCmd())
}
