package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cordum/oncebox/core/infra/buildinfo"
	"github.com/cordum/oncebox/sdk/client"
	"github.com/spf13/cobra"
)

const (
	defaultAddress = "http://localhost:3000"
	envAddress     = "ONCEBOX_ADDRESS"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type clientConfig struct {
	address string
}

func (c *clientConfig) newClient() *client.Client {
	return client.New(strings.TrimRight(c.address, "/"))
}

func newRootCommand() *cobra.Command {
	cfg := &clientConfig{}
	cmd := &cobra.Command{
		Use:           "oncectl",
		Short:         "Send and receive burn-after-read messages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfg.address, "address", envOr(envAddress, defaultAddress), "oncebox server address")

	cmd.AddCommand(sendCommand(cfg))
	cmd.AddCommand(receiveCommand())
	cmd.AddCommand(versionCommand())
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.Info())
			return nil
		},
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
