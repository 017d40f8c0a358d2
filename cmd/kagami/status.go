package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/kagami/internal/cli"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var (
		serverURL string
		output    string
		noLoad    bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show encoder and index state",
		Long:  "Report health, model and index information, either of a running server (--server) or of an in-process instance.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			var st *cli.Status
			if serverURL != "" {
				st, err = cli.NewClient(serverURL, 0).Status(ctx)
			} else {
				st, err = localStatus(ctx, cmd, !noLoad)
			}
			if err != nil {
				return err
			}
			return cli.WriteStatus(cmd.OutOrStdout(), st, format)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "query a running server at this URL")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, compact, json")
	cmd.Flags().BoolVar(&noLoad, "no-load", false, "do not fetch the index before reporting")
	return cmd
}

func localStatus(ctx context.Context, cmd *cobra.Command, load bool) (*cli.Status, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := newQuietLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	c := wire(cfg, logger, nil)
	defer c.Close()
	if load {
		if err := c.loader.Reload(ctx); err != nil {
			return nil, err
		}
	}

	st := &cli.Status{Health: c.service.Health()}
	if info, err := c.service.ModelInfo(); err == nil {
		st.Model = info
	}
	if info, err := c.service.IndexInfo(); err == nil {
		st.Index = info
	}
	return st, nil
}
