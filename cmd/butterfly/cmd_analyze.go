package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/butterflyhq/butterfly/internal/api"
	"github.com/butterflyhq/butterfly/internal/server"
	"github.com/butterflyhq/butterfly/pkg/types"
)

var (
	analyzePerspective string
	analyzeDetailLevel int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <event>",
	Short: "Analyze one event and print the causal chain as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzePerspective, "perspective", types.DefaultPerspective, "analysis perspective")
	analyzeCmd.Flags().IntVar(&analyzeDetailLevel, "detail-level", types.DefaultDetailLevel, "detail level (1-10)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := server.LoadRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Logger.Sync() }()

	cfg := rt.Config.Get(ctx)
	comps, err := server.NewComponents(ctx, cfg, rt.Logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, server.RequestTimeout(cfg))
	defer cancel()

	event := strings.TrimSpace(strings.Join(args, " "))
	level := types.ClampDetailLevel(analyzeDetailLevel)
	resp, err := comps.Pipeline.Analyze(ctx, event, analyzePerspective, level)
	if err != nil {
		return fmt.Errorf("%s", api.ErrorMessage(err))
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
