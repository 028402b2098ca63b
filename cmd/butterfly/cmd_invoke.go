package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/butterflyhq/butterfly/internal/function"
	"github.com/butterflyhq/butterfly/internal/server"
)

var invokePayload string

var invokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Run the serverless function once",
	Long: `Reads a request body from stdin, or takes it from --payload, runs the
function entry point and prints the JSON response. The exit status is non-zero
when the function returns a non-2xx status.`,
	Args: cobra.NoArgs,
	RunE: runInvoke,
}

func init() {
	invokeCmd.Flags().StringVar(&invokePayload, "payload", "", "request payload; stdin is read when empty")
}

func runInvoke(cmd *cobra.Command, _ []string) error {
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

	req := function.Request{Payload: invokePayload}
	if invokePayload == "" {
		if req.Body, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	}

	handler := function.NewHandler(comps.Pipeline,
		function.WithLogger(rt.Logger.Named("function")),
		function.WithTimeout(server.RequestTimeout(cfg)),
	)
	resp := handler.Handle(ctx, req)

	fmt.Fprintln(cmd.OutOrStdout(), string(resp.Body))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("function returned status %d", resp.StatusCode)
	}
	return nil
}
