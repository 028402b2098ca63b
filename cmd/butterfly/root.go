package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/butterflyhq/butterfly/internal/server"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "butterfly",
	Short: "Reverse causal chain analysis for present-day events",
	Long: "Butterfly asks a language model how an event came about and checks\n" +
		"low-confidence steps of the chain against web search results.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(*cobra.Command, []string) {
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "butterfly.yaml", "path to the YAML config file")
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = server.Version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
