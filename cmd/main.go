package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"onboardr/internal/bootstrap"
)

var serverAddr string

var rootCmd = &cobra.Command{
	Use:   "onboardr",
	Short: "Soroswap and DeFindex orchestration service",
	Long: "onboardr runs the data preload, trading, analytics and alert agents that keep " +
		"Stellar DeFi market data fresh for the UI, and exposes them over HTTP.",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(bootstrap.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "http://localhost:8080", "address of a running onboardr server")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
