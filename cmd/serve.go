package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"onboardr/internal/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and the orchestration system",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	c := bootstrap.NewContainer()
	c.MustInit()

	if err := c.Start(); err != nil {
		c.Shutdown()
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		c.Log.Infow("Shutdown signal received", "signal", sig.String())
	case <-c.Context.Done():
		c.Log.Warn("Fatal component error, shutting down")
	}

	c.Shutdown()
	return nil
}
