package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"onboardr/internal/adapters/restclient"
	"onboardr/internal/orchestration"
)

const requestTimeout = 2 * time.Minute

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the agents of a running server",
	RunE:  runStatus,
}

var refreshAgent string

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one agent now (data preload by default)",
	RunE:  runRefresh,
}

func init() {
	refreshCmd.Flags().StringVar(&refreshAgent, "agent", "", "agent id to run")
	rootCmd.AddCommand(statusCmd, refreshCmd)
}

type envelope[T any] struct {
	Status  string `json:"status"`
	Data    T      `json:"data"`
	Message string `json:"message"`
}

func apiClient() *restclient.Client {
	return restclient.New("onboardr", serverAddr, requestTimeout)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	var resp envelope[orchestration.Status]
	if err := apiClient().Get(ctx, "/api/orchestration/status", &resp); err != nil {
		return err
	}
	printStatus(resp.Data)
	return nil
}

func printStatus(st orchestration.Status) {
	fmt.Printf("running: %t  relay: %t  uptime: %s\n",
		st.Running, st.Connected, (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
	fmt.Printf("runs: %s  errors: %s  active: %d\n\n",
		humanize.Comma(st.TotalRuns), humanize.Comma(st.Errors), st.ActiveAgents)

	ids := make([]string, 0, len(st.Agents))
	for id := range st.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tPRIORITY\tSTATE\tRUNS\tERRORS\tLAST RUN\tNEXT RUN")
	for _, id := range ids {
		a := st.Agents[id]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Priority, a.State,
			humanize.Comma(a.RunCount), humanize.Comma(a.ErrorCount),
			relative(a.LastRun), relative(a.NextRun),
		)
	}
	_ = w.Flush()
}

func relative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return humanize.Time(*t)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	var resp envelope[struct {
		Success   bool  `json:"success"`
		Duration  int64 `json:"duration"`
		Timestamp int64 `json:"timestamp"`
	}]
	body := map[string]string{"agentId": refreshAgent}
	if err := apiClient().Post(ctx, "/api/orchestration/refresh", body, &resp); err != nil {
		return err
	}

	agent := refreshAgent
	if agent == "" {
		agent = orchestration.DataPreloadAgentID
	}
	fmt.Printf("%s refreshed in %s\n", agent, time.Duration(resp.Data.Duration)*time.Millisecond)
	return nil
}
