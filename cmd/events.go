package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"onboardr/internal/adapters/config"
	"onboardr/internal/adapters/kafka"
	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

var eventsTopic string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Tail orchestration events from Kafka",
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().StringVar(&eventsTopic, "topic", "", "topic to read (default: KAFKA_EVENTS_TOPIC)")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.Kafka.Enabled() {
		return errors.Wrap(errors.ErrConfig, "KAFKA_BROKERS is not set")
	}
	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	topic := eventsTopic
	if topic == "" {
		topic = cfg.Kafka.Topic
	}

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   topic,
	})
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = consumer.Consume(ctx, func(_ context.Context, rec kafka.Record) error {
		line := fmt.Sprintf("%s  %-18s %-12s", rec.Time().Format(time.RFC3339), rec.Type, rec.AgentID)
		if rec.Error != "" {
			line += "  error=" + rec.Error
		} else if len(rec.Data) > 0 {
			line += "  " + string(rec.Data)
		}
		fmt.Println(line)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
