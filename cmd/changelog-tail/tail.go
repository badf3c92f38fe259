package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/abd-ulbasit/loomdb/internal/config"
	"github.com/abd-ulbasit/loomdb/internal/metrics"
	"github.com/abd-ulbasit/loomdb/pkg/changelog"
	"github.com/abd-ulbasit/loomdb/pkg/changelog/kafka"
	"github.com/abd-ulbasit/loomdb/pkg/metadataclient"
)

func newTailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Subscribe to a store's change stream and print decoded events",
		RunE:  runTail,
	}
}

func runTail(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	kafkaConsumer, err := kafka.NewConsumer(kafka.Config{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		return fmt.Errorf("connecting to kafka: %w", err)
	}
	defer kafkaConsumer.Close()

	meta := metadataclient.New(metadataclient.Config{
		BaseURL: cfg.Metadata.BaseURL,
		Timeout: cfg.Metadata.Timeout,
	})

	dictReader := kafka.NewDictionaryReader(kafka.Config{Brokers: cfg.Kafka.Brokers})
	m := metrics.New(prometheus.DefaultRegisterer)

	consumerCfg := changelog.DefaultChangeConsumerConfig(cfg.Consumer.StoreName)
	consumerCfg.PollTimeout = cfg.Consumer.PollTimeout
	consumerCfg.RMDVersion = cfg.Consumer.RMDVersion
	consumerCfg.Logger = logger

	consumer, err := changelog.NewChangeConsumer(ctx, consumerCfg, kafkaConsumer, meta, dictReader, m)
	if err != nil {
		return fmt.Errorf("constructing consumer: %w", err)
	}
	defer consumer.Close(context.Background())

	if err := consumer.SubscribeAll(ctx); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}

	logger.Info("tailing change stream", "store", cfg.Consumer.StoreName, "consumer_id", consumer.ID())

	for ctx.Err() == nil {
		msgs, err := consumer.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("poll failed", "error", err)
			continue
		}
		for _, msg := range msgs {
			printChangeMessage(msg)
		}
	}
	return nil
}

func printChangeMessage(msg changelog.ChangeMessage) {
	line := map[string]any{
		"partition":  msg.Partition,
		"coordinate": msg.Coordinate.String(),
		"type":       msg.Event.Type.String(),
		"key":        string(msg.Event.Key),
		"value":      msg.Event.CurrentValue,
	}
	b, err := json.Marshal(line)
	if err != nil {
		return
	}
	fmt.Println(string(b))
}
