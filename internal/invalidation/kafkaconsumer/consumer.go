// Package kafkaconsumer consumes catalog invalidation events and purges the
// search cache.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/wayfinder-foundry/stac-scope/internal/invalidation"
)

// Invalidator is the cache surface the consumer drives.
type Invalidator interface {
	InvalidateCollection(ctx context.Context, collection string) (int, error)
}

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

func DefaultConfig(brokers []string, topic, group string) Config {
	return Config{
		Brokers:             brokers,
		Topic:               topic,
		GroupID:             group,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: true,
	}
}

type Consumer struct {
	cfg    Config
	logger *zerolog.Logger
	cache  Invalidator
}

func New(cfg Config, logger *zerolog.Logger, cache Invalidator) *Consumer {
	return &Consumer{cfg: cfg, logger: logger, cache: cache}
}

// Start consumes invalidation events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil {
		return errors.New("kafkaconsumer: missing cache dependency")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{logger: c.logger, process: c.ProcessOne}

	if c.logger != nil {
		c.logger.Info().
			Strs("brokers", c.cfg.Brokers).
			Str("topic", c.cfg.Topic).
			Str("group", c.cfg.GroupID).
			Msg("invalidation consumer starting")
	}

	for {
		select {
		case <-ctx.Done():
			if c.logger != nil {
				c.logger.Info().Msg("invalidation consumer shutting down")
			}
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				if c.logger != nil {
					c.logger.Error().Err(err).
						Str("topic", c.cfg.Topic).
						Msg("consumer error")
				}
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne handles a single invalidation message.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("json decode (topic=%s, off=%d): %w", msg.Topic, msg.Offset, err)
	}
	if ev.Collection == "" {
		if c.logger != nil {
			c.logger.Debug().Str("op", ev.Op).Msg("invalidation event without collection, skipping")
		}
		return nil
	}

	n, err := c.cache.InvalidateCollection(ctx, ev.Collection)
	if err != nil {
		return fmt.Errorf("invalidate %q: %w", ev.Collection, err)
	}
	if c.logger != nil {
		c.logger.Info().
			Str("op", ev.Op).
			Str("collection", ev.Collection).
			Int("keys", n).
			Msg("processed invalidation event")
	}
	return nil
}
