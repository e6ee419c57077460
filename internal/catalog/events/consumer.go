package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/spatial-filter/internal/core/observability"
)

// Handler applies one change made by another instance.
type Handler func(ctx context.Context, ev Event) error

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	// GroupID must be unique per instance; every instance needs every event.
	GroupID string
	// Origin of this instance. Its own events are skipped.
	Origin string
	// Group limits the consumer to one catalog group. Empty accepts all.
	Group          string
	SessionTimeout time.Duration
}

type Consumer struct {
	log      *slog.Logger
	cfg      ConsumerConfig
	handle   Handler
	seen     *lastSeen
	assigned atomic.Bool
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func NewConsumer(cfg ConsumerConfig, h Handler, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "spatialfilter-" + cfg.Origin
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	return &Consumer{log: logger, cfg: cfg, handle: h, seen: newLastSeen(4096)}
}

// Start joins the consumer group and consumes until ctx ends or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	if c.handle == nil {
		return errors.New("events consumer: handler is required")
	}
	scfg := sarama.NewConfig()
	scfg.Version = sarama.V2_5_0_0
	scfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	scfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	scfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, scfg)
	if err != nil {
		return fmt.Errorf("events consumer group: %w", err)
	}
	c.run(ctx, group)
	c.log.Info("catalog events consumer started",
		"topic", c.cfg.Topic, "group_id", c.cfg.GroupID, "brokers", c.cfg.Brokers)
	return nil
}

func (c *Consumer) run(ctx context.Context, group sarama.ConsumerGroup) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	h := &groupHandler{
		setup:   func(sarama.ConsumerGroupSession) { c.assigned.Store(true) },
		cleanup: func(sarama.ConsumerGroupSession) { c.assigned.Store(false) },
		process: c.handleMessage,
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				c.log.Error("events consumer group close", "err", err)
			}
		}()
		for {
			if err := group.Consume(ctx, []string{c.cfg.Topic}, h); err != nil {
				c.log.Error("events consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range group.Errors() {
			c.log.Error("events group error", "err", err)
		}
	}()
}

func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.log.Info("catalog events consumer stopped")
}

// Assigned reports whether the consumer currently holds a partition claim.
func (c *Consumer) Assigned() bool {
	return c.assigned.Load()
}

// handleMessage drops undecodable, foreign and stale events. Only handler
// errors are returned, which makes the session retry the message.
func (c *Consumer) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.Name == "" {
		c.log.Warn("skipping undecodable catalog event", "offset", msg.Offset, "err", err)
		observability.ObserveCatalogEvent("error")
		return nil
	}
	if ev.TS.IsZero() {
		ev.TS = msg.Timestamp
	}
	if !ev.TS.IsZero() {
		observability.SetCatalogEventLagSeconds(time.Since(ev.TS).Seconds())
	}

	if (c.cfg.Origin != "" && ev.Origin == c.cfg.Origin) ||
		(c.cfg.Group != "" && ev.Group != c.cfg.Group) ||
		!c.seen.newer(ev.Name, ev.TS) {
		observability.ObserveCatalogEvent("skipped")
		return nil
	}

	if err := c.handle(ctx, ev); err != nil {
		observability.ObserveCatalogEvent("error")
		return fmt.Errorf("apply %s %q: %w", ev.Op, ev.Name, err)
	}
	observability.ObserveCatalogEvent("applied")
	return nil
}

// lastSeen remembers the newest event time per entry name.
type lastSeen struct {
	mu  sync.Mutex
	lru *lru.Cache[string, int64]
}

func newLastSeen(size int) *lastSeen {
	c, _ := lru.New[string, int64](size)
	return &lastSeen{lru: c}
}

// newer reports whether ts is later than anything seen for name. Events
// without a time are always applied.
func (s *lastSeen) newer(name string, ts time.Time) bool {
	if ts.IsZero() {
		return true
	}
	v := ts.UnixNano()
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lru.Get(name); ok && v <= last {
		return false
	}
	s.lru.Add(name, v)
	return true
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
