package kafka

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message is fully processed and its offset may be committed.
// Wrap an error with backoff.Permanent to skip retries (e.g. undecodable payloads).
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r        *kafka.Reader
	workers  int
	maxTries uint
	log      *slog.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:        r,
		workers:  workers,
		maxTries: 5,
		log:      slog.Default().With("component", "kafka-consumer", "topic", topic, "group", group),
	}
}

// Start consumes until ctx is cancelled. Messages with the same key always go to
// the same worker, so events of one order are handled in offset order. Offsets
// are committed in fetch order once every earlier message has finished.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()
	return c.run(ctx, c.r.FetchMessage, func(ctx context.Context, m kafka.Message) error {
		return c.r.CommitMessages(ctx, m)
	}, h)
}

type inflight struct {
	m    kafka.Message
	done chan bool // true when the offset may be committed
}

// workerFor picks the worker for a message; keyless messages stay with their partition.
func workerFor(m kafka.Message, n int) int {
	if n <= 1 {
		return 0
	}
	if len(m.Key) == 0 {
		return m.Partition % n
	}
	h := fnv.New32a()
	_, _ = h.Write(m.Key)
	return int(h.Sum32() % uint32(n))
}

func (c *Consumer) run(ctx context.Context,
	fetch func(context.Context) (kafka.Message, error),
	commit func(context.Context, kafka.Message) error,
	h Handler,
) error {
	queues := make([]chan inflight, c.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan inflight, 128)
		wg.Add(1)
		go func(q <-chan inflight) {
			defer wg.Done()
			for f := range q {
				f.done <- c.process(ctx, h, f.m)
			}
		}(queues[i])
	}

	pending := make(chan inflight, 1024)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for f := range pending {
			ok := <-f.done
			if !ok || ctx.Err() != nil {
				// leave this offset and every later one uncommitted for redelivery
				for range pending {
				}
				return
			}
			if err := commit(ctx, f.m); err != nil && ctx.Err() == nil {
				c.log.Error("commit failed", "partition", f.m.Partition, "offset", f.m.Offset, "err", err)
			}
		}
	}()

	stop := func() {
		close(pending)
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}

	for {
		m, err := fetch(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		f := inflight{m: m, done: make(chan bool, 1)}
		select {
		case pending <- f:
		case <-ctx.Done():
			stop()
			return nil
		}
		select {
		case queues[workerFor(m, c.workers)] <- f:
		case <-ctx.Done():
			f.done <- false
			stop()
			return nil
		}
	}
}

// process runs h with retries. It reports whether the offset may be committed:
// after success, or after giving up so one poison message cannot stall the partition.
func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) bool {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, h(ctx, m)
	},
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     200 * time.Millisecond,
			RandomizationFactor: 0.5,
			Multiplier:          2,
			MaxInterval:         5 * time.Second,
		}),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		c.log.Error("handler failed, skipping message",
			"partition", m.Partition, "offset", m.Offset, "err", err)
	}
	return true
}
