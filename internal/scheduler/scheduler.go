package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Scheduler holds one durable timer per job in a Redis sorted set. The
// member is the job id, the score is the Unix-millisecond wake time, so
// re-arming a job simply moves its single timer. The pump loop pops due
// entries and hands them to the wake handler.
const timersKey = "scheduler:timers"

// WakeFunc advances one job when its timer fires.
type WakeFunc func(ctx context.Context, jobID uuid.UUID)

type Scheduler struct {
	client       *redis.Client
	pollInterval time.Duration
	concurrency  int
}

func New(redisURL string, pollInterval time.Duration, concurrency int) (*Scheduler, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Scheduler{client: client, pollInterval: pollInterval, concurrency: concurrency}, nil
}

func (s *Scheduler) Close() error {
	return s.client.Close()
}

// ArmAt sets the job's wake time, replacing any earlier timer for the same
// job. One job, one timer.
func (s *Scheduler) ArmAt(ctx context.Context, jobID uuid.UUID, at time.Time) error {
	err := s.client.ZAdd(ctx, timersKey, &redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: jobID.String(),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to arm timer: %w", err)
	}
	return nil
}

// Disarm removes the job's timer if present.
func (s *Scheduler) Disarm(ctx context.Context, jobID uuid.UUID) error {
	if err := s.client.ZRem(ctx, timersKey, jobID.String()).Err(); err != nil {
		return fmt.Errorf("failed to disarm timer: %w", err)
	}
	return nil
}

// popDue atomically removes and returns all timers due at or before now.
// ZPOPMIN-style batching via a transaction keeps two pump instances from
// double-firing the same timer.
func (s *Scheduler) popDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	max := fmt.Sprintf("%d", now.UnixMilli())

	var members []string
	txf := func(tx *redis.Tx) error {
		due, err := tx.ZRangeByScore(ctx, timersKey, &redis.ZRangeBy{
			Min: "-inf",
			Max: max,
		}).Result()
		if err != nil {
			return err
		}
		if len(due) == 0 {
			members = nil
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			args := make([]interface{}, len(due))
			for i, m := range due {
				args[i] = m
			}
			pipe.ZRem(ctx, timersKey, args...)
			return nil
		})
		if err == nil {
			members = due
		}
		return err
	}

	// Retry once on watch conflict; the next pump tick catches anything left.
	for i := 0; i < 2; i++ {
		err := s.client.Watch(ctx, txf, timersKey)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to pop due timers: %w", err)
		}
		break
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			log.Printf("[Scheduler] Dropping malformed timer member %q", m)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Run pumps due timers into wake until ctx is cancelled. Wake-ups run
// concurrently with a bounded group; a slow job does not stall the rest.
func (s *Scheduler) Run(ctx context.Context, wake WakeFunc) error {
	log.Printf("[Scheduler] Pump started (interval=%s, concurrency=%d)", s.pollInterval, s.concurrency)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Scheduler] Pump stopped")
			return ctx.Err()
		case now := <-ticker.C:
			ids, err := s.popDue(ctx, now)
			if err != nil {
				log.Printf("[Scheduler] Failed to pop timers: %v", err)
				continue
			}
			if len(ids) == 0 {
				continue
			}

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(s.concurrency)
			for _, id := range ids {
				id := id
				g.Go(func() error {
					wake(gctx, id)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				log.Printf("[Scheduler] Wake batch error: %v", err)
			}
		}
	}
}
