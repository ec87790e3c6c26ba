package coremain

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pmkol/sharedlist/mlog"
	"github.com/pmkol/sharedlist/pkg/queue"
)

type BenchResult struct {
	Items    int
	Duration time.Duration
}

// Throughput is items per second.
func (r BenchResult) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Items) / r.Duration.Seconds()
}

func newBenchCmd() *cobra.Command {
	var (
		c       string
		timeout time.Duration
		flags   BenchConfig
	)
	cmd := &cobra.Command{
		Use:   "bench [-c config_file]",
		Short: "Run a producer/consumer benchmark against an in-process queue.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfigWithInclude(c)
			if err != nil {
				return err
			}
			bc := cfg.Bench
			fs := cmd.Flags()
			if fs.Changed("producers") {
				bc.Producers = flags.Producers
			}
			if fs.Changed("consumers") {
				bc.Consumers = flags.Consumers
			}
			if fs.Changed("items") {
				bc.Items = flags.Items
			}
			if fs.Changed("max-len") {
				bc.MaxLen = flags.MaxLen
			}
			bc.setDefaults()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			res, err := runBench(ctx, bc, mlog.L())
			if err != nil {
				return fmt.Errorf("bench failed, %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d items in %s, %.0f items/s\n", res.Items, res.Duration, res.Throughput())
			return nil
		},
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}
	fs := cmd.Flags()
	fs.StringVarP(&c, "config", "c", "", "config file")
	fs.IntVarP(&flags.Producers, "producers", "p", 0, "number of producers")
	fs.IntVarP(&flags.Consumers, "consumers", "n", 0, "number of consumers")
	fs.IntVarP(&flags.Items, "items", "i", 0, "items pushed by each producer")
	fs.IntVar(&flags.MaxLen, "max-len", 0, "queue capacity, 0 means unbounded")
	fs.DurationVar(&timeout, "timeout", 0, "abort the bench after this duration")
	return cmd
}

// runBench pushes cfg.Items values from each producer and pops them with
// cfg.Consumers consumers. Every value must be popped exactly once.
func runBench(ctx context.Context, cfg BenchConfig, lg *zap.Logger) (BenchResult, error) {
	total := cfg.Producers * cfg.Items
	q := queue.New[int](cfg.MaxLen)
	seen := make([]atomic.Bool, total)
	var popped atomic.Int64

	lg.Info("bench started",
		zap.Int("producers", cfg.Producers),
		zap.Int("consumers", cfg.Consumers),
		zap.Int("items", total),
		zap.Int("max_len", cfg.MaxLen),
	)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	var producers errgroup.Group
	for p := 0; p < cfg.Producers; p++ {
		producers.Go(func() error {
			for i := 0; i < cfg.Items; i++ {
				if err := benchPush(gctx, q, p*cfg.Items+i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer q.Close()
		return producers.Wait()
	})

	for c := 0; c < cfg.Consumers; c++ {
		g.Go(func() error {
			for {
				v, err := q.Pop(gctx)
				if err != nil {
					if errors.Is(err, queue.ErrClosed) {
						return nil
					}
					return err
				}
				if v < 0 || v >= total {
					return fmt.Errorf("unexpected item %d", v)
				}
				if seen[v].Swap(true) {
					return fmt.Errorf("item %d popped twice", v)
				}
				popped.Add(1)
			}
		})
	}

	if err := g.Wait(); err != nil {
		return BenchResult{}, err
	}
	res := BenchResult{Items: total, Duration: time.Since(start)}

	if n := popped.Load(); n != int64(total) {
		return res, fmt.Errorf("%d of %d items missing", int64(total)-n, total)
	}
	lg.Info("bench done",
		zap.Int("items", res.Items),
		zap.Duration("duration", res.Duration),
		zap.Float64("items_per_sec", res.Throughput()),
	)
	return res, nil
}

// benchPush retries v until the queue has room.
func benchPush(ctx context.Context, q *queue.Queue[int], v int) error {
	for {
		err := q.Push(v)
		if !errors.Is(err, queue.ErrFull) {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
}
