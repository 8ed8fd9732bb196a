// Package batch applies one remote action to each item of a selection, strictly in order,
// tolerating partial failure and stopping early once the observed failure rate gets too high.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/madcarpet/lessonadmin/internal/logger"
	"go.uber.org/zap"
)

const (
	DefaultMinSample      = 10
	DefaultMaxFailureRate = 0.20
	DefaultMaxErrors      = 10
	shortIDLen            = 8
)

type Options struct {
	// Limit caps how many items are attempted; the rest are skipped before processing starts. Zero means no cap.
	Limit int
	// Delay is slept between two consecutive calls only.
	Delay time.Duration
	// MinSample is how many items must be processed before the breaker may trip.
	MinSample int
	// MaxFailureRate trips the breaker when failed/processed is strictly greater.
	MaxFailureRate float64
	// MaxErrors bounds the error list.
	MaxErrors int
	// Name is used in logs.
	Name string
}

func (o Options) withDefaults() Options {
	if o.MinSample <= 0 {
		o.MinSample = DefaultMinSample
	}
	if o.MaxFailureRate <= 0 {
		o.MaxFailureRate = DefaultMaxFailureRate
	}
	if o.MaxErrors <= 0 {
		o.MaxErrors = DefaultMaxErrors
	}
	if o.Name == "" {
		o.Name = "batch"
	}
	return o
}

type Result struct {
	Total             int      `json:"total"`
	Success           int      `json:"success"`
	Failed            int      `json:"failed"`
	Skipped           int      `json:"skipped"`
	LimitSkipped      int      `json:"skipped_limit"`
	IneligibleSkipped int      `json:"skipped_ineligible"`
	Aborted           bool     `json:"aborted"`
	Errors            []string `json:"errors"`
}

// Attempted is the number of items the action actually ran for.
func (r Result) Attempted() int {
	return r.Success + r.Failed
}

// Exclude accounts for selected items that were filtered out before Run as ineligible.
func (r *Result) Exclude(n int) {
	r.Total += n
	r.Skipped += n
	r.IneligibleSkipped += n
}

// Action performs the remote write for one item.
type Action[T any] func(ctx context.Context, item T) error

// Run processes items in order. ID returns the identifier used to tag error messages.
// Cancelling ctx stops before the next item; the remaining items are reported as skipped.
func Run[T any](ctx context.Context, items []T, id func(T) string, action Action[T], opts Options) Result {
	opts = opts.withDefaults()
	res := Result{Total: len(items), Errors: []string{}}

	work := items
	if opts.Limit > 0 && len(work) > opts.Limit {
		res.LimitSkipped = len(work) - opts.Limit
		work = work[:opts.Limit]
	}

	for i, item := range work {
		if i > 0 && opts.Delay > 0 {
			if err := sleep(ctx, opts.Delay); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		if err := action(ctx, item); err != nil {
			res.Failed++
			if len(res.Errors) < opts.MaxErrors {
				res.Errors = append(res.Errors, fmt.Sprintf("[%s] %v", ShortID(id(item)), err))
			}
			logger.Log.Debug("batch item failed", zap.String("batch", opts.Name), zap.String("item", id(item)), zap.Error(err))
		} else {
			res.Success++
		}

		if tripped(res.Success+res.Failed, res.Failed, opts) {
			res.Aborted = true
			logger.Log.Warn("batch stopped by circuit breaker",
				zap.String("batch", opts.Name),
				zap.Int("processed", res.Success+res.Failed),
				zap.Int("failed", res.Failed),
				zap.Int("remaining", len(work)-i-1),
			)
			break
		}
	}

	res.Skipped = res.Total - res.Attempted()
	logger.Log.Info("batch finished",
		zap.String("batch", opts.Name),
		zap.Int("total", res.Total),
		zap.Int("success", res.Success),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Bool("aborted", res.Aborted),
	)
	return res
}

func tripped(processed, failed int, opts Options) bool {
	if processed < opts.MinSample {
		return false
	}
	return float64(failed)/float64(processed) > opts.MaxFailureRate
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ShortID returns the prefix used to tag an item in user-facing messages.
func ShortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}
