// Package checker runs one check-and-notify cycle over a product list.
//
// Every product gets its own supervised task; the run waits for all of them
// and returns a Summary. Per-product failures never fail the run.
package checker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"restock/internal/fetch"
	"restock/internal/notifier"
	"restock/internal/product"
	"restock/internal/runtime/supervisor"
	"restock/internal/storage"
	"restock/internal/stores"
	logx "restock/pkg/logx"
)

// Fetcher retrieves a product page.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (fetch.Page, error)
}

// Checker is safe for overlapping Runs. It adds no locking of its own:
// dedup correctness comes from the Store.
type Checker struct {
	Registry *stores.Registry
	Fetcher  Fetcher
	Store    storage.Store
	Notifier notifier.Notifier
	Log      logx.Logger

	// MaxConcurrency bounds in-flight product tasks. 0 means unbounded.
	MaxConcurrency int
}

// Run checks every product and blocks until all of them reach an Outcome.
func (c *Checker) Run(ctx context.Context, products []product.Product) Summary {
	log := c.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	sum := Summary{RunID: uuid.NewString(), Start: time.Now(), Results: make([]Result, len(products))}
	log = log.With(logx.String("comp", "checker"), logx.String("run_id", sum.RunID))
	log.Info("run started", logx.Int("products", len(products)))

	var sem chan struct{}
	if c.MaxConcurrency > 0 {
		sem = make(chan struct{}, c.MaxConcurrency)
	}

	sup := supervisor.New(ctx, supervisor.WithLogger(log))
	for i, p := range products {
		sum.Results[i] = Result{Product: p}
		plog := log.With(logx.String("product", p.Label()), logx.String("domain", p.Domain()), logx.String("key", p.Key()))
		res := &sum.Results[i]
		sup.GoWithRecover("check:"+p.Domain(), func(ctx context.Context) error {
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					*res = Result{Product: p, Outcome: Cancelled, Err: ctx.Err()}
					return nil
				}
			}
			*res = c.check(ctx, p, plog)
			plog.Debug("product checked", logx.String("outcome", res.Outcome.String()))
			return nil
		}, func(err error) {
			*res = Result{Product: p, Outcome: Panicked, Err: err}
		})
	}
	// Tasks return on ctx cancellation, so this join always ends.
	_ = sup.Wait(context.Background())
	sup.Cancel()

	sum.End = time.Now()
	fields := []logx.Field{logx.Duration("took", sum.Duration())}
	counts := sum.Counts()
	for o := range Outcome(len(outcomeNames)) {
		if n := counts[o]; n > 0 {
			fields = append(fields, logx.Int(o.String(), n))
		}
	}
	log.Info("run finished", fields...)
	return sum
}

func (c *Checker) check(ctx context.Context, p product.Product, log logx.Logger) Result {
	res := func(o Outcome, err error) Result { return Result{Product: p, Outcome: o, Err: err} }
	cancelled := func(err error) (Result, bool) {
		if ctx.Err() != nil {
			return res(Cancelled, errors.Join(ctx.Err(), err)), true
		}
		return Result{}, false
	}

	cls, err := c.Registry.Resolve(p.Domain())
	if err != nil {
		log.Warn("no classifier registered for store", logx.Err(err))
		return res(Unsupported, err)
	}

	page, err := c.Fetcher.Fetch(ctx, p.URL)
	if err != nil {
		if r, ok := cancelled(err); ok {
			return r
		}
		log.Warn("fetch failed", logx.Err(err))
		return res(FetchFailed, err)
	}

	inStock, err := stores.Classify(cls, page)
	if err != nil {
		log.Error("classifier domain mismatch", logx.Err(err))
		return res(Misconfigured, err)
	}
	if !inStock {
		return res(NotInStock, nil)
	}

	sent, err := c.Store.HasNotified(ctx, storage.Record{Key: p.Key(), ProductName: p.Name, URL: p.URL})
	if err != nil {
		if r, ok := cancelled(err); ok {
			return r
		}
		log.Error("dedup lookup failed", logx.Err(err))
		return res(StoreFailed, err)
	}
	if sent {
		log.Debug("already notified")
		return res(AlreadyNotified, nil)
	}

	if err := c.Notifier.Send(ctx, p); err != nil {
		if r, ok := cancelled(err); ok {
			return r
		}
		log.Error("notification failed", logx.Err(err))
		return res(SendFailed, err)
	}

	// Delivered. Record it even if ctx was cancelled meanwhile.
	if err := c.Store.MarkSent(context.WithoutCancel(ctx), p.Key()); err != nil {
		log.Error("mark sent failed", logx.Err(err))
		return res(MarkFailed, err)
	}
	log.Info("in stock notification sent")
	return res(Notified, nil)
}
