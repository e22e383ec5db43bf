package repair

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"

	"github.com/devicelab-dev/xpath-healer/pkg/core"
	"github.com/devicelab-dev/xpath-healer/pkg/logger"
)

// Runner defaults.
const (
	DefaultChunkSize  = 10
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 30 * time.Second
)

// RunnerOptions configures a Runner. Zero values take defaults.
type RunnerOptions struct {
	ChunkSize   int
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Concurrency int
	// RequestsPerSecond paces every attempt, retries included. Zero
	// disables pacing.
	RequestsPerSecond float64
}

func (o *RunnerOptions) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
}

// Runner sends ready groups to the repair client chunk by chunk.
type Runner struct {
	client  Client
	decoder *Decoder
	opts    RunnerOptions
	limiter *rate.Limiter
}

// NewRunner creates a Runner.
func NewRunner(client Client, decoder *Decoder, opts RunnerOptions) *Runner {
	opts.applyDefaults()
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Runner{
		client:  client,
		decoder: decoder,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Run processes every ready group. Groups in other states are left alone.
// Each group ends complete, or error when ctx is cancelled before it finishes.
func (r *Runner) Run(ctx context.Context, groups []*Group) {
	queue := make(chan *Group, len(groups))
	for _, g := range groups {
		if g.Status.Runnable() {
			queue <- g
		}
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < r.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for g := range queue {
				r.runGroup(ctx, g)
			}
		}()
	}
	wg.Wait()
}

func (r *Runner) runGroup(ctx context.Context, g *Group) {
	if err := ctx.Err(); err != nil {
		g.Status = StatusError
		g.Err = err
		return
	}

	start := time.Now()
	repairs := make([]ElementRepair, 0, len(g.Elements))
	for _, chunk := range chunkElements(g.Elements, r.opts.ChunkSize) {
		repairs = append(repairs, r.runChunk(ctx, g, chunk)...)
		if err := ctx.Err(); err != nil {
			g.Repairs = repairs
			g.Status = StatusError
			g.Err = err
			return
		}
	}
	g.Repairs = repairs
	g.Status = StatusComplete
	logger.Info("repair group %s: %d elements in %s", g.Key, len(g.Elements), time.Since(start).Round(time.Millisecond))
}

// runChunk calls the client with retries. When every attempt fails the
// chunk gets placeholder answers instead of an error.
func (r *Runner) runChunk(ctx context.Context, g *Group, chunk []ElementRequest) []ElementRepair {
	req := Request{
		Screenshot: g.Screenshot,
		XML:        g.XML,
		Elements:   chunk,
		Platform:   g.Key.Platform,
	}

	var raw []byte
	attempt := 0
	op := func() error {
		attempt++
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		body, err := r.client.Repair(ctx, req)
		if err != nil {
			return err
		}
		raw = body
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("repair %s attempt %d failed: %v (retrying in %s)", g.Key, attempt, err, wait)
	}

	if err := backoff.RetryNotify(op, r.newBackOff(ctx), notify); err != nil {
		logger.Error("%v: group %s after %d attempts: %v", core.ErrRetriesExhausted, g.Key, attempt, err)
		out := make([]ElementRepair, len(chunk))
		for i, el := range chunk {
			out[i] = DefaultRepair(el, noteServiceFailed)
		}
		return out
	}
	return r.decoder.Decode(raw, chunk)
}

// newBackOff doubles the delay on every retry, without jitter.
func (r *Runner) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = r.opts.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.opts.MaxRetries)), ctx)
}

func chunkElements(els []ElementRequest, size int) [][]ElementRequest {
	var chunks [][]ElementRequest
	for start := 0; start < len(els); start += size {
		end := start + size
		if end > len(els) {
			end = len(els)
		}
		chunks = append(chunks, els[start:end])
	}
	return chunks
}
