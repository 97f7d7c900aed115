// Package worker runs audio analysis off the request path.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/mend/internal/core/domain"
)

// ErrQueueFull is returned by Submit when the job queue has no room.
var ErrQueueFull = errors.New("worker: queue full")

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("worker: pool stopped")

// Job is one audio chunk awaiting analysis.
type Job struct {
	UID        string
	Payload    []byte
	Format     Format
	SampleRate int
}

// Analyzer consumes decoded audio.
type Analyzer interface {
	AnalyzeAudio(ctx context.Context, uid string, buf domain.AudioBuffer) (domain.EatingAnalysisResult, error)
}

// Pool manages background workers for audio jobs.
type Pool struct {
	analyzer Analyzer
	workers  int
	jobs     chan Job
	onDrop   func()
	logger   zerolog.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewPool creates a worker pool with the given worker count and queue size.
// onDrop, when set, is called for every rejected job.
func NewPool(analyzer Analyzer, workers, queueSize int, onDrop func(), logger zerolog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if onDrop == nil {
		onDrop = func() {}
	}
	return &Pool{
		analyzer: analyzer,
		workers:  workers,
		jobs:     make(chan Job, queueSize),
		onDrop:   onDrop,
		logger:   logger.With().Str("component", "audio_pool").Logger(),
	}
}

// Start launches the worker goroutines. Analyses inherit ctx's values but
// not its cancellation, so jobs still queued at shutdown drain in Stop.
func (p *Pool) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.processJob(ctx, job)
			}
		}()
	}
}

// Stop closes the queue and waits for queued jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Submit queues a job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		p.onDrop()
		p.logger.Warn().Str("uid", job.UID).Msg("dropping audio job, queue full")
		return ErrQueueFull
	}
}

func (p *Pool) processJob(ctx context.Context, job Job) {
	buf, err := Decode(job.Payload, job.Format, job.SampleRate)
	if err != nil {
		p.logger.Warn().Err(err).Str("uid", job.UID).Str("format", string(job.Format)).Msg("skipping undecodable audio")
		return
	}
	if _, err := p.analyzer.AnalyzeAudio(ctx, job.UID, buf); err != nil {
		p.logger.Error().Err(err).Str("uid", job.UID).Msg("audio analysis failed")
	}
}
