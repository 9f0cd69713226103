package transcode

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopher-vod/internal/library"
	"gopher-vod/internal/logger"
	"gopher-vod/internal/metrics"
	"gopher-vod/internal/protocol"
)

var (
	ErrQueueFull = errors.New("transcode: queue is full")
	ErrClosed    = errors.New("transcode: pool is closed")
	ErrChecksum  = errors.New("transcode: input checksum mismatch")
)

// Job transcodes one uploaded file into the library entry ID.
type Job struct {
	ID           string
	Input        string
	OriginalName string
	// Checksum is the hex SHA256 of Input recorded at upload; empty skips
	// the check.
	Checksum string
}

// Publisher mirrors a finished video directory elsewhere.
type Publisher interface {
	Publish(ctx context.Context, id, dir string) (int, error)
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Workers   int
	QueueSize int
	Library   *library.Library
	Encoder   *Transcoder
	Publisher Publisher
	Metrics   *metrics.Metrics
	// OnChange is called after a job changed the library state of a video.
	OnChange func(id string)
}

// Pool runs transcode jobs on a fixed number of workers.
type Pool struct {
	cfg   PoolConfig
	queue chan Job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	if cfg.OnChange == nil {
		cfg.OnChange = func(string) {}
	}
	return &Pool{cfg: cfg, queue: make(chan Job, cfg.QueueSize)}
}

// Start launches the workers. They exit when ctx is done or once the queue
// is closed and drained.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Enqueue schedules a job without blocking.
func (p *Pool) Enqueue(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- job:
		p.cfg.Metrics.QueueDepth(len(p.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for the workers. With the context
// still live the workers finish every queued job first. Jobs interrupted by
// the context keep their processing lock and are picked up by Resume on the
// next start.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()

	for job := range p.queue {
		logger.Info().Str("video", job.ID).Msg("transcode left pending")
	}
	p.cfg.Metrics.QueueDepth(0)
}

// Resume queues every video still locked in the library, e.g. jobs a
// previous run did not get to. Videos whose upload is gone are released.
func (p *Pool) Resume() (int, error) {
	lib := p.cfg.Library
	ids, err := lib.Pending()
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, id := range ids {
		meta, err := lib.ReadMeta(id)
		if err != nil {
			logger.Warn().Err(err).Str("video", id).Msg("cannot resume transcode")
			p.release(id)
			continue
		}
		job := Job{
			ID:           id,
			Input:        meta.Get(library.MetaUpload, ""),
			OriginalName: meta.Get(library.MetaOriginalName, ""),
			Checksum:     meta.Get(library.MetaChecksum, ""),
		}
		if _, err := os.Stat(job.Input); job.Input == "" || err != nil {
			logger.Warn().Str("video", id).Str("input", job.Input).Msg("upload missing, dropping pending transcode")
			p.release(id)
			continue
		}
		if err := p.Enqueue(job); err != nil {
			logger.Warn().Err(err).Str("video", id).Msg("cannot resume transcode")
			p.release(id)
			continue
		}
		resumed++
	}
	return resumed, nil
}

func (p *Pool) release(id string) {
	if err := p.cfg.Library.Release(id); err != nil {
		logger.Warn().Err(err).Str("video", id).Msg("failed to release video")
	}
	p.cfg.OnChange(id)
}

func (p *Pool) worker(ctx context.Context, n int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.cfg.Metrics.QueueDepth(len(p.queue))
			p.process(ctx, n, job)
		}
	}
}

func (p *Pool) process(ctx context.Context, worker int, job Job) {
	lib := p.cfg.Library
	logger.Info().Int("worker", worker).Str("video", job.ID).Str("input", job.Input).Msg("transcode started")
	start := time.Now()

	err := verify(job)
	if err == nil {
		_, err = p.cfg.Encoder.Transcode(ctx, job.Input, lib.Dir(job.ID))
	}
	if err == nil {
		err = lib.MergeMeta(job.ID, library.Meta{
			library.MetaOriginalName: job.OriginalName,
			library.MetaManifest:     library.ManifestFile,
		})
	}
	if err != nil && ctx.Err() != nil {
		logger.Info().Str("video", job.ID).Msg("transcode interrupted, left pending")
		return
	}
	p.cfg.Metrics.TranscodeFinished(time.Since(start), err)

	if err != nil {
		logger.Error().Err(err).Str("video", job.ID).Msg("transcode failed")
		if uerr := lib.Unlock(job.ID); uerr != nil {
			logger.Warn().Err(uerr).Str("video", job.ID).Msg("failed to remove processing lock")
		}
		if rerr := lib.Remove(job.ID); rerr != nil {
			logger.Warn().Err(rerr).Str("video", job.ID).Msg("failed to remove video dir")
		}
		p.cfg.OnChange(job.ID)
		return
	}

	if p.cfg.Publisher != nil {
		n, perr := p.cfg.Publisher.Publish(ctx, job.ID, lib.Dir(job.ID))
		if perr != nil {
			logger.Warn().Err(perr).Str("video", job.ID).Msg("publish failed, video stays local")
		}
		p.cfg.Metrics.Published(n)
	}

	if err := lib.Unlock(job.ID); err != nil {
		logger.Error().Err(err).Str("video", job.ID).Msg("failed to remove processing lock")
	}
	logger.Info().Str("video", job.ID).Dur("took", time.Since(start)).Msg("transcode finished")
	p.cfg.OnChange(job.ID)
}

func verify(job Job) error {
	if job.Checksum == "" {
		return nil
	}
	sum, err := protocol.ChecksumFile(job.Input)
	if err != nil {
		return err
	}
	if got := hex.EncodeToString(sum[:]); got != job.Checksum {
		return fmt.Errorf("%w: %s has %s, want %s", ErrChecksum, job.Input, got, job.Checksum)
	}
	return nil
}
