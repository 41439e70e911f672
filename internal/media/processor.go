package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ssshpaklevka/mediaplayer-backend/internal/models"
	"github.com/ssshpaklevka/mediaplayer-backend/internal/observability/metrics"
	"github.com/ssshpaklevka/mediaplayer-backend/internal/storage"
	"github.com/ssshpaklevka/mediaplayer-backend/internal/transcode"
)

type ProcessorConfig struct {
	Store      storage.Repository
	Engine     transcode.Engine
	ScratchDir string
	Workers    int
	QueueSize  int
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Processor drains accepted submissions through the transcode engine on a
// bounded worker pool. Each id is processed at most once concurrently; a
// duplicate enqueue while the id is in flight is dropped.
type Processor struct {
	store      storage.Repository
	engine     transcode.Engine
	scratchDir string
	workers    int
	timeout    time.Duration
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue chan string
	group *errgroup.Group

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool
}

const (
	defaultProcessorWorkers   = 2
	defaultProcessorQueueSize = 64
	defaultProcessorTimeout   = 25 * time.Minute
)

func NewProcessor(cfg ProcessorConfig) *Processor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultProcessorWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultProcessorQueueSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProcessorTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		store:      cfg.Store,
		engine:     cfg.Engine,
		scratchDir: cfg.ScratchDir,
		workers:    workers,
		timeout:    timeout,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		queue:      make(chan string, queueSize),
		inFlight:   make(map[string]struct{}),
	}
}

func (p *Processor) Start() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.group = new(errgroup.Group)
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.group.Go(p.worker)
	}

	go p.recoverPending()
}

func (p *Processor) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.cancel()
	p.mu.Lock()
	group := p.group
	p.mu.Unlock()
	if group == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue hands an id to the worker pool. It never blocks the caller: when
// the queue is full the id is dropped and the record stays PENDING, to be
// requeued by recoverPending on the next start.
func (p *Processor) Enqueue(id string) {
	if p == nil || strings.TrimSpace(id) == "" {
		return
	}
	select {
	case <-p.ctx.Done():
		return
	default:
	}
	select {
	case p.queue <- id:
	default:
		p.logger.Warn("processing queue full, deferring media", "media_id", id)
	}
}

func (p *Processor) worker() error {
	for {
		select {
		case <-p.ctx.Done():
			return nil
		case id := <-p.queue:
			if strings.TrimSpace(id) == "" {
				continue
			}
			if !p.beginWork(id) {
				continue
			}
			p.process(id)
			p.finishWork(id)
		}
	}
}

func (p *Processor) beginWork(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.inFlight[id]; exists {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Processor) finishWork(id string) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}

// recoverPending requeues records stranded in PENDING by a previous run.
// Records whose spooled payload no longer exists cannot be replayed and are
// failed immediately.
func (p *Processor) recoverPending() {
	if p.store == nil {
		return
	}
	for _, media := range p.store.ListPendingMedia() {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		if _, err := os.Stat(SpoolPath(p.scratchDir, media.ID)); err != nil {
			p.failMedia(media.ID, fmt.Errorf("source payload missing after restart"))
			continue
		}
		p.Enqueue(media.ID)
	}
}

// process runs one submission end to end. It is idempotent: a record already
// in a terminal state is left untouched, so duplicate deliveries of the same
// id are harmless.
func (p *Processor) process(id string) {
	if p.store == nil {
		return
	}
	media, ok := p.store.GetMedia(id)
	if !ok {
		return
	}
	if media.Terminal() {
		return
	}

	spoolPath := SpoolPath(p.scratchDir, id)
	outputPath := OutputPath(p.scratchDir, id)
	defer p.cleanupScratch(id, spoolPath, outputPath)

	if _, err := os.Stat(spoolPath); err != nil {
		p.failMedia(id, fmt.Errorf("source payload missing"))
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	metrics.TranscodeStarted()
	started := time.Now()
	if err := p.engine.Transcode(ctx, spoolPath, outputPath); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				err = ctxErr
			}
		}
		p.failMedia(id, &TranscodeError{Err: err})
		return
	}

	payload, err := os.ReadFile(outputPath)
	if err != nil {
		p.failMedia(id, fmt.Errorf("read transcoded output: %w", err))
		return
	}

	// READY always carries a playable URL. Without a configured object store
	// the rendition has nowhere to live, so the record fails instead.
	objects := p.store.ObjectStore()
	if !objects.Enabled() {
		p.failMedia(id, &PublishError{Err: errors.New("object storage is not configured")})
		return
	}
	ref, err := objects.Upload(ctx, ObjectKey(id), "video/mp4", payload)
	if err != nil {
		p.failMedia(id, &PublishError{Err: err})
		return
	}

	ready := models.MediaStatusReady
	empty := ""
	if _, err := p.store.UpdateMedia(id, storage.MediaUpdate{
		Status:            &ready,
		URL:               &ref.URL,
		ProcessingError:   &empty,
		ClearDeclaredSize: true,
		Metadata:          map[string]string{"objectKey": ref.Key},
	}); err != nil {
		p.logger.Error("failed to mark media ready", "media_id", id, "error", err)
		return
	}
	metrics.TranscodeCompleted()
	p.refreshPendingBytes()
	p.logger.Info("media transcoded",
		"media_id", id,
		"duration", time.Since(started).Round(time.Millisecond),
		"output_bytes", len(payload),
	)
}

// failMedia records a terminal failure. There is no retry: the operator
// resubmits after fixing the source.
func (p *Processor) failMedia(id string, cause error) {
	failed := models.MediaStatusFailed
	message := truncateProcessingError(cause.Error())
	if _, err := p.store.UpdateMedia(id, storage.MediaUpdate{
		Status:            &failed,
		ProcessingError:   &message,
		ClearDeclaredSize: true,
	}); err != nil {
		p.logger.Error("failed to record media failure", "media_id", id, "error", err, "failure", cause)
		return
	}
	metrics.TranscodeFailed()
	p.refreshPendingBytes()
	p.logger.Error("media transcode failed", "media_id", id, "error", cause)
}

func (p *Processor) refreshPendingBytes() {
	total, err := p.store.SumPendingMediaBytes()
	if err != nil {
		return
	}
	metrics.SetPendingBytes(total)
}

// cleanupScratch removes both scratch artifacts regardless of outcome. The
// removals are independent: a failure on one never skips the other.
func (p *Processor) cleanupScratch(id string, paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("scratch cleanup failed", "media_id", id, "path", path, "error", err)
		}
	}
}
