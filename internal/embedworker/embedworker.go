// Package embedworker implements the Embedding Worker (C5 in spec.md
// §4.5): a user-keyed dedup queue plus a periodic scanner that
// asymptotically fills in missing embeddings. Grounded on the teacher's
// internal/service/indexer.go (BackgroundIndexer: ticker loop, batch
// fetch-embed-upsert-mark shape) for the batch path, and
// internal/service/taskprocessor.go for the retry/backoff idiom.
package embedworker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/quillmind/memoryd/internal/embed"
	"github.com/quillmind/memoryd/internal/errs"
	"github.com/quillmind/memoryd/internal/model"
	"github.com/quillmind/memoryd/internal/store"
)

// Config tunes batch size, retry policy, and scan cadence.
type Config struct {
	BatchSize       int
	MaxRetries      int
	RetryBaseDelay  time.Duration
	ScanInterval    time.Duration
	InterBatchPause time.Duration
}

// DefaultConfig matches spec.md §4.5's defaults (N=10, R=3, base 1s).
func DefaultConfig() Config {
	return Config{
		BatchSize:       10,
		MaxRetries:      3,
		RetryBaseDelay:  time.Second,
		ScanInterval:    5 * time.Second,
		InterBatchPause: 500 * time.Millisecond,
	}
}

// Worker fills missing embeddings asynchronously. Safe for concurrent
// producers; only one processing loop runs at a time per instance.
type Worker struct {
	store    store.Store
	embedder embed.Embedder
	cfg      Config

	mu        sync.Mutex
	queued    map[string]string // memory id -> user id
	processing bool

	scanMu           sync.Mutex
	lastMissingCount map[string]int // user id -> last observed missing count
}

// New constructs a Worker. It does not start the periodic scanner; call
// StartMonitoring for that.
func New(st store.Store, embedder embed.Embedder, cfg Config) *Worker {
	return &Worker{
		store:            st,
		embedder:         embedder,
		cfg:              cfg,
		queued:           make(map[string]string),
		lastMissingCount: make(map[string]int),
	}
}

// QueueDepth reports how many memory ids are currently queued for
// embedding, for the metrics gauge.
func (w *Worker) QueueDepth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queued)
}

// QueueUpdate enqueues a single memory id for re-embedding and kicks off
// processing if the worker is idle.
func (w *Worker) QueueUpdate(ctx context.Context, userID, memoryID string) {
	w.QueueMany(ctx, userID, []string{memoryID})
}

// QueueMany enqueues a batch of ids for one user.
func (w *Worker) QueueMany(ctx context.Context, userID string, memoryIDs []string) {
	w.mu.Lock()
	for _, id := range memoryIDs {
		w.queued[id] = userID
	}
	alreadyRunning := w.processing
	if !alreadyRunning {
		w.processing = true
	}
	w.mu.Unlock()

	if !alreadyRunning {
		go w.drain(ctx)
	}
}

// drain processes the queue until empty. Only one goroutine runs this at
// a time, guarded by the processing flag.
func (w *Worker) drain(ctx context.Context) {
	for {
		batch, ok := w.takeBatch()
		if !ok {
			return
		}
		w.processBatch(ctx, batch)
		if w.cfg.InterBatchPause > 0 {
			select {
			case <-ctx.Done():
				w.mu.Lock()
				w.processing = false
				w.mu.Unlock()
				return
			case <-time.After(w.cfg.InterBatchPause):
			}
		}
	}
}

type queuedItem struct {
	id     string
	userID string
}

// takeBatch returns the next batch to process. When the queue is empty it
// clears the processing flag and reports ok=false in the same locked
// section, so an id enqueued concurrently either lands before this check
// (and rides along in a batch) or is observed by QueueMany only after
// processing is already false (and starts its own drain) — there is no
// gap where an enqueue finds processing still true but no goroutine left
// to pick it up.
func (w *Worker) takeBatch() (batch []queuedItem, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queued) == 0 {
		w.processing = false
		return nil, false
	}
	n := w.cfg.BatchSize
	if n <= 0 {
		n = 10
	}
	batch = make([]queuedItem, 0, n)
	for id, userID := range w.queued {
		batch = append(batch, queuedItem{id: id, userID: userID})
		delete(w.queued, id)
		if len(batch) == n {
			break
		}
	}
	return batch, true
}

func (w *Worker) processBatch(ctx context.Context, batch []queuedItem) {
	ids := make([]string, len(batch))
	userByID := make(map[string]string, len(batch))
	for i, it := range batch {
		ids[i] = it.id
		userByID[it.id] = it.userID
	}

	memories, err := w.store.GetMemoriesByIDs(ctx, ids)
	if err != nil {
		log.Error("embedworker: fetch batch failed", "err", err)
		return
	}
	byID := make(map[string]model.Memory, len(memories))
	for _, m := range memories {
		byID[m.ID] = m
	}

	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			// Row no longer present; skip silently per spec.md §4.5.
			continue
		}
		w.embedWithRetry(ctx, &m)
	}
}

func embeddingText(m *model.Memory) string {
	parts := []string{m.Title, m.Content, string(m.MemoryType)}
	if len(m.Tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(m.Tags, ", "))
	}
	return strings.Join(parts, " ")
}

func (w *Worker) embedWithRetry(ctx context.Context, m *model.Memory) {
	maxRetries := w.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := w.cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}

	text := embeddingText(m)
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		vec, err := w.embedder.Embed(ctx, text)
		if err == nil {
			if _, updErr := w.store.UpdateEmbedding(ctx, m.ID, m.UserID, vec); updErr != nil {
				log.Error("embedworker: write embedding failed", "id", m.ID, "err", updErr)
			}
			return
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
		if attempt == maxRetries {
			break
		}
		delay := baseDelay * time.Duration(attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	log.Error("embedworker: giving up on memory", "id", m.ID, "attempts", maxRetries, "err", lastErr)
}

func isRetryable(err error) bool {
	switch err.(type) {
	case *errs.TransientError, *errs.RateLimitedError:
		return true
	default:
		return false
	}
}

// StartMonitoring schedules updateAllMissingEmbeddings(userID) on the
// configured interval until ctx is cancelled. Each call is independent, so
// multiple users can be monitored concurrently by the caller.
func (w *Worker) StartMonitoring(ctx context.Context, userID string) {
	interval := w.cfg.ScanInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.UpdateAllMissingEmbeddings(ctx, userID)
			}
		}
	}()
}

// UpdateAllMissingEmbeddings queues the memories missing an embedding for
// one user, at most 500 per call (most recently updated first); it makes a
// single store query and does not page past those 500, so further rows are
// picked up only by later scans. Log-spam suppression: an info log is
// emitted only when the missing count differs from the last observation
// for this user, and an "Updated N" log only when N>0.
func (w *Worker) UpdateAllMissingEmbeddings(ctx context.Context, userID string) {
	ids, err := w.store.FindMemoriesMissingEmbedding(ctx, userID, 500)
	if err != nil {
		log.Error("embedworker: scan failed", "user_id", userID, "err", err)
		return
	}

	w.scanMu.Lock()
	last, seen := w.lastMissingCount[userID]
	changed := !seen || last != len(ids)
	w.lastMissingCount[userID] = len(ids)
	w.scanMu.Unlock()

	if changed {
		log.Info("embedworker: missing embeddings", "user_id", userID, "count", len(ids))
	}
	if len(ids) == 0 {
		return
	}

	w.QueueMany(ctx, userID, ids)
	log.Info("embedworker: updated missing embeddings", "user_id", userID, "count", len(ids))
}
