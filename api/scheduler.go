/*
scheduler.go - Audit document sweeper

PURPOSE:
  Document rendering after a decision is best-effort: the decision commits
  even when the renderer or the object store is down. The sweeper
  periodically finds decided requests that still have no document and
  renders them.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each pass handles at most BatchSize requests, oldest first
  - A failure on one request is logged and does not stop the pass

USAGE:
  sweeper := NewDocumentSweeper(store, engine, log)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - changerequest/engine.go: GenerateDocument
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/personnel-engine/changerequest"
)

// DocumentGenerator renders and stores the document for a decided request.
type DocumentGenerator interface {
	GenerateDocument(ctx context.Context, cr *changerequest.ChangeRequest) error
}

// UndocumentedLister finds decided requests without a document.
type UndocumentedLister interface {
	ListUndocumented(ctx context.Context, limit int) ([]changerequest.ChangeRequest, error)
}

// DocumentSweeper backfills missing audit documents.
type DocumentSweeper struct {
	Store         UndocumentedLister
	Generator     DocumentGenerator
	Log           logrus.FieldLogger
	CheckInterval time.Duration
	BatchSize     int

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewDocumentSweeper(store UndocumentedLister, gen DocumentGenerator, log logrus.FieldLogger) *DocumentSweeper {
	return &DocumentSweeper{
		Store:         store,
		Generator:     gen,
		Log:           log.WithField("component", "document-sweeper"),
		CheckInterval: 5 * time.Minute,
		BatchSize:     50,
	}
}

// Start begins the sweeper. Calling Start twice is a no-op.
func (ds *DocumentSweeper) Start() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.ticker != nil {
		return
	}
	if ds.CheckInterval <= 0 {
		ds.Log.Info("disabled, not starting")
		return
	}

	ds.ticker = time.NewTicker(ds.CheckInterval)
	ds.stop = make(chan struct{})
	ds.wg.Add(1)

	go ds.run()

	ds.Log.WithField("interval", ds.CheckInterval.String()).Info("started")
}

// Stop stops the sweeper and waits for a running pass to finish.
func (ds *DocumentSweeper) Stop() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.ticker == nil {
		return
	}
	ds.ticker.Stop()
	close(ds.stop)
	ds.wg.Wait()
	ds.ticker = nil
	ds.Log.Info("stopped")
}

func (ds *DocumentSweeper) run() {
	defer ds.wg.Done()

	// Run immediately on start
	ds.RunNow(context.Background())

	for {
		select {
		case <-ds.ticker.C:
			ds.RunNow(context.Background())
		case <-ds.stop:
			return
		}
	}
}

// RunNow performs one pass and returns how many documents were generated.
func (ds *DocumentSweeper) RunNow(ctx context.Context) int {
	limit := ds.BatchSize
	if limit <= 0 {
		limit = 50
	}

	pending, err := ds.Store.ListUndocumented(ctx, limit)
	if err != nil {
		ds.Log.WithError(err).Error("listing undocumented requests failed")
		return 0
	}

	generated := 0
	for i := range pending {
		cr := &pending[i]
		if err := ds.Generator.GenerateDocument(ctx, cr); err != nil {
			ds.Log.WithError(err).WithField("request_id", cr.ID).Warn("document generation failed")
			continue
		}
		generated++
	}

	if len(pending) > 0 {
		ds.Log.WithFields(logrus.Fields{
			"generated": generated,
			"failed":    len(pending) - generated,
		}).Info("sweep completed")
	}
	return generated
}
