package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/autolog/logsentinel/internal/logger"
	"github.com/autolog/logsentinel/internal/models"
)

// Key layout: <kind> 0x00 <projectId> 0x00 <sortKey>. The separator keeps a
// project prefix from matching a longer project id.
const (
	kindSummary    = "sum"
	kindEmbedding  = "emb"
	kindMetric     = "met"
	kindPrediction = "pred"
	kindProject    = "proj"
	keySep         = "\x00"
)

type BadgerConfig struct {
	Path           string
	InMemory       bool
	SyncWrites     bool
	GCInterval     time.Duration
	GCDiscardRatio float64
}

func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig is used by tests and the CLI dry runs.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// BadgerStore implements Store and ProjectRepository on an embedded badger database.
type BadgerStore struct {
	db     *badger.DB
	stopGC chan struct{}
	gcDone chan struct{}
}

// badgerLogger routes badger's internal logs into logrus, demoting its
// chatty info lines to debug.
type badgerLogger struct {
	entry *logrus.Entry
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.entry.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.entry.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.entry.Debugf(format, args...) }

func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{entry: logger.WithContext(map[string]interface{}{"component": "badger"})})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &BadgerStore{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logger.Warn("Badger value log GC failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
	}
	return s.db.Close()
}

func key(kind, projectID, sortKey string) []byte {
	return []byte(kind + keySep + projectID + keySep + sortKey)
}

func prefix(kind, projectID string) []byte {
	return []byte(kind + keySep + projectID + keySep)
}

func (s *BadgerStore) get(ctx context.Context, k []byte, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}

// putAll writes all entries through a write batch, which splits large
// batches into several transactions on its own.
func (s *BadgerStore) putAll(ctx context.Context, entries map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for k, v := range entries {
		val, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %q: %w", k, err)
		}
		if err := wb.Set([]byte(k), val); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// scan iterates a prefix in key order starting at seek, calling fn with each value.
func (s *BadgerStore) scan(ctx context.Context, pfx, seek []byte, reverse bool, fn func(val []byte) (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = pfx
		opts.Reverse = reverse
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(pfx); it.Next() {
			var more bool
			err := it.Item().Value(func(val []byte) error {
				var err error
				more, err = fn(val)
				return err
			})
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		return nil
	})
}

func (s *BadgerStore) GetSummary(ctx context.Context, projectID, summaryID string) (*models.LogSummary, error) {
	var summary models.LogSummary
	if err := s.get(ctx, key(kindSummary, projectID, summaryID), &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *BadgerStore) ListSummaries(ctx context.Context, projectID string) ([]models.LogSummary, error) {
	pfx := prefix(kindSummary, projectID)
	var summaries []models.LogSummary
	err := s.scan(ctx, pfx, pfx, false, func(val []byte) (bool, error) {
		var summary models.LogSummary
		if err := json.Unmarshal(val, &summary); err != nil {
			return false, err
		}
		summaries = append(summaries, summary)
		return true, nil
	})
	return summaries, err
}

func (s *BadgerStore) PutSummaries(ctx context.Context, summaries []models.LogSummary) error {
	entries := make(map[string]interface{}, len(summaries))
	for _, summary := range summaries {
		entries[string(key(kindSummary, summary.ProjectID, summary.SummaryID))] = summary
	}
	return s.putAll(ctx, entries)
}

func (s *BadgerStore) GetEmbedding(ctx context.Context, projectID, summaryID string) (*models.LogEmbedding, error) {
	var embedding models.LogEmbedding
	if err := s.get(ctx, key(kindEmbedding, projectID, summaryID), &embedding); err != nil {
		return nil, err
	}
	return &embedding, nil
}

func (s *BadgerStore) ListEmbeddings(ctx context.Context, projectID string) ([]models.LogEmbedding, error) {
	pfx := prefix(kindEmbedding, projectID)
	var embeddings []models.LogEmbedding
	err := s.scan(ctx, pfx, pfx, false, func(val []byte) (bool, error) {
		var embedding models.LogEmbedding
		if err := json.Unmarshal(val, &embedding); err != nil {
			return false, err
		}
		embeddings = append(embeddings, embedding)
		return true, nil
	})
	return embeddings, err
}

func (s *BadgerStore) PutEmbedding(ctx context.Context, embedding models.LogEmbedding) error {
	return s.putAll(ctx, map[string]interface{}{
		string(key(kindEmbedding, embedding.ProjectID, embedding.SummaryID)): embedding,
	})
}

func (s *BadgerStore) PutMetricSnapshots(ctx context.Context, snapshots []models.MetricSnapshot) error {
	entries := make(map[string]interface{}, len(snapshots))
	for _, snap := range snapshots {
		entries[string(key(kindMetric, snap.ProjectID, snap.SortKey()))] = snap
	}
	return s.putAll(ctx, entries)
}

func (s *BadgerStore) ListMetricSnapshots(ctx context.Context, projectID string, since int64) ([]models.MetricSnapshot, error) {
	pfx := prefix(kindMetric, projectID)
	seek := key(kindMetric, projectID, fmt.Sprintf("%020d", since))
	var snapshots []models.MetricSnapshot
	err := s.scan(ctx, pfx, seek, false, func(val []byte) (bool, error) {
		var snap models.MetricSnapshot
		if err := json.Unmarshal(val, &snap); err != nil {
			return false, err
		}
		snapshots = append(snapshots, snap)
		return true, nil
	})
	return snapshots, err
}

func (s *BadgerStore) PutPrediction(ctx context.Context, prediction *models.PredictionResult) error {
	return s.putAll(ctx, map[string]interface{}{
		string(key(kindPrediction, prediction.ProjectID, fmt.Sprintf("%020d", prediction.Timestamp))): prediction,
	})
}

func (s *BadgerStore) LatestPrediction(ctx context.Context, projectID string) (*models.PredictionResult, error) {
	pfx := prefix(kindPrediction, projectID)
	// Reverse iteration seeks to the greatest key <= seek.
	seek := append(bytes.Clone(pfx), 0xFF)
	var latest *models.PredictionResult
	err := s.scan(ctx, pfx, seek, true, func(val []byte) (bool, error) {
		var p models.PredictionResult
		if err := json.Unmarshal(val, &p); err != nil {
			return false, err
		}
		latest = &p
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (s *BadgerStore) GetProject(ctx context.Context, projectID string) (*models.ProjectState, error) {
	var project models.ProjectState
	if err := s.get(ctx, key(kindProject, projectID, ""), &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *BadgerStore) ListProjects(ctx context.Context) ([]models.ProjectState, error) {
	pfx := []byte(kindProject + keySep)
	var projects []models.ProjectState
	err := s.scan(ctx, pfx, pfx, false, func(val []byte) (bool, error) {
		var project models.ProjectState
		if err := json.Unmarshal(val, &project); err != nil {
			return false, err
		}
		projects = append(projects, project)
		return true, nil
	})
	return projects, err
}

func (s *BadgerStore) SaveProject(ctx context.Context, project *models.ProjectState) error {
	now := time.Now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now
	return s.putAll(ctx, map[string]interface{}{
		string(key(kindProject, project.ProjectID, "")): project,
	})
}

func (s *BadgerStore) AdvanceWatermark(ctx context.Context, projectID string, timestamp int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k := key(kindProject, projectID, "")
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var project models.ProjectState
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &project) }); err != nil {
			return err
		}
		if timestamp <= project.LastProcessedTimestamp {
			return nil
		}
		project.LastProcessedTimestamp = timestamp
		project.UpdatedAt = time.Now().UTC()
		val, err := json.Marshal(project)
		if err != nil {
			return err
		}
		return txn.Set(k, val)
	})
}
