package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/autolog/logsentinel/internal/logger"
	"github.com/autolog/logsentinel/internal/models"
	"github.com/autolog/logsentinel/internal/store"
)

const (
	defaultEmbedWorkers = 5
	defaultEmbedTimeout = 15 * time.Second
)

// EmbeddingPipeline turns changed summaries into embeddings with a bounded
// worker pool. A failed item never affects the other items of the batch.
type EmbeddingPipeline struct {
	store    store.Store
	embedder Embedder
	workers  int
	timeout  time.Duration
	limiter  *rate.Limiter
}

type embeddingJob struct {
	projectID string
	summary   models.LogSummary
}

type embeddingOutcome struct {
	summaryID string
	err       error
}

// EmbeddingReport is joined back by summary id once all workers are done.
type EmbeddingReport struct {
	Requested int               `json:"requested"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Failures  map[string]string `json:"failures,omitempty"`
}

type SimilarSummary struct {
	Summary models.LogSummary `json:"summary"`
	Score   float64           `json:"score"`
}

// NewEmbeddingPipeline builds a pipeline. ratePerSecond <= 0 disables the limiter.
func NewEmbeddingPipeline(st store.Store, embedder Embedder, workers int, timeout time.Duration, ratePerSecond float64) *EmbeddingPipeline {
	if workers <= 0 {
		workers = defaultEmbedWorkers
	}
	if timeout <= 0 {
		timeout = defaultEmbedTimeout
	}
	p := &EmbeddingPipeline{
		store:    st,
		embedder: embedder,
		workers:  workers,
		timeout:  timeout,
	}
	if ratePerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	return p
}

// EmbeddingText is the text embedded for a summary.
func EmbeddingText(s models.LogSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "service: %s\n", s.Service)
	fmt.Fprintf(&b, "severity: %s\n", s.Severity)
	fmt.Fprintf(&b, "signature: %s\n", s.ErrorSignature)
	fmt.Fprintf(&b, "sample: %s", s.SampleMessage)
	return b.String()
}

func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ChangedSummaries keeps the summaries whose embedding is missing or was
// computed from different text. Occurrence counts do not affect the text, so
// a summary that only grew is not re-embedded.
func (p *EmbeddingPipeline) ChangedSummaries(ctx context.Context, projectID string, summaries []models.LogSummary) []models.LogSummary {
	changed := make([]models.LogSummary, 0, len(summaries))
	for _, s := range summaries {
		existing, err := p.store.GetEmbedding(ctx, projectID, s.SummaryID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				logger.WithEmbedding(projectID, s.SummaryID).WithError(err).Warn("Embedding lookup failed, scheduling re-embed")
			}
			changed = append(changed, s)
			continue
		}
		if existing.ContentHash != ContentHash(EmbeddingText(s)) {
			changed = append(changed, s)
		}
	}
	return changed
}

// EmbedSummaries embeds and persists every summary. It returns once every
// item has either been stored or failed.
func (p *EmbeddingPipeline) EmbedSummaries(ctx context.Context, projectID string, summaries []models.LogSummary) EmbeddingReport {
	report := EmbeddingReport{Requested: len(summaries), Failures: map[string]string{}}
	if len(summaries) == 0 {
		return report
	}
	if p.embedder == nil {
		for _, s := range summaries {
			report.Failures[s.SummaryID] = "no embedder configured"
		}
		report.Failed = len(summaries)
		return report
	}

	workers := p.workers
	if workers > len(summaries) {
		workers = len(summaries)
	}

	jobs := make(chan embeddingJob)
	outcomes := make(chan embeddingOutcome, len(summaries))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				outcomes <- embeddingOutcome{summaryID: job.summary.SummaryID, err: p.embedOne(ctx, job)}
			}
		}()
	}

	for _, s := range summaries {
		jobs <- embeddingJob{projectID: projectID, summary: s}
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	for o := range outcomes {
		if o.err != nil {
			report.Failed++
			report.Failures[o.summaryID] = o.err.Error()
			embeddingsTotal.WithLabelValues("failed").Inc()
			logger.WithEmbedding(projectID, o.summaryID).WithError(o.err).Warn("Embedding failed, will retry on next run")
			continue
		}
		report.Succeeded++
		embeddingsTotal.WithLabelValues("succeeded").Inc()
	}
	return report
}

func (p *EmbeddingPipeline) embedOne(ctx context.Context, job embeddingJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrEmbedding, r)
		}
	}()

	itemCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Wait(itemCtx); err != nil {
			return fmt.Errorf("%w: rate limiter: %v", ErrEmbedding, err)
		}
	}

	text := EmbeddingText(job.summary)
	vector, err := p.embedder.GenerateEmbedding(itemCtx, text)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty vector", ErrEmbedding)
	}

	embedding := models.LogEmbedding{
		ProjectID:   job.projectID,
		SummaryID:   job.summary.SummaryID,
		Embedding:   vector,
		Model:       p.embedder.EmbeddingModel(),
		ContentHash: ContentHash(text),
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.store.PutEmbedding(ctx, embedding); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// SimilarSummaries ranks the other summaries of the project by cosine
// similarity to the given one.
func (p *EmbeddingPipeline) SimilarSummaries(ctx context.Context, projectID, summaryID string, topN int) ([]SimilarSummary, error) {
	target, err := p.store.GetEmbedding(ctx, projectID, summaryID)
	if err != nil {
		return nil, err
	}
	embeddings, err := p.store.ListEmbeddings(ctx, projectID)
	if err != nil {
		return nil, err
	}
	summaries, err := p.store.ListSummaries(ctx, projectID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.LogSummary, len(summaries))
	for _, s := range summaries {
		byID[s.SummaryID] = s
	}

	var scored []SimilarSummary
	for _, e := range embeddings {
		if e.SummaryID == summaryID || len(e.Embedding) != len(target.Embedding) {
			continue
		}
		s, ok := byID[e.SummaryID]
		if !ok {
			continue
		}
		scored = append(scored, SimilarSummary{Summary: s, Score: cosineSimilarity(target.Embedding, e.Embedding)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topN > 0 && len(scored) > topN {
		scored = scored[:topN]
	}
	return scored, nil
}

// cosineSimilarity computes cosine similarity between two float32 slices
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
