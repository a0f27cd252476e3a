// Package search answers free-text and similar-book queries over an
// in-memory TF-IDF snapshot of the published catalog.
//
// Text search is two-tier: books whose title or author contains the query
// come first, then the remaining books the ranker scores above zero. When
// nothing matches, the most recent books are returned instead and the
// result is flagged as a fallback.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/booksphere/booksphere/internal/catalog"
	"github.com/booksphere/booksphere/internal/catalog/events"
	"github.com/booksphere/booksphere/internal/ranking/tfidf"
	"github.com/booksphere/booksphere/internal/search/cache"
	"github.com/booksphere/booksphere/pkg/config"
	apperrors "github.com/booksphere/booksphere/pkg/errors"
	"github.com/booksphere/booksphere/pkg/metrics"
	"github.com/booksphere/booksphere/pkg/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

const (
	KindSearch  = "search"
	KindSimilar = "similar"
)

// Refresh triggers, used as metric labels.
const (
	TriggerStartup  = "startup"
	TriggerEvent    = "event"
	TriggerPeriodic = "periodic"
	TriggerManual   = "manual"
)

var ErrInvalidLimit = fmt.Errorf("%w: limit must be >= 0", apperrors.ErrInvalidInput)

type Options struct {
	DefaultLimit     int
	MaxResults       int
	FallbackLimit    int
	SimilarCacheSize int
	ExactMatchFirst  bool
	// LoadTimeout bounds one attempt at reading the catalog.
	LoadTimeout time.Duration
}

func OptionsFromConfig(cfg config.SearchConfig) Options {
	return Options{
		DefaultLimit:     cfg.DefaultLimit,
		MaxResults:       cfg.MaxResults,
		FallbackLimit:    cfg.FallbackLimit,
		SimilarCacheSize: cfg.SimilarCacheSize,
		ExactMatchFirst:  cfg.ExactMatchFirst,
		LoadTimeout:      10 * time.Second,
	}
}

type Hit struct {
	Book  catalog.Book `json:"book"`
	Score float64      `json:"score"`
	Exact bool         `json:"exact,omitempty"`
}

// Result is one answered lookup. Total counts every match before the limit
// was applied; it is zero for fallback listings.
type Result struct {
	Hits            []Hit  `json:"results"`
	Fallback        bool   `json:"fallback"`
	ExactMatches    int    `json:"exact_matches"`
	Total           int    `json:"total"`
	SnapshotVersion uint64 `json:"snapshot_version"`
}

type SnapshotInfo struct {
	Version uint64    `json:"version"`
	Books   int       `json:"books"`
	BuiltAt time.Time `json:"built_at"`
}

type Service struct {
	reader  catalog.Reader
	opts    Options
	cache   *cache.QueryCache[Result]
	metrics *metrics.Metrics
	now     func() time.Time

	current   atomic.Pointer[snapshot]
	versions  atomic.Uint64
	refreshes singleflight.Group
	logger    *slog.Logger
}

// NewService returns a service with no snapshot; call Refresh before
// serving. queryCache and m may be nil.
func NewService(reader catalog.Reader, queryCache *cache.QueryCache[Result], m *metrics.Metrics, opts Options) *Service {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = tfidf.DefaultTopN
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 50
	}
	if opts.SimilarCacheSize <= 0 {
		opts.SimilarCacheSize = 1024
	}
	if queryCache == nil {
		queryCache = cache.New[Result](nil, 0, nil)
	}
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	return &Service{
		reader:  reader,
		opts:    opts,
		cache:   queryCache,
		metrics: m,
		now:     time.Now,
		logger:  slog.Default().With("component", "search-service"),
	}
}

// Refresh reloads the published catalog and swaps in a new snapshot.
// Concurrent calls share one load.
func (s *Service) Refresh(ctx context.Context, trigger string) (SnapshotInfo, error) {
	v, err, shared := s.refreshes.Do("refresh", func() (any, error) {
		return s.refresh(ctx, trigger)
	})
	if shared {
		s.logger.Debug("refresh coalesced", "trigger", trigger)
	}
	if err != nil {
		return SnapshotInfo{}, err
	}
	return v.(SnapshotInfo), nil
}

func (s *Service) refresh(ctx context.Context, trigger string) (SnapshotInfo, error) {
	start := s.now()
	var loaded atomic.Pointer[[]catalog.Book]
	err := resilience.Retry(ctx, "catalog-load", resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond}, func() error {
		return resilience.WithTimeout(ctx, s.opts.LoadTimeout, "catalog-load", func(ctx context.Context) error {
			books, err := s.reader.ListPublished(ctx)
			if errors.Is(err, apperrors.ErrInvalidStatus) {
				return resilience.Permanent(err)
			}
			if err != nil {
				return err
			}
			loaded.Store(&books)
			return nil
		})
	})
	if err != nil {
		s.metrics.SnapshotRefreshesTotal.WithLabelValues(trigger, "error").Inc()
		return SnapshotInfo{}, fmt.Errorf("loading catalog: %w", err)
	}

	books := *loaded.Load()
	snap, err := buildSnapshot(books, s.versions.Add(1), s.opts.SimilarCacheSize, s.now())
	if err != nil {
		s.metrics.SnapshotRefreshesTotal.WithLabelValues(trigger, "error").Inc()
		return SnapshotInfo{}, fmt.Errorf("building snapshot: %w", err)
	}
	s.current.Store(snap)

	elapsed := s.now().Sub(start)
	s.metrics.SnapshotRefreshesTotal.WithLabelValues(trigger, "ok").Inc()
	s.metrics.SnapshotBuildDuration.Observe(elapsed.Seconds())
	s.metrics.SnapshotBooks.Set(float64(len(books)))
	s.metrics.SnapshotVersion.Set(float64(snap.version))
	s.logger.Info("ranking snapshot refreshed",
		"trigger", trigger,
		"version", snap.version,
		"books", len(books),
		"duration", elapsed,
	)
	return snap.info(), nil
}

func (s *snapshot) info() SnapshotInfo {
	return SnapshotInfo{Version: s.version, Books: len(s.books), BuiltAt: s.builtAt.UTC()}
}

// Snapshot describes the snapshot currently serving queries.
func (s *Service) Snapshot() (SnapshotInfo, bool) {
	snap := s.current.Load()
	if snap == nil {
		return SnapshotInfo{}, false
	}
	return snap.info(), true
}

// Run refreshes every interval until ctx is done. Failures keep the previous
// snapshot in service.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Refresh(ctx, TriggerPeriodic); err != nil && ctx.Err() == nil {
				s.logger.Error("periodic refresh failed", "error", err)
			}
		}
	}
}

// HandleEvent refreshes the snapshot and clears the result cache when a
// catalog change can alter what search returns.
func (s *Service) HandleEvent(ctx context.Context, e events.Event) error {
	s.metrics.CatalogEventsTotal.WithLabelValues(string(e.Type)).Inc()
	if !e.AffectsSearch() {
		return nil
	}
	if _, err := s.Refresh(ctx, TriggerEvent); err != nil {
		return err
	}
	if _, err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("cache invalidation after catalog event failed", "event", e.Type, "error", err)
	}
	return nil
}

func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

func (s *Service) InvalidateCache(ctx context.Context) (int64, error) {
	return s.cache.Invalidate(ctx)
}

// resolveLimit maps 0 to the default and caps at MaxResults.
func (s *Service) resolveLimit(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, ErrInvalidLimit
	case limit == 0:
		limit = s.opts.DefaultLimit
	}
	if limit > s.opts.MaxResults {
		limit = s.opts.MaxResults
	}
	return limit, nil
}

// fallbackSize is limit, reduced to FallbackLimit when that is smaller.
func (s *Service) fallbackSize(limit int) int {
	if s.opts.FallbackLimit > 0 && s.opts.FallbackLimit < limit {
		return s.opts.FallbackLimit
	}
	return limit
}

func (s *Service) active() (*snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, apperrors.ErrIndexNotReady
	}
	return snap, nil
}

// Search ranks published books against query, optionally restricted to one
// category. The boolean reports a result-cache hit.
func (s *Service) Search(ctx context.Context, query, category string, limit int) (Result, bool, error) {
	start := time.Now()
	limit, err := s.resolveLimit(limit)
	if err != nil {
		return Result{}, false, err
	}
	snap, err := s.active()
	if err != nil {
		s.observe(KindSearch, Result{}, false, err, start)
		return Result{}, false, err
	}
	// the cache key normalizes the same way, so equal keys rank equal text
	query = cache.NormalizeQuery(query)
	category = strings.TrimSpace(category)

	key := cache.Key{Kind: KindSearch, Query: query, Category: category, Limit: limit, Version: snap.digest}
	res, hit, err := s.cache.GetOrCompute(ctx, key, func() (Result, error) {
		return s.rank(snap, query, category, limit), nil
	})
	if err != nil {
		s.observe(KindSearch, Result{}, false, err, start)
		return Result{}, false, err
	}
	// cached entries may come from a replica with its own version counter
	res.SnapshotVersion = snap.version
	s.observe(KindSearch, res, hit, nil, start)
	return res, hit, nil
}

func (s *Service) rank(snap *snapshot, query, category string, limit int) Result {
	scores := snap.ranker.Scores(query)
	lower := strings.ToLower(query)
	matchExact := s.opts.ExactMatchFirst && lower != ""

	var exact, scored []Hit
	for i, b := range snap.books {
		if !inCategory(b, category) {
			continue
		}
		switch {
		case matchExact && snap.exact(i, lower):
			exact = append(exact, Hit{Book: b, Score: scores[i], Exact: true})
		case scores[i] > 0:
			scored = append(scored, Hit{Book: b, Score: scores[i]})
		}
	}
	sortByScore(exact)
	sortByScore(scored)

	hits := append(exact, scored...)
	if len(hits) == 0 {
		return Result{
			Hits:            snap.recent(s.fallbackSize(limit), category, ""),
			Fallback:        true,
			SnapshotVersion: snap.version,
		}
	}
	res := Result{
		ExactMatches:    len(exact),
		Total:           len(hits),
		SnapshotVersion: snap.version,
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	if res.ExactMatches > len(hits) {
		res.ExactMatches = len(hits)
	}
	res.Hits = hits
	return res
}

// sortByScore orders hits by descending score. Hits are collected in corpus
// order, so the stable sort breaks ties by corpus position.
func sortByScore(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
}

// Similar ranks the published books most like the anchor book, excluding
// the anchor itself. The anchor must be published; a book published after
// the last refresh is still served by ranking it against the snapshot. The
// boolean reports a hit in the per-snapshot similar-book cache.
func (s *Service) Similar(ctx context.Context, bookID string, limit int) (Result, bool, error) {
	start := time.Now()
	limit, err := s.resolveLimit(limit)
	if err != nil {
		return Result{}, false, err
	}
	res, hit, err := s.similar(ctx, bookID, limit)
	if err != nil {
		s.observe(KindSimilar, Result{}, false, err, start)
		return Result{}, false, err
	}
	s.observe(KindSimilar, res, hit, nil, start)
	return res, hit, nil
}

func (s *Service) similar(ctx context.Context, bookID string, limit int) (Result, bool, error) {
	snap, err := s.active()
	if err != nil {
		return Result{}, false, err
	}

	var hits []Hit
	hit := false
	if idx, ok := snap.byID[bookID]; ok {
		key := similarKey{bookID: bookID, limit: limit}
		if cached, ok := snap.similar.Get(key); ok {
			hits, hit = cached, true
		} else {
			hits, err = rankAround(snap, idx, limit)
			if err != nil {
				return Result{}, false, err
			}
			snap.similar.Add(key, hits)
		}
	} else {
		anchor, err := s.reader.GetBook(ctx, bookID)
		if err != nil {
			return Result{}, false, err
		}
		if anchor.Status != catalog.StatusPublished {
			return Result{}, false, apperrors.ErrBookNotFound
		}
		hits, err = rankAgainst(snap, anchor, limit)
		if err != nil {
			return Result{}, false, err
		}
	}

	if len(hits) == 0 {
		return Result{
			Hits:            snap.recent(s.fallbackSize(limit), "", bookID),
			Fallback:        true,
			SnapshotVersion: snap.version,
		}, hit, nil
	}
	return Result{Hits: hits, Total: len(hits), SnapshotVersion: snap.version}, hit, nil
}

// rankAround ranks the snapshot against the text of its own book idx. The
// anchor scores itself, so one extra slot is requested and then dropped.
func rankAround(snap *snapshot, idx, limit int) ([]Hit, error) {
	matches, err := snap.ranker.RankScored(catalog.Document(snap.books[idx]), limit+1)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, limit)
	for _, m := range matches {
		if m.Index == idx || len(hits) == limit {
			continue
		}
		hits = append(hits, Hit{Book: snap.books[m.Index], Score: m.Score})
	}
	return hits, nil
}

// rankAgainst builds a corpus with the anchor at position 0 followed by the
// snapshot, ranks it against the anchor's text, drops position 0 and shifts
// the remaining positions back onto the snapshot.
func rankAgainst(snap *snapshot, anchor catalog.Book, limit int) ([]Hit, error) {
	doc := catalog.Document(anchor)
	corpus := make([]string, 0, len(snap.books)+1)
	corpus = append(corpus, doc)
	corpus = append(corpus, catalog.Documents(snap.books)...)

	matches, err := tfidf.New(corpus).RankScored(doc, limit+1)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, limit)
	for _, m := range matches {
		if m.Index == 0 || len(hits) == limit {
			continue
		}
		hits = append(hits, Hit{Book: snap.books[m.Index-1], Score: m.Score})
	}
	return hits, nil
}

func (s *Service) observe(kind string, res Result, cacheHit bool, err error, start time.Time) {
	outcome := "ranked"
	switch {
	case err != nil:
		outcome = "error"
	case res.Fallback:
		outcome = "fallback"
	}
	s.metrics.SearchQueriesTotal.WithLabelValues(kind, outcome).Inc()
	if err != nil {
		return
	}
	// the result cache counters only cover search; similar lookups have
	// their own in-process cache
	cacheStatus := "miss"
	if cacheHit {
		cacheStatus = "hit"
	}
	if kind == KindSearch {
		if cacheHit {
			s.metrics.CacheHitsTotal.Inc()
		} else {
			s.metrics.CacheMissesTotal.Inc()
		}
	} else {
		cacheStatus = "lru_" + cacheStatus
	}
	s.metrics.SearchLatency.WithLabelValues(kind, cacheStatus).Observe(time.Since(start).Seconds())
	s.metrics.SearchResultsCount.WithLabelValues(kind).Observe(float64(len(res.Hits)))
}
