package search

import (
	"encoding/json"
	"hash/fnv"
	"strings"
	"time"

	"github.com/booksphere/booksphere/internal/catalog"
	"github.com/booksphere/booksphere/internal/ranking/tfidf"
	lru "github.com/hashicorp/golang-lru/v2"
)

// snapshot is an immutable view of the published catalog together with the
// ranker built over it. Queries never see a half-built snapshot: a refresh
// builds a new one and swaps the pointer.
type snapshot struct {
	version uint64
	// digest identifies the corpus contents. Replicas that loaded the same
	// catalog share it, so it keys the shared result cache.
	digest  uint64
	builtAt time.Time

	books   []catalog.Book
	ranker  *tfidf.Ranker
	byID    map[string]int
	titles  []string
	authors []string

	similar *lru.Cache[similarKey, []Hit]
}

type similarKey struct {
	bookID string
	limit  int
}

func buildSnapshot(books []catalog.Book, version uint64, similarSize int, now time.Time) (*snapshot, error) {
	similar, err := lru.New[similarKey, []Hit](similarSize)
	if err != nil {
		return nil, err
	}
	docs := catalog.Documents(books)
	s := &snapshot{
		version: version,
		digest:  digest(books),
		builtAt: now,
		books:   books,
		ranker:  tfidf.New(docs),
		byID:    make(map[string]int, len(books)),
		titles:  make([]string, len(books)),
		authors: make([]string, len(books)),
		similar: similar,
	}
	for i, b := range books {
		s.byID[b.ID] = i
		s.titles[i] = strings.ToLower(b.Title)
		s.authors[i] = strings.ToLower(b.Author)
	}
	return s, nil
}

// digest hashes every field of every book, so a change to any served field
// moves the result cache onto fresh keys.
func digest(books []catalog.Book) uint64 {
	h := fnv.New64a()
	enc := json.NewEncoder(h)
	for _, b := range books {
		// Book encodes plain fields only; Encode cannot fail on it
		_ = enc.Encode(b)
	}
	return h.Sum64()
}

// exact reports whether the lowercased query occurs in the title or author
// of book i.
func (s *snapshot) exact(i int, lowerQuery string) bool {
	return strings.Contains(s.titles[i], lowerQuery) || strings.Contains(s.authors[i], lowerQuery)
}

// recent returns up to n books, newest first, skipping excluded ids and
// books outside category.
func (s *snapshot) recent(n int, category, exclude string) []Hit {
	hits := make([]Hit, 0, n)
	for _, b := range s.books {
		if len(hits) == n {
			break
		}
		if b.ID == exclude || !inCategory(b, category) {
			continue
		}
		hits = append(hits, Hit{Book: b})
	}
	return hits
}

func inCategory(b catalog.Book, category string) bool {
	return category == "" || strings.EqualFold(strings.TrimSpace(b.Category), category)
}
