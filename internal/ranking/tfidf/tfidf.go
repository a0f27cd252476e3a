// Package tfidf ranks an ordered corpus of text documents against free-text
// queries with raw-count TF times smoothed IDF.
//
// A Ranker is built once over its corpus and never mutated afterwards, so a
// single instance may be queried from any number of goroutines. Results are
// corpus indices; callers map them back to their own records.
package tfidf

import (
	"fmt"
	"math"
	"sort"

	"github.com/booksphere/booksphere/internal/ranking/tokenizer"
	apperrors "github.com/booksphere/booksphere/pkg/errors"
)

// DefaultTopN is the result size used when callers have no preference.
const DefaultTopN = 5

// ErrInvalidTopN is returned for a negative result size.
var ErrInvalidTopN = fmt.Errorf("%w: topN must be >= 0", apperrors.ErrInvalidInput)

// Match is a ranked document and its relevance score.
type Match struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Ranker holds the term and document frequency tables of a fixed corpus.
type Ranker struct {
	termFrequencies   []map[string]int
	documentFrequency map[string]int
	totalDocuments    int
}

// New tokenizes every document and builds the frequency tables.
func New(docs []string) *Ranker {
	r := &Ranker{
		termFrequencies:   make([]map[string]int, len(docs)),
		documentFrequency: make(map[string]int),
		totalDocuments:    len(docs),
	}
	for i, doc := range docs {
		tf := make(map[string]int)
		for _, token := range tokenizer.Tokenize(doc) {
			tf[token]++
		}
		r.termFrequencies[i] = tf
		// each key of tf is a distinct token of the document
		for token := range tf {
			r.documentFrequency[token]++
		}
	}
	return r
}

// Len returns the number of documents in the corpus.
func (r *Ranker) Len() int { return r.totalDocuments }

// TermFrequency returns how often term occurs in document docIndex.
func (r *Ranker) TermFrequency(docIndex int, term string) int {
	if docIndex < 0 || docIndex >= r.totalDocuments {
		return 0
	}
	return r.termFrequencies[docIndex][term]
}

// DocumentFrequency returns the number of documents containing term.
func (r *Ranker) DocumentFrequency(term string) int {
	return r.documentFrequency[term]
}

// IDF returns ln(N / (1 + df)). It goes negative once a term appears in
// every document, and those terms pull a document's score down.
func (r *Ranker) IDF(term string) float64 {
	if r.totalDocuments == 0 {
		return 0
	}
	return math.Log(float64(r.totalDocuments) / float64(1+r.documentFrequency[term]))
}

// TermScore is tf(docIndex, term) * idf(term).
func (r *Ranker) TermScore(docIndex int, term string) float64 {
	tf := r.TermFrequency(docIndex, term)
	if tf == 0 {
		return 0
	}
	return float64(tf) * r.IDF(term)
}

// Score sums TermScore over the query tokens for one document.
func (r *Ranker) Score(query string, docIndex int) float64 {
	return r.scoreTokens(tokenizer.Tokenize(query), docIndex)
}

func (r *Ranker) scoreTokens(tokens []string, docIndex int) float64 {
	var total float64
	for _, t := range tokens {
		total += r.TermScore(docIndex, t)
	}
	return total
}

// Scores returns the total score of every document, indexed like the corpus.
func (r *Ranker) Scores(query string) []float64 {
	tokens := tokenizer.Tokenize(query)
	scores := make([]float64, r.totalDocuments)
	if len(tokens) == 0 {
		return scores
	}
	for i := range scores {
		scores[i] = r.scoreTokens(tokens, i)
	}
	return scores
}

// RankScored orders documents by descending score, breaking ties by
// ascending corpus index, drops those scoring zero or below and keeps at
// most topN.
func (r *Ranker) RankScored(query string, topN int) ([]Match, error) {
	if topN < 0 {
		return nil, ErrInvalidTopN
	}
	matches := make([]Match, 0)
	if topN == 0 || r.totalDocuments == 0 {
		return matches, nil
	}
	for i, score := range r.Scores(query) {
		if score > 0 {
			matches = append(matches, Match{Index: i, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topN {
		matches = matches[:topN]
	}
	return matches, nil
}

// Rank is RankScored without the scores.
func (r *Ranker) Rank(query string, topN int) ([]int, error) {
	matches, err := r.RankScored(query, topN)
	if err != nil {
		return nil, err
	}
	indices := make([]int, len(matches))
	for i, m := range matches {
		indices[i] = m.Index
	}
	return indices, nil
}
