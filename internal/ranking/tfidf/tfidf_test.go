package tfidf

import (
	"fmt"
	"math"
	"sync"
	"testing"

	apperrors "github.com/booksphere/booksphere/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var classicsCorpus = []string{
	"the great gatsby fiction classic",
	"dune science fiction epic",
	"pride and prejudice romance classic",
}

// classicsCorpus plus one unrelated document, so that terms held by two of
// the documents get a positive IDF.
var fourBookCorpus = append(append([]string{}, classicsCorpus...), "war and peace russian novel")

func TestNew_Tables(t *testing.T) {
	r := New([]string{"dune dune dune arrakis", "arrakis spice"})

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 3, r.TermFrequency(0, "dune"))
	assert.Equal(t, 1, r.TermFrequency(0, "arrakis"))
	assert.Equal(t, 0, r.TermFrequency(1, "dune"))
	assert.Equal(t, 0, r.TermFrequency(5, "dune"))

	// repeats inside one document count once
	assert.Equal(t, 1, r.DocumentFrequency("dune"))
	assert.Equal(t, 2, r.DocumentFrequency("arrakis"))
	assert.Equal(t, 0, r.DocumentFrequency("zebra"))
}

func TestIDF(t *testing.T) {
	r := New(fourBookCorpus)

	assert.InDelta(t, math.Log(4.0/3.0), r.IDF("classic"), 1e-12)
	assert.InDelta(t, math.Log(4.0/2.0), r.IDF("dune"), 1e-12)
	// unseen terms get ln(N)
	assert.InDelta(t, math.Log(4.0), r.IDF("zebra"), 1e-12)

	// a term in every document has ln(N/(N+1)) < 0
	both := New([]string{"book one", "book two"})
	assert.InDelta(t, math.Log(2.0/3.0), both.IDF("book"), 1e-12)

	assert.Equal(t, 0.0, New(nil).IDF("anything"))
}

func TestTermScore(t *testing.T) {
	r := New([]string{"dune dune spice", "spice trade", "war peace"})
	assert.InDelta(t, 2*math.Log(3.0/2.0), r.TermScore(0, "dune"), 1e-12)
	assert.Equal(t, 0.0, r.TermScore(1, "dune"))
}

func TestRank_ConcreteScenario(t *testing.T) {
	// Each query term sits in 2 of 3 documents, so idf = ln(3/3) = 0 and
	// nothing scores above zero.
	got, err := New(classicsCorpus).Rank("classic fiction", DefaultTopN)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = New(fourBookCorpus).Rank("classic fiction", DefaultTopN)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestRank_UbiquitousTermPenalizes(t *testing.T) {
	r := New([]string{
		"common common common rare",
		"rare common",
		"other common",
		"more common",
	})

	common := math.Log(4.0 / 5.0)
	rare := math.Log(4.0 / 3.0)
	assert.InDelta(t, 3*common+rare, r.Score("common rare", 0), 1e-12)
	assert.Less(t, r.Score("common rare", 0), 0.0)
	assert.InDelta(t, common+rare, r.Score("common rare", 1), 1e-12)

	got, err := r.Rank("common rare", DefaultTopN)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, got)

	got, err = r.Rank("common", DefaultTopN)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRankScored_Scores(t *testing.T) {
	matches, err := New(fourBookCorpus).RankScored("classic fiction", DefaultTopN)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	idf := math.Log(4.0 / 3.0)
	assert.InDelta(t, 2*idf, matches[0].Score, 1e-12)
	assert.InDelta(t, idf, matches[1].Score, 1e-12)
	assert.InDelta(t, idf, matches[2].Score, 1e-12)
}

func TestRank_TiesKeepCorpusOrder(t *testing.T) {
	r := New([]string{
		"war and peace",
		"space opera classic",
		"romance classic",
		"mystery classic",
		"cookbook",
	})
	got, err := r.Rank("classic", 10)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestRank_Deterministic(t *testing.T) {
	r := New(fourBookCorpus)
	first, err := r.Rank("classic fiction romance", 5)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := r.Rank("classic fiction romance", 5)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRank_SelfSimilarity(t *testing.T) {
	corpus := []string{
		"dune science fiction epic",
		"the great gatsby fiction classic",
		"pride and prejudice romance classic",
		"war and peace russian novel",
	}
	r := New(corpus)
	for i, doc := range corpus {
		got, err := r.Rank(doc, 1)
		require.NoError(t, err)
		assert.Equal(t, []int{i}, got, "document %d should rank itself first", i)
	}
}

func TestRank_EmptyQueryAndCorpus(t *testing.T) {
	got, err := New(fourBookCorpus).Rank("", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)

	got, err = New(nil).Rank("dune", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRank_NoOverlapExcluded(t *testing.T) {
	got, err := New(fourBookCorpus).Rank("russian", 10)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, got)

	got, err = New(fourBookCorpus).Rank("zebra", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRank_TopNBound(t *testing.T) {
	r := New(fourBookCorpus)
	for k := 0; k <= 5; k++ {
		got, err := r.Rank("classic fiction", k)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(got), k)
	}
	got, err := r.Rank("classic fiction", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = r.Rank("classic fiction", 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, got)
}

func TestRank_NegativeTopN(t *testing.T) {
	_, err := New(fourBookCorpus).Rank("classic", -1)
	require.ErrorIs(t, err, ErrInvalidTopN)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestRank_CaseAndPunctuationInsensitive(t *testing.T) {
	r := New([]string{"the great gatsby", "gatsby the musical", "great expectations", "war and peace", "cookbook"})
	want := r.Scores("the great gatsby")
	assert.Greater(t, want[0], 0.0)
	assert.Equal(t, want, r.Scores("The Great Gatsby!"))
}

func TestRank_ShortTokensOnly(t *testing.T) {
	got, err := New([]string{"a an to", "to be or not"}).Rank("a an to", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRank_RepeatedQueryTokensWeighMore(t *testing.T) {
	r := New(fourBookCorpus)
	single := r.Score("classic", 0)
	double := r.Score("classic classic", 0)
	assert.InDelta(t, 2*single, double, 1e-12)
}

func TestRank_ConcurrentReaders(t *testing.T) {
	r := New(fourBookCorpus)
	want, err := r.Rank("classic fiction", 5)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Rank("classic fiction", 5)
			if err != nil {
				errs <- err
				return
			}
			if fmt.Sprint(got) != fmt.Sprint(want) {
				errs <- fmt.Errorf("got %v, want %v", got, want)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func BenchmarkRank(b *testing.B) {
	for _, n := range []int{100, 1000, 5000} {
		docs := make([]string, n)
		for i := range docs {
			docs[i] = fmt.Sprintf("book %d by author%d about topic%d and genre%d classic fiction", i, i%97, i%31, i%7)
		}
		r := New(docs)
		b.Run(fmt.Sprintf("docs_%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_, _ = r.Rank("topic3 genre2 classic", DefaultTopN)
			}
		})
	}
}

func BenchmarkNew(b *testing.B) {
	docs := make([]string, 1000)
	for i := range docs {
		docs[i] = fmt.Sprintf("title%d author%d a long description of book number %d in category%d", i, i%50, i, i%12)
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = New(docs)
	}
}
