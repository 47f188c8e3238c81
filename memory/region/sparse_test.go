package region

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sections(t *testing.T, s *SparseRegion) [][2]int64 {
	t.Helper()
	out := make([][2]int64, 0, s.NumRegions())
	for _, r := range s.Regions() {
		out = append(out, [2]int64{r.Start().Index(), r.End().Index()})
	}
	return out
}

func TestSparseRegion_MergesOverlapAndContainment(t *testing.T) {
	s, err := NewSparseRegion(Array,
		Array.Range(20, 29),
		Array.Range(0, 9),
		Array.Range(5, 14),  // partial overlap extends [0,9]
		Array.Range(22, 25), // contained in [20,29]
	)
	require.NoError(t, err)

	assert.Equal(t, [][2]int64{{0, 14}, {20, 29}}, sections(t, s))
	assert.Equal(t, int64(25), s.Size().Length())
	assert.Equal(t, int64(0), s.Start().Index())
	assert.Equal(t, int64(29), s.End().Index())
}

func TestSparseRegion_AdjacentSectionsStayApart(t *testing.T) {
	s, err := NewSparseRegion(Array, Array.Range(10, 19), Array.Range(0, 9))
	require.NoError(t, err)

	assert.Equal(t, [][2]int64{{0, 9}, {10, 19}}, sections(t, s))
	assert.Equal(t, 2, s.NumRegions())
}

func TestSparseRegion_FlattensNestedSparse(t *testing.T) {
	inner, err := NewSparseRegion(Array, Array.Range(0, 4), Array.Range(10, 14))
	require.NoError(t, err)

	outer, err := NewSparseRegion(Array, inner, Array.Range(12, 20), Array.Range(30, 30))
	require.NoError(t, err)

	assert.Equal(t, [][2]int64{{0, 4}, {10, 20}, {30, 30}}, sections(t, outer))
	assert.Equal(t, int64(5+11+1), outer.Size().Length())
}

func TestSparseRegion_RejectsMissingAndForeign(t *testing.T) {
	_, err := NewSparseRegion(Array, Array.Range(0, 1), nil)
	require.ErrorIs(t, err, ErrMissingRegion)

	var nilSparse *SparseRegion
	_, err = NewSparseRegion(Array, nilSparse)
	require.ErrorIs(t, err, ErrMissingRegion)

	_, err = NewSparseRegion(Array, Nanoseconds.Range(0, 1))
	require.ErrorIs(t, err, ErrSpaceMismatch)

	_, err = NewSparseRegion(nil)
	require.ErrorIs(t, err, ErrInvalidSpace)
}

func TestSparseRegion_Empty(t *testing.T) {
	s, err := NewSparseRegion(Array, Array.Empty())
	require.NoError(t, err)

	assert.True(t, s.IsEmpty())
	assert.True(t, s.Start().IsOutOfBounds())
	assert.Equal(t, NotFound, s.Search(Array.Position(0)))
	assert.True(t, s.Region(0).IsEmpty())
	assert.Equal(t, int64(0), s.Size().Length())
}

func TestSparseRegion_Search(t *testing.T) {
	s, err := NewSparseRegion(Array, Array.Range(0, 9), Array.Range(20, 29), Array.Range(40, 40))
	require.NoError(t, err)

	tests := []struct {
		pos  int64
		want int
	}{
		{0, 0}, {9, 0}, {10, NotFound}, {19, NotFound}, {20, 1},
		{29, 1}, {39, NotFound}, {40, 2}, {41, NotFound},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Search(Array.Position(tt.pos)), "position %d", tt.pos)
		assert.Equal(t, tt.want >= 0, s.Contains(Array.Position(tt.pos)))
	}
	assert.Equal(t, NotFound, s.Search(Array.OutOfBounds()))
	assert.Equal(t, NotFound, s.Search(Nanoseconds.Position(5)))
}

func TestSparseRegion_Overlapping(t *testing.T) {
	s, err := NewSparseRegion(Array, Array.Range(0, 9), Array.Range(20, 29), Array.Range(40, 49))
	require.NoError(t, err)

	tests := []struct {
		name        string
		start, end  int64
		first, last int
	}{
		{"inside first", 2, 3, 0, 0},
		{"gap to second", 12, 25, 1, 1},
		{"spans all", 0, 100, 0, 2},
		{"gap only", 10, 19, NotFound, NotFound},
		{"after all", 50, 60, NotFound, NotFound},
		{"end in gap", 5, 35, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last := s.Overlapping(Array.Range(tt.start, tt.end))
			assert.Equal(t, tt.first, first)
			assert.Equal(t, tt.last, last)
		})
	}
}

func TestSparseRegion_Intersect(t *testing.T) {
	s, err := NewSparseRegion(Array, Array.Range(0, 9), Array.Range(20, 29))
	require.NoError(t, err)

	got := s.Intersect(Array.Range(5, 24))
	assert.Equal(t, [][2]int64{{5, 9}, {20, 24}}, sections(t, got))
	assert.Equal(t, int64(10), got.Size().Length())

	assert.True(t, s.Intersect(Array.Range(10, 19)).IsEmpty())
}

func TestBuilder(t *testing.T) {
	s, err := NewBuilder(Array).
		Concatenate(Array.Range(10, 19)).
		Concatenate(Array.Range(0, 9), Array.Range(15, 22)).
		Build()
	require.NoError(t, err)

	assert.Equal(t, [][2]int64{{0, 9}, {10, 22}}, sections(t, s))
}

// Merged sections are sorted, pairwise disjoint and sum to Size for any
// candidate set.
func TestSparseRegion_MergeProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for iter := range 200 {
		n := rng.IntN(20)
		spans := make([]Span, 0, n)
		for range n {
			start := rng.Int64N(200)
			spans = append(spans, Array.Range(start, start+rng.Int64N(15)))
		}

		s, err := NewSparseRegion(Array, spans...)
		require.NoError(t, err)

		var total int64
		for i := range s.NumRegions() {
			r := s.Region(i)
			total += r.Size().Length()
			if i > 0 {
				prev := s.Region(i - 1)
				require.Less(t, prev.End().Index(), r.Start().Index(), "iteration %d", iter)
			}
		}
		require.Equal(t, total, s.Size().Length(), "iteration %d", iter)

		// Every input Position is covered.
		for _, sp := range spans {
			require.True(t, s.Contains(sp.Start()))
			require.True(t, s.Contains(sp.End()))
		}
	}
}

// Search agrees with a linear scan of the sections.
func TestSparseRegion_SearchMatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for range 100 {
		var spans []Span
		for range rng.IntN(12) {
			start := rng.Int64N(300)
			spans = append(spans, Array.Range(start, start+rng.Int64N(20)))
		}
		s, err := NewSparseRegion(Array, spans...)
		require.NoError(t, err)

		for pos := int64(0); pos < 330; pos++ {
			p := Array.Position(pos)
			want := NotFound
			for i := range s.NumRegions() {
				if s.Region(i).Contains(p) {
					want = i
					break
				}
			}
			require.Equal(t, want, s.Search(p), "position %d in %s", pos, s)
		}
	}
}
