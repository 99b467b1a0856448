package facematch

import (
	"errors"
	"math"
	"testing"

	"github.com/kozaktomas/faceinbox/internal/faceerr"
)

var query = []float32{1, 0, 0}

// withCos returns a unit vector whose cosine similarity to query is c.
func withCos(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c)), 0}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

const (
	alice = int64(1)
	bob   = int64(2)
	carol = int64(3)
)

func TestMatch_BestImageAboveThreshold(t *testing.T) {
	g := Gallery{
		alice: {{ImageID: 1, Vector: withCos(0.9)}, {ImageID: 2, Vector: withCos(0.2)}, {ImageID: 3, Vector: withCos(0.1)}},
	}

	v, err := Match(query, g, 3, 0.4)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if !v.Matched || v.PersonID != alice {
		t.Fatalf("expected matched(alice), got %+v", v)
	}
	if !approx(v.Score, 0.9) {
		t.Errorf("expected score 0.9, got %v", v.Score)
	}
	if v.Votes != 3 {
		t.Errorf("expected 3 votes, got %d", v.Votes)
	}
}

func TestMatch_AllBelowThresholdIsUnknown(t *testing.T) {
	g := Gallery{
		alice: {{ImageID: 1, Vector: withCos(0.35)}, {ImageID: 2, Vector: withCos(0.2)}, {ImageID: 3, Vector: withCos(0.1)}},
	}

	v, err := Match(query, g, 3, 0.4)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if v.Matched {
		t.Fatalf("expected unknown, got %+v", v)
	}
	if v.PersonID != 0 {
		t.Errorf("unknown verdict should carry no person, got %d", v.PersonID)
	}
	if !approx(v.Score, 0.35) {
		t.Errorf("expected best score 0.35, got %v", v.Score)
	}
}

func TestMatch_EmptyGallery(t *testing.T) {
	for _, g := range []Gallery{nil, {}, {alice: nil}} {
		v, err := Match(query, g, 3, 0.4)
		if err != nil {
			t.Fatalf("Match failed: %v", err)
		}
		if v.Matched || v.Score != 0 {
			t.Errorf("expected unknown with score 0, got %+v", v)
		}
	}
}

func TestMatch_VotingBeatsSingleOutlier(t *testing.T) {
	// bob owns the single best image but alice holds two of the top three.
	g := Gallery{
		alice: {{ImageID: 1, Vector: withCos(0.8)}, {ImageID: 2, Vector: withCos(0.75)}},
		bob:   {{ImageID: 3, Vector: withCos(0.95)}, {ImageID: 4, Vector: withCos(0.1)}},
	}

	v, err := Match(query, g, 3, 0.4)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if v.PersonID != alice || !approx(v.Score, 0.8) {
		t.Errorf("expected matched(alice, 0.8), got %+v", v)
	}
}

func TestMatch_TieBreakByHighestScore(t *testing.T) {
	g := Gallery{
		alice: {{ImageID: 1, Vector: withCos(0.7)}},
		bob:   {{ImageID: 2, Vector: withCos(0.9)}},
	}

	v, err := Match(query, g, 2, 0.4)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if v.PersonID != bob {
		t.Errorf("expected bob to win the 1:1 tie on score, got %+v", v)
	}
}

func TestMatch_TieBreakByLowerID(t *testing.T) {
	g := Gallery{
		carol: {{ImageID: 5, Vector: withCos(0.6)}},
		bob:   {{ImageID: 4, Vector: withCos(0.6)}},
	}

	for range 20 {
		v, err := Match(query, g, 2, 0.4)
		if err != nil {
			t.Fatalf("Match failed: %v", err)
		}
		if v.PersonID != bob {
			t.Fatalf("expected lower ID to win a full tie, got %+v", v)
		}
	}
}

func TestMatch_Deterministic(t *testing.T) {
	g := Gallery{
		alice: {{ImageID: 1, Vector: withCos(0.6)}, {ImageID: 2, Vector: withCos(0.5)}},
		bob:   {{ImageID: 3, Vector: withCos(0.6)}, {ImageID: 4, Vector: withCos(0.5)}},
		carol: {{ImageID: 5, Vector: withCos(0.6)}},
	}

	first, err := Match(query, g, 4, 0.4)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	for range 50 {
		v, err := Match(query, g, 4, 0.4)
		if err != nil {
			t.Fatalf("Match failed: %v", err)
		}
		if v != first {
			t.Fatalf("verdict changed between calls: %+v vs %+v", first, v)
		}
	}
}

func TestMatch_TopKLargerThanGallery(t *testing.T) {
	// With k covering everything, bob's three weak images outvote alice's strong one.
	g := Gallery{
		alice: {{ImageID: 1, Vector: withCos(0.95)}},
		bob:   {{ImageID: 2, Vector: withCos(0.5)}, {ImageID: 3, Vector: withCos(0.45)}, {ImageID: 4, Vector: withCos(0.41)}},
	}

	v, err := Match(query, g, 100, 0.4)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if v.PersonID != bob || v.Votes != 3 {
		t.Errorf("expected every embedding to vote, got %+v", v)
	}

	v, err = Match(query, g, 1, 0.4)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if v.PersonID != alice {
		t.Errorf("with k=1 the best image should win, got %+v", v)
	}
}

func TestMatch_InvalidInput(t *testing.T) {
	g := Gallery{alice: {{ImageID: 1, Vector: []float32{1, 0}}}}

	tests := []struct {
		name      string
		query     []float32
		topK      int
		threshold float64
	}{
		{"dimension mismatch", query, 3, 0.4},
		{"empty query", nil, 3, 0.4},
		{"zero topK", []float32{1, 0}, 0, 0.4},
		{"threshold zero", []float32{1, 0}, 3, 0},
		{"threshold one", []float32{1, 0}, 3, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Match(tc.query, g, tc.topK, tc.threshold)
			if !errors.Is(err, faceerr.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CosineSimilarity(tc.a, tc.b); !approx(got, tc.want) {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tc.want)
			}
		})
	}
}
