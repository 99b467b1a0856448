// Package facematch identifies a face embedding against the enrolled gallery.
//
// Matching is a pure function: every stored embedding is scored, the
// globally best topK images vote for the person they belong to, and the
// winner is accepted only when its best score clears the threshold.
package facematch

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/kozaktomas/faceinbox/internal/faceerr"
)

// Embedding is one enrolled image's vector.
type Embedding struct {
	ImageID int64
	Vector  []float32
}

// Gallery maps a person ID to that person's embeddings in enrollment order.
type Gallery map[int64][]Embedding

// Size returns the total number of embeddings.
func (g Gallery) Size() int {
	n := 0
	for _, embs := range g {
		n += len(embs)
	}
	return n
}

// Verdict is the outcome of a match.
type Verdict struct {
	Matched  bool
	PersonID int64   // 0 when unknown
	Score    float64 // winner's best score, or the best score seen when unknown
	Votes    int     // occurrences of the winner in the voting slice
}

// candidate is one scored gallery image.
type candidate struct {
	personID int64
	imageID  int64
	score    float64
}

// tally accumulates one person's votes inside the voting slice.
type tally struct {
	personID int64
	votes    int
	best     float64
}

// Match scores query against every embedding in gallery and votes among the
// topK best. It fails with faceerr.ErrInvalidInput on bad parameters or when
// any stored embedding has a different dimensionality than the query.
func Match(query []float32, gallery Gallery, topK int, threshold float64) (Verdict, error) {
	if len(query) == 0 {
		return Verdict{}, fmt.Errorf("%w: empty query embedding", faceerr.ErrInvalidInput)
	}
	if topK < 1 {
		return Verdict{}, fmt.Errorf("%w: topK must be at least 1, got %d", faceerr.ErrInvalidInput, topK)
	}
	if threshold <= 0 || threshold >= 1 {
		return Verdict{}, fmt.Errorf("%w: threshold must be in (0,1), got %v", faceerr.ErrInvalidInput, threshold)
	}

	candidates := make([]candidate, 0, gallery.Size())
	for personID, embs := range gallery {
		for _, e := range embs {
			if len(e.Vector) != len(query) {
				return Verdict{}, fmt.Errorf("%w: image %d has %d dimensions, query has %d",
					faceerr.ErrInvalidInput, e.ImageID, len(e.Vector), len(query))
			}
			candidates = append(candidates, candidate{
				personID: personID,
				imageID:  e.ImageID,
				score:    CosineSimilarity(query, e.Vector),
			})
		}
	}
	if len(candidates) == 0 {
		return Verdict{}, nil
	}

	// Map iteration order is random; the full key makes the order total.
	slices.SortFunc(candidates, func(a, b candidate) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.personID, b.personID); c != 0 {
			return c
		}
		return cmp.Compare(a.imageID, b.imageID)
	})

	top := candidates[:min(topK, len(candidates))]
	winner := vote(top)

	if winner.best >= threshold {
		return Verdict{Matched: true, PersonID: winner.personID, Score: winner.best, Votes: winner.votes}, nil
	}
	return Verdict{Score: candidates[0].score}, nil
}

// vote picks the person with the most occurrences, then the highest single
// score, then the lowest ID.
func vote(top []candidate) tally {
	tallies := make([]tally, 0, len(top))
	index := make(map[int64]int, len(top))
	for _, c := range top {
		i, ok := index[c.personID]
		if !ok {
			index[c.personID] = len(tallies)
			tallies = append(tallies, tally{personID: c.personID, votes: 1, best: c.score})
			continue
		}
		tallies[i].votes++
		if c.score > tallies[i].best {
			tallies[i].best = c.score
		}
	}

	winner := tallies[0]
	for _, t := range tallies[1:] {
		switch {
		case t.votes > winner.votes:
			winner = t
		case t.votes == winner.votes && t.best > winner.best:
			winner = t
		case t.votes == winner.votes && t.best == winner.best && t.personID < winner.personID:
			winner = t
		}
	}
	return winner
}
