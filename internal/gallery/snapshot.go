package gallery

import (
	"context"
	"fmt"

	"github.com/kozaktomas/faceinbox/internal/database"
	"github.com/kozaktomas/faceinbox/internal/embedding"
	"github.com/kozaktomas/faceinbox/internal/faceerr"
	"github.com/kozaktomas/faceinbox/internal/facematch"
)

// Snapshot is a consistent read of the whole gallery.
type Snapshot struct {
	People []database.PersonImages // persons by ID, images by insertion order
	index  map[int64]int
}

// Snapshot reads every person and active image in one store transaction.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	people, err := s.store.GetGallery(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read gallery: %v", faceerr.ErrStorage, err)
	}
	snap := &Snapshot{People: people, index: make(map[int64]int, len(people))}
	for i, p := range people {
		snap.index[p.Person.ID] = i
	}
	s.metrics.SetGalleryImages(snap.ImageCount())
	return snap, nil
}

// Matchable converts the snapshot into the matcher's input. Only images
// embedded by tier are included; vectors of different models are never
// compared.
func (s *Snapshot) Matchable(tier embedding.Tier) facematch.Gallery {
	g := make(facematch.Gallery, len(s.People))
	for _, p := range s.People {
		var embs []facematch.Embedding
		for _, img := range p.Images {
			if img.Tier != tier.String() {
				continue
			}
			embs = append(embs, facematch.Embedding{ImageID: img.ID, Vector: img.Embedding})
		}
		if len(embs) > 0 {
			g[p.Person.ID] = embs
		}
	}
	return g
}

// Stale returns the active images not embedded by tier.
func (s *Snapshot) Stale(tier embedding.Tier) []database.FaceImage {
	var out []database.FaceImage
	for _, p := range s.People {
		for _, img := range p.Images {
			if img.Tier != tier.String() {
				out = append(out, img)
			}
		}
	}
	return out
}

// Person looks up a person by ID.
func (s *Snapshot) Person(id int64) (database.Person, bool) {
	i, ok := s.index[id]
	if !ok {
		return database.Person{}, false
	}
	return s.People[i].Person, true
}

// ImageCount returns the number of active images.
func (s *Snapshot) ImageCount() int {
	n := 0
	for _, p := range s.People {
		n += len(p.Images)
	}
	return n
}
