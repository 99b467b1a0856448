// Package mock provides an in-memory implementation of the database interfaces for testing.
package mock

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/faceinbox/internal/database"
	"github.com/kozaktomas/faceinbox/internal/faceerr"
)

// Store is a mock implementation of database.Store
type Store struct {
	mu       sync.RWMutex
	persons  map[int64]database.Person
	images   map[int64]database.FaceImage
	events   map[int64]database.Event
	settings map[string]string

	nextPersonID int64
	nextImageID  int64
	nextEventID  int64
	nextSeq      int64

	// Error injection
	CreatePersonError     error
	GetGalleryError       error
	AddFaceImageError     error
	DeleteImageError      error
	ReplaceEmbeddingError error
	RecordEventError      error
	SaveSettingsError     error
}

var _ database.Store = (*Store)(nil)

// NewStore creates an empty mock store
func NewStore() *Store {
	return &Store{
		persons:  make(map[int64]database.Person),
		images:   make(map[int64]database.FaceImage),
		events:   make(map[int64]database.Event),
		settings: make(map[string]string),
	}
}

func copyImage(img database.FaceImage) database.FaceImage {
	img.Embedding = slices.Clone(img.Embedding)
	return img
}

func notFound(kind string, id int64) error {
	return fmt.Errorf("%w: %s %d", faceerr.ErrNotFound, kind, id)
}

// activeImages returns a person's visible images by Seq. Caller holds the lock.
func (s *Store) activeImages(personID int64) []database.FaceImage {
	var out []database.FaceImage
	for _, img := range s.images {
		if img.PersonID == personID && img.EvictedBy == 0 {
			out = append(out, copyImage(img))
		}
	}
	slices.SortFunc(out, func(a, b database.FaceImage) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

// hiddenBy returns rows hidden by any of ids. Caller holds the lock.
func (s *Store) hiddenBy(ids ...int64) []database.FaceImage {
	var out []database.FaceImage
	for _, img := range s.images {
		if img.EvictedBy != 0 && slices.Contains(ids, img.EvictedBy) {
			out = append(out, copyImage(img))
		}
	}
	slices.SortFunc(out, func(a, b database.FaceImage) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

// hiddenTree returns rows hidden by any of ids, and the rows those hid in
// turn. Caller holds the lock.
func (s *Store) hiddenTree(ids ...int64) []database.FaceImage {
	var out []database.FaceImage
	for level := s.hiddenBy(ids...); len(level) > 0; level = s.hiddenBy(imageIDs(level)...) {
		out = append(out, level...)
	}
	slices.SortFunc(out, func(a, b database.FaceImage) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

func imageIDs(images []database.FaceImage) []int64 {
	ids := make([]int64, len(images))
	for i, img := range images {
		ids[i] = img.ID
	}
	return ids
}

// GetPerson returns a person by ID
func (s *Store) GetPerson(ctx context.Context, id int64) (*database.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.persons[id]
	if !ok {
		return nil, notFound("person", id)
	}
	return &p, nil
}

// PersonNameExists checks slug uniqueness
func (s *Store) PersonNameExists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.persons {
		if p.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// ListPersons returns persons ordered by ID
func (s *Store) ListPersons(ctx context.Context) ([]database.PersonSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]database.PersonSummary, 0, len(s.persons))
	for _, id := range slices.Sorted(maps.Keys(s.persons)) {
		out = append(out, database.PersonSummary{Person: s.persons[id], ImageCount: len(s.activeImages(id))})
	}
	return out, nil
}

// GetImage returns an active image
func (s *Store) GetImage(ctx context.Context, id int64) (*database.FaceImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[id]
	if !ok || img.EvictedBy != 0 {
		return nil, notFound("image", id)
	}
	img = copyImage(img)
	return &img, nil
}

// FindImage returns an image, hidden or not
func (s *Store) FindImage(ctx context.Context, id int64) (*database.FaceImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[id]
	if !ok {
		return nil, notFound("image", id)
	}
	img = copyImage(img)
	return &img, nil
}

// ListHiddenImages returns every hidden image
func (s *Store) ListHiddenImages(ctx context.Context) ([]database.FaceImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.FaceImage
	for _, img := range s.images {
		if img.EvictedBy != 0 {
			out = append(out, copyImage(img))
		}
	}
	slices.SortFunc(out, func(a, b database.FaceImage) int {
		return cmp.Or(cmp.Compare(a.PersonID, b.PersonID), cmp.Compare(a.Seq, b.Seq))
	})
	return out, nil
}

// ListImages returns a person's active images
func (s *Store) ListImages(ctx context.Context, personID int64) ([]database.FaceImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeImages(personID), nil
}

// GetGallery returns a snapshot of the whole gallery
func (s *Store) GetGallery(ctx context.Context) ([]database.PersonImages, error) {
	if s.GetGalleryError != nil {
		return nil, s.GetGalleryError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]database.PersonImages, 0, len(s.persons))
	for _, id := range slices.Sorted(maps.Keys(s.persons)) {
		out = append(out, database.PersonImages{Person: s.persons[id], Images: s.activeImages(id)})
	}
	return out, nil
}

// CreatePerson adds a person
func (s *Store) CreatePerson(ctx context.Context, p *database.Person) error {
	if s.CreatePersonError != nil {
		return s.CreatePersonError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.persons {
		if existing.Name == p.Name {
			return fmt.Errorf("%w: person %q already exists", faceerr.ErrInvalidInput, p.Name)
		}
	}
	s.nextPersonID++
	p.ID = s.nextPersonID
	p.CreatedAt = time.Now().UTC()
	s.persons[p.ID] = *p
	return nil
}

// UpdateNickname changes a person's nickname
func (s *Store) UpdateNickname(ctx context.Context, id int64, nickname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.persons[id]
	if !ok {
		return notFound("person", id)
	}
	p.Nickname = nickname
	s.persons[id] = p
	return nil
}

// DeletePerson removes a person and all image rows
func (s *Store) DeletePerson(ctx context.Context, id int64) ([]database.FaceImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.persons[id]; !ok {
		return nil, notFound("person", id)
	}
	var removed []database.FaceImage
	for imgID, img := range s.images {
		if img.PersonID == id {
			removed = append(removed, copyImage(img))
			delete(s.images, imgID)
		}
	}
	delete(s.persons, id)
	slices.SortFunc(removed, func(a, b database.FaceImage) int { return cmp.Compare(a.Seq, b.Seq) })
	return removed, nil
}

// AddFaceImage appends an image and evicts beyond maxImages atomically
func (s *Store) AddFaceImage(ctx context.Context, img *database.FaceImage, maxImages int, reversible bool) ([]database.FaceImage, error) {
	if s.AddFaceImageError != nil {
		return nil, s.AddFaceImageError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.persons[img.PersonID]; !ok {
		return nil, notFound("person", img.PersonID)
	}

	s.nextImageID++
	s.nextSeq++
	img.ID = s.nextImageID
	img.Seq = s.nextSeq
	img.CreatedAt = time.Now().UTC()
	img.EvictedBy = 0
	s.images[img.ID] = copyImage(*img)

	active := s.activeImages(img.PersonID)
	excess := len(active) - maxImages
	if maxImages <= 0 || excess <= 0 {
		return nil, nil
	}
	evicted := active[:excess]
	for _, e := range evicted {
		if reversible {
			row := s.images[e.ID]
			row.EvictedBy = img.ID
			s.images[e.ID] = row
		} else {
			delete(s.images, e.ID)
		}
	}
	return evicted, nil
}

// EvictOldest deletes the oldest active images of a person
func (s *Store) EvictOldest(ctx context.Context, personID int64, count int) ([]database.FaceImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := s.activeImages(personID)
	count = min(count, len(active))
	if count <= 0 {
		return nil, nil
	}
	evicted := active[:count]
	for _, e := range evicted {
		delete(s.images, e.ID)
	}
	return evicted, nil
}

// DeleteImage removes an active image and the rows it hid
func (s *Store) DeleteImage(ctx context.Context, id int64) ([]database.FaceImage, error) {
	if s.DeleteImageError != nil {
		return nil, s.DeleteImageError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok || img.EvictedBy != 0 {
		return nil, notFound("image", id)
	}
	removed := []database.FaceImage{copyImage(img)}
	removed = append(removed, s.hiddenTree(id)...)
	for _, r := range removed {
		delete(s.images, r.ID)
	}
	return removed, nil
}

// RevertEnrollment removes an image and restores or re-parents the rows it evicted
func (s *Store) RevertEnrollment(ctx context.Context, id int64) (*database.FaceImage, []database.FaceImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return nil, nil, notFound("image", id)
	}
	children := s.hiddenBy(id)
	for i, r := range children {
		row := s.images[r.ID]
		row.EvictedBy = img.EvictedBy
		s.images[r.ID] = row
		children[i].EvictedBy = img.EvictedBy
	}
	delete(s.images, id)
	removed := copyImage(img)
	if img.EvictedBy != 0 {
		return &removed, nil, nil
	}
	return &removed, children, nil
}

// PurgeEvicted deletes rows hidden by the given images
func (s *Store) PurgeEvicted(ctx context.Context, byImageIDs []int64) ([]database.FaceImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := s.hiddenTree(byImageIDs...)
	for _, p := range purged {
		delete(s.images, p.ID)
	}
	return purged, nil
}

// ReplaceEmbedding overwrites an image embedding
func (s *Store) ReplaceEmbedding(ctx context.Context, imageID int64, embedding []float32, tier string) error {
	if s.ReplaceEmbeddingError != nil {
		return s.ReplaceEmbeddingError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[imageID]
	if !ok {
		return notFound("image", imageID)
	}
	img.Embedding = slices.Clone(embedding)
	img.Tier = tier
	s.images[imageID] = img
	return nil
}

// HiddenCount returns the number of reversibly evicted rows
func (s *Store) HiddenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, img := range s.images {
		if img.EvictedBy != 0 {
			n++
		}
	}
	return n
}

// RecordEvent appends an event
func (s *Store) RecordEvent(ctx context.Context, e *database.Event) error {
	if s.RecordEventError != nil {
		return s.RecordEventError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	e.ID = s.nextEventID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	stored := *e
	stored.BBox = slices.Clone(e.BBox)
	s.events[e.ID] = stored
	return nil
}

// GetEvent returns an event by ID
func (s *Store) GetEvent(ctx context.Context, id int64) (*database.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, notFound("event", id)
	}
	return &e, nil
}

// sortedEvents returns events newest first. Caller holds the lock.
func (s *Store) sortedEvents() []database.Event {
	out := slices.Collect(maps.Values(s.events))
	slices.SortFunc(out, func(a, b database.Event) int { return cmp.Compare(b.ID, a.ID) })
	return out
}

// ListEvents returns the newest events first
func (s *Store) ListEvents(ctx context.Context, limit int) ([]database.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.sortedEvents()
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteEvent removes an event
func (s *Store) DeleteEvent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return notFound("event", id)
	}
	delete(s.events, id)
	return nil
}

// PruneEvents keeps the newest keep events
func (s *Store) PruneEvents(ctx context.Context, keep int) ([]database.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sortedEvents()
	if len(all) <= keep {
		return nil, nil
	}
	removed := all[keep:]
	for _, e := range removed {
		delete(s.events, e.ID)
	}
	return removed, nil
}

// ClearEvents removes all events
func (s *Store) ClearEvents(ctx context.Context) ([]database.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sortedEvents()
	s.events = make(map[int64]database.Event)
	return all, nil
}

// LoadSettings returns persisted settings
func (s *Store) LoadSettings(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.settings), nil
}

// SaveSettings upserts settings
func (s *Store) SaveSettings(ctx context.Context, values map[string]string) error {
	if s.SaveSettingsError != nil {
		return s.SaveSettingsError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.settings, values)
	return nil
}
