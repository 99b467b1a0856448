// Package gallery owns the lifecycle of persons and their enrolled face images.
//
// Rows live in the database store and image files in the file store. Files
// are written before a row is committed and deleted only after the row is
// gone. Mutations touching one person are serialized by a per-person lock.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kozaktomas/faceinbox/internal/constants"
	"github.com/kozaktomas/faceinbox/internal/database"
	"github.com/kozaktomas/faceinbox/internal/embedding"
	"github.com/kozaktomas/faceinbox/internal/faceerr"
	"github.com/kozaktomas/faceinbox/internal/facematch"
	"github.com/kozaktomas/faceinbox/internal/imaging"
	"github.com/kozaktomas/faceinbox/internal/metrics"
	"github.com/kozaktomas/faceinbox/internal/storage"
	"go.uber.org/zap"
)

// Enrollment kinds used for metrics.
const (
	KindAuto   = "auto"
	KindManual = "manual"
)

// Service manages persons and face images.
type Service struct {
	store   database.GalleryWriter
	files   *storage.FileStore
	logger  *zap.Logger
	metrics *metrics.Metrics

	createMu sync.Mutex
	locksMu  sync.Mutex
	locks    map[int64]*sync.Mutex
}

// New creates a gallery service.
func New(store database.GalleryWriter, files *storage.FileStore, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		files:   files,
		logger:  logger.With(zap.String("component", "gallery")),
		metrics: m,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// lockPerson acquires the person's lock and returns its release func.
func (s *Service) lockPerson(id int64) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// CreatePerson derives a unique slug from nickname and stores the person.
func (s *Service) CreatePerson(ctx context.Context, nickname string) (*database.Person, error) {
	nickname = strings.TrimSpace(nickname)
	base := facematch.Slugify(nickname)
	if base == "" {
		return nil, fmt.Errorf("%w: nickname %q has no usable characters", faceerr.ErrInvalidInput, nickname)
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	name, err := facematch.UniqueSlug(base, func(candidate string) (bool, error) {
		return s.store.PersonNameExists(ctx, candidate)
	})
	if err != nil {
		return nil, fmt.Errorf("resolve person name: %w", err)
	}

	p := &database.Person{Name: name, Nickname: nickname}
	if err := s.store.CreatePerson(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("person created", zap.Int64("person_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

// RenamePerson changes the nickname. The slug stays as it was created.
func (s *Service) RenamePerson(ctx context.Context, id int64, nickname string) (*database.Person, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, fmt.Errorf("%w: nickname is required", faceerr.ErrInvalidInput)
	}
	unlock := s.lockPerson(id)
	defer unlock()

	if err := s.store.UpdateNickname(ctx, id, nickname); err != nil {
		return nil, err
	}
	return s.store.GetPerson(ctx, id)
}

// DeletePerson removes the person, every image row and then their files.
func (s *Service) DeletePerson(ctx context.Context, id int64) error {
	unlock := s.lockPerson(id)
	defer unlock()

	person, err := s.store.GetPerson(ctx, id)
	if err != nil {
		return err
	}
	removed, err := s.store.DeletePerson(ctx, id)
	if err != nil {
		return err
	}

	s.removeFiles(removed)
	s.files.RemovePersonDir(person.Name)
	s.logger.Info("person deleted",
		zap.Int64("person_id", id),
		zap.String("name", person.Name),
		zap.Int("images", len(removed)))
	return nil
}

// GetPerson returns one person.
func (s *Service) GetPerson(ctx context.Context, id int64) (*database.Person, error) {
	return s.store.GetPerson(ctx, id)
}

// ListPersons returns persons with their active image counts.
func (s *Service) ListPersons(ctx context.Context) ([]database.PersonSummary, error) {
	return s.store.ListPersons(ctx)
}

// ListImages returns a person's images oldest first.
func (s *Service) ListImages(ctx context.Context, personID int64) ([]database.FaceImage, error) {
	if _, err := s.store.GetPerson(ctx, personID); err != nil {
		return nil, err
	}
	return s.store.ListImages(ctx, personID)
}

// GetImage returns one of the person's images.
func (s *Service) GetImage(ctx context.Context, personID, imageID int64) (*database.FaceImage, error) {
	img, err := s.store.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if img.PersonID != personID {
		return nil, fmt.Errorf("%w: image %d of person %d", faceerr.ErrNotFound, imageID, personID)
	}
	return img, nil
}

// EnrollRequest describes one image to add to a person's gallery.
type EnrollRequest struct {
	PersonID  int64
	Image     []byte
	Face      embedding.Face
	Tier      embedding.Tier
	MaxImages int
	// Reversible hides evicted images instead of deleting them so the
	// enrollment can later be undone.
	Reversible bool
	Kind       string
}

// EnrollResult reports the new image and the images it pushed out.
type EnrollResult struct {
	Image   database.FaceImage
	Evicted []database.FaceImage
}

// Enroll stores the image files, then the row, evicting the oldest images
// beyond the cap in the same store transaction.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*EnrollResult, error) {
	if len(req.Face.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", faceerr.ErrInvalidInput)
	}
	decoded, format, err := imaging.Decode(req.Image)
	if err != nil {
		return nil, err
	}
	original := req.Image
	if format != "jpeg" {
		if original, err = imaging.EncodeJPEG(decoded); err != nil {
			return nil, fmt.Errorf("%w: %v", faceerr.ErrInvalidInput, err)
		}
	}
	crop, err := imaging.EncodeJPEG(imaging.CropFace(decoded, req.Face.BBox.Rect(),
		constants.FaceCropPadding, constants.FaceCropMinSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", faceerr.ErrInvalidInput, err)
	}

	unlock := s.lockPerson(req.PersonID)
	defer unlock()

	person, err := s.store.GetPerson(ctx, req.PersonID)
	if err != nil {
		return nil, err
	}

	originalRef, faceRef := s.files.GalleryPaths(person.Name)
	if err := s.files.Write(originalRef, original); err != nil {
		return nil, err
	}
	if err := s.files.Write(faceRef, crop); err != nil {
		s.files.Remove(originalRef)
		return nil, err
	}

	img := &database.FaceImage{
		PersonID:     person.ID,
		OriginalPath: originalRef,
		FacePath:     faceRef,
		Embedding:    req.Face.Embedding,
		Tier:         req.Tier.String(),
	}
	evicted, err := s.store.AddFaceImage(ctx, img, req.MaxImages, req.Reversible)
	if err != nil {
		s.files.Remove(originalRef, faceRef)
		if errors.Is(err, faceerr.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: add face image: %v", faceerr.ErrStorage, err)
	}

	kind := "hard"
	if req.Reversible {
		kind = "reversible"
	} else {
		s.removeFiles(evicted)
	}
	s.metrics.RecordEnrollment(req.Kind)
	s.metrics.RecordEvictions(kind, len(evicted))

	s.logger.Info("face image enrolled",
		zap.Int64("person_id", person.ID),
		zap.Int64("image_id", img.ID),
		zap.String("kind", req.Kind),
		zap.Int("evicted", len(evicted)),
		zap.Bool("reversible", req.Reversible))
	return &EnrollResult{Image: *img, Evicted: evicted}, nil
}

// DeleteImage removes one image row, the rows it hid, and then their files.
func (s *Service) DeleteImage(ctx context.Context, personID, imageID int64) error {
	if _, err := s.GetImage(ctx, personID, imageID); err != nil {
		return err
	}
	unlock := s.lockPerson(personID)
	defer unlock()

	removed, err := s.store.DeleteImage(ctx, imageID)
	if err != nil {
		return err
	}
	s.removeFiles(removed)
	s.logger.Info("face image deleted", zap.Int64("person_id", personID), zap.Int64("image_id", imageID))
	return nil
}

// UndoEnrollment deletes an auto-enrolled image and restores the images it
// evicted at their original positions. When the cap was lowered in the
// meantime the oldest restored images are evicted again. An image that was
// itself pushed out by a later enrollment passes its evicted images on to
// that enrollment, so undoing or purging it still accounts for them.
func (s *Service) UndoEnrollment(ctx context.Context, imageID int64, maxImages int) error {
	img, err := s.store.FindImage(ctx, imageID)
	if err != nil {
		return err
	}
	unlock := s.lockPerson(img.PersonID)
	defer unlock()

	removed, restored, err := s.store.RevertEnrollment(ctx, imageID)
	if err != nil {
		return err
	}
	if _, err := s.enforcePersonCap(ctx, img.PersonID, maxImages); err != nil {
		return err
	}
	if err := s.files.Remove(removed.Files()...); err != nil {
		s.logger.Error("failed to remove undone image files", zap.Int64("image_id", imageID), zap.Error(err))
	}
	s.logger.Info("enrollment undone",
		zap.Int64("person_id", img.PersonID),
		zap.Int64("image_id", imageID),
		zap.Bool("was_hidden", removed.EvictedBy != 0),
		zap.Int("restored", len(restored)))
	return nil
}

// PurgeEvictions permanently removes images hidden by the given enrollments,
// including images those had hidden in turn.
func (s *Service) PurgeEvictions(ctx context.Context, byImageIDs []int64) error {
	purged, err := s.store.PurgeEvicted(ctx, byImageIDs)
	if err != nil {
		return err
	}
	s.removeFiles(purged)
	return nil
}

// EnforceCap evicts the oldest images of every person above maxImages and
// returns how many were removed.
func (s *Service) EnforceCap(ctx context.Context, maxImages int) (int, error) {
	persons, err := s.store.ListPersons(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, p := range persons {
		if p.ImageCount <= maxImages {
			continue
		}
		unlock := s.lockPerson(p.ID)
		n, err := s.enforcePersonCap(ctx, p.ID, maxImages)
		unlock()
		if err != nil {
			return total, err
		}
		total += n
	}
	if total > 0 {
		s.logger.Info("gallery cap enforced", zap.Int("max_images", maxImages), zap.Int("evicted", total))
	}
	return total, nil
}

// enforcePersonCap runs with the person's lock held.
func (s *Service) enforcePersonCap(ctx context.Context, personID int64, maxImages int) (int, error) {
	if maxImages <= 0 {
		return 0, nil
	}
	images, err := s.store.ListImages(ctx, personID)
	if err != nil {
		return 0, err
	}
	excess := len(images) - maxImages
	if excess <= 0 {
		return 0, nil
	}
	evicted, err := s.store.EvictOldest(ctx, personID, excess)
	if err != nil {
		return 0, err
	}
	s.removeFiles(evicted)
	s.metrics.RecordEvictions("hard", len(evicted))
	return len(evicted), nil
}

// HiddenImages returns every image held back for a possible undo.
func (s *Service) HiddenImages(ctx context.Context) ([]database.FaceImage, error) {
	images, err := s.store.ListHiddenImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list hidden images: %v", faceerr.ErrStorage, err)
	}
	return images, nil
}

// ReplaceEmbedding swaps an image's embedding under the person's lock.
// Hidden images are covered so an undo never restores a stale embedding.
func (s *Service) ReplaceEmbedding(ctx context.Context, personID, imageID int64, vector []float32, tier embedding.Tier) error {
	unlock := s.lockPerson(personID)
	defer unlock()
	return s.store.ReplaceEmbedding(ctx, imageID, vector, tier.String())
}

// ReadFile returns a stored gallery file.
func (s *Service) ReadFile(ref string) ([]byte, error) {
	return s.files.Read(ref)
}

// removeFiles deletes files of rows that are already gone. Failures are
// logged since the rows cannot be brought back.
func (s *Service) removeFiles(images []database.FaceImage) {
	for _, img := range images {
		if err := s.files.Remove(img.Files()...); err != nil {
			s.logger.Error("failed to remove face image files", zap.Int64("image_id", img.ID), zap.Error(err))
		}
	}
}
