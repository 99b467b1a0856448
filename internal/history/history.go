// Package history keeps the bounded log of recognition events.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kozaktomas/faceinbox/internal/constants"
	"github.com/kozaktomas/faceinbox/internal/database"
	"github.com/kozaktomas/faceinbox/internal/faceerr"
	"github.com/kozaktomas/faceinbox/internal/imaging"
	"github.com/kozaktomas/faceinbox/internal/storage"
	"go.uber.org/zap"
)

// Gallery is the part of the gallery service that history drives.
type Gallery interface {
	UndoEnrollment(ctx context.Context, imageID int64, maxImages int) error
	PurgeEvictions(ctx context.Context, byImageIDs []int64) error
}

// Service records, lists, undoes and prunes recognition events.
type Service struct {
	store   database.EventStore
	gallery Gallery
	files   *storage.FileStore
	limit   int
	logger  *zap.Logger

	mu sync.Mutex
}

// New creates a history service keeping at most limit events.
func New(store database.EventStore, g Gallery, files *storage.FileStore, limit int, logger *zap.Logger) *Service {
	if limit <= 0 {
		limit = constants.DefaultHistoryLimit
	}
	return &Service{
		store:   store,
		gallery: g,
		files:   files,
		limit:   limit,
		logger:  logger.With(zap.String("component", "history")),
	}
}

// Limit returns the number of events kept.
func (s *Service) Limit() int {
	return s.limit
}

// Record stores a copy of the query image and its thumbnail, inserts the
// event and drops the oldest events beyond the limit.
func (s *Service) Record(ctx context.Context, e *database.Event, image []byte) error {
	decoded, format, err := imaging.Decode(image)
	if err != nil {
		return err
	}
	if format != "jpeg" {
		if image, err = imaging.EncodeJPEG(decoded); err != nil {
			return fmt.Errorf("%w: %v", faceerr.ErrInvalidInput, err)
		}
	}
	thumb, err := imaging.EncodeJPEG(imaging.Thumbnail(decoded, constants.HistoryThumbSize))
	if err != nil {
		return fmt.Errorf("%w: %v", faceerr.ErrInvalidInput, err)
	}

	imageRef, thumbRef := s.files.HistoryPaths()
	if err := s.files.Write(imageRef, image); err != nil {
		return err
	}
	if err := s.files.Write(thumbRef, thumb); err != nil {
		s.files.Remove(imageRef)
		return err
	}
	e.ImagePath, e.ThumbPath = imageRef, thumbRef

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.RecordEvent(ctx, e); err != nil {
		s.files.Remove(imageRef, thumbRef)
		return fmt.Errorf("%w: record event: %v", faceerr.ErrStorage, err)
	}

	pruned, err := s.store.PruneEvents(ctx, s.limit)
	if err != nil {
		s.logger.Error("failed to prune history", zap.Error(err))
		return nil
	}
	s.discard(ctx, pruned)
	return nil
}

// List returns the newest events first.
func (s *Service) List(ctx context.Context, limit int) ([]database.Event, error) {
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}
	return s.store.ListEvents(ctx, limit)
}

// Get returns one event.
func (s *Service) Get(ctx context.Context, id int64) (*database.Event, error) {
	return s.store.GetEvent(ctx, id)
}

// ReadFile returns a stored history file.
func (s *Service) ReadFile(ref string) ([]byte, error) {
	return s.files.Read(ref)
}

// Undo removes an event. When the event auto-trained an image, the image is
// removed and the images it evicted are restored, subject to maxImages.
func (s *Service) Undo(ctx context.Context, id int64, maxImages int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return err
	}

	if e.TrainedImageID != 0 {
		err := s.gallery.UndoEnrollment(ctx, e.TrainedImageID, maxImages)
		switch {
		case errors.Is(err, faceerr.ErrNotFound):
			s.logger.Info("trained image already gone", zap.Int64("event_id", id),
				zap.Int64("image_id", e.TrainedImageID))
		case err != nil:
			return err
		}
	}

	if err := s.store.DeleteEvent(ctx, id); err != nil {
		return err
	}
	if err := s.files.Remove(e.Files()...); err != nil {
		s.logger.Error("failed to remove event files", zap.Int64("event_id", id), zap.Error(err))
	}
	s.logger.Info("event undone", zap.Int64("event_id", id), zap.Int64("trained_image_id", e.TrainedImageID))
	return nil
}

// Clear removes every event and makes all pending evictions permanent.
func (s *Service) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.store.ClearEvents(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: clear history: %v", faceerr.ErrStorage, err)
	}
	s.discard(ctx, events)
	s.logger.Info("history cleared", zap.Int("events", len(events)))
	return len(events), nil
}

// discard finalizes events that left the history window. Caller holds mu.
func (s *Service) discard(ctx context.Context, events []database.Event) {
	if len(events) == 0 {
		return
	}
	var trained []int64
	for _, e := range events {
		if e.TrainedImageID != 0 {
			trained = append(trained, e.TrainedImageID)
		}
		if err := s.files.Remove(e.Files()...); err != nil {
			s.logger.Error("failed to remove event files", zap.Int64("event_id", e.ID), zap.Error(err))
		}
	}
	if err := s.gallery.PurgeEvictions(ctx, trained); err != nil {
		s.logger.Error("failed to purge evicted images", zap.Error(err))
	}
}
