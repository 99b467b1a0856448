package database

import (
	"context"
)

// GalleryReader provides read-only access to persons and their face images.
// Hidden (reversibly evicted) images are only returned by FindImage and
// ListHiddenImages.
type GalleryReader interface {
	// GetPerson returns faceerr.ErrNotFound for unknown IDs
	GetPerson(ctx context.Context, id int64) (*Person, error)
	// PersonNameExists checks slug uniqueness
	PersonNameExists(ctx context.Context, name string) (bool, error)
	// ListPersons returns persons ordered by ID with active image counts
	ListPersons(ctx context.Context) ([]PersonSummary, error)
	// GetImage returns an active image or faceerr.ErrNotFound
	GetImage(ctx context.Context, id int64) (*FaceImage, error)
	// FindImage returns an image whether active or hidden
	FindImage(ctx context.Context, id int64) (*FaceImage, error)
	// ListImages returns a person's active images ordered by Seq
	ListImages(ctx context.Context, personID int64) ([]FaceImage, error)
	// GetGallery returns every person (by ID) with active images (by Seq),
	// read as one consistent snapshot
	GetGallery(ctx context.Context) ([]PersonImages, error)
	// ListHiddenImages returns every hidden image ordered by person and Seq
	ListHiddenImages(ctx context.Context) ([]FaceImage, error)
}

// GalleryWriter provides write access to the gallery.
// Methods returning []FaceImage report the rows they removed so the caller
// can delete the files after the rows are gone.
type GalleryWriter interface {
	GalleryReader

	// CreatePerson sets ID and CreatedAt. A duplicate name is faceerr.ErrInvalidInput.
	CreatePerson(ctx context.Context, p *Person) error

	// UpdateNickname changes the free-text nickname; the slug never changes.
	UpdateNickname(ctx context.Context, id int64, nickname string) error

	// DeletePerson removes the person and every image row, hidden ones included.
	DeletePerson(ctx context.Context, id int64) ([]FaceImage, error)

	// AddFaceImage appends img after the person's newest image and, in the same
	// transaction, evicts the oldest active images until at most maxImages remain.
	// Reversible evictions hide the rows (EvictedBy = img.ID) instead of deleting them.
	// Sets img.ID, img.Seq and img.CreatedAt and returns the evicted rows.
	AddFaceImage(ctx context.Context, img *FaceImage, maxImages int, reversible bool) ([]FaceImage, error)

	// EvictOldest deletes the person's count oldest active images.
	EvictOldest(ctx context.Context, personID int64, count int) ([]FaceImage, error)

	// DeleteImage removes an active image together with the rows it hid,
	// transitively. The removed image is the first element.
	DeleteImage(ctx context.Context, id int64) ([]FaceImage, error)

	// RevertEnrollment removes an image. An active image un-hides the rows it
	// evicted, which return to their original Seq positions. A hidden image
	// hands its hidden rows over to the image that hid it; restored is empty.
	RevertEnrollment(ctx context.Context, id int64) (removed *FaceImage, restored []FaceImage, err error)

	// PurgeEvicted deletes rows hidden by any of the given images, and the
	// rows those hid in turn.
	PurgeEvicted(ctx context.Context, byImageIDs []int64) ([]FaceImage, error)

	// ReplaceEmbedding overwrites an image's embedding and tier in place,
	// hidden images included.
	ReplaceEmbedding(ctx context.Context, imageID int64, embedding []float32, tier string) error
}

// EventStore persists the recognition history.
type EventStore interface {
	// RecordEvent sets ID, and CreatedAt when zero
	RecordEvent(ctx context.Context, e *Event) error
	// GetEvent returns faceerr.ErrNotFound for unknown IDs
	GetEvent(ctx context.Context, id int64) (*Event, error)
	// ListEvents returns the newest events first
	ListEvents(ctx context.Context, limit int) ([]Event, error)
	// DeleteEvent removes one event
	DeleteEvent(ctx context.Context, id int64) error
	// PruneEvents keeps the newest keep events and returns the removed ones
	PruneEvents(ctx context.Context, keep int) ([]Event, error)
	// ClearEvents removes and returns every event
	ClearEvents(ctx context.Context) ([]Event, error)
}

// SettingsStore persists runtime settings as key/value pairs.
type SettingsStore interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
	SaveSettings(ctx context.Context, values map[string]string) error
}

// Store is the full persistence contract.
type Store interface {
	GalleryWriter
	EventStore
	SettingsStore
}
