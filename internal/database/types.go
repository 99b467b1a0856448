package database

import (
	"time"
)

// UnknownName is the verdict label for faces that did not match anyone.
const UnknownName = "unknown"

// Person is an enrolled identity.
type Person struct {
	ID        int64
	Name      string // unique slug, [a-z0-9]+
	Nickname  string
	CreatedAt time.Time
}

// DisplayName returns the nickname, falling back to the slug.
func (p Person) DisplayName() string {
	if p.Nickname != "" {
		return p.Nickname
	}
	return p.Name
}

// PersonSummary is a person with the number of active gallery images.
type PersonSummary struct {
	Person
	ImageCount int
}

// FaceImage is one enrolled image of a person.
type FaceImage struct {
	ID           int64
	PersonID     int64
	Seq          int64     // per-person insertion order, strictly increasing
	OriginalPath string    // stored source image, used for retrain
	FacePath     string    // cropped face for display
	Embedding    []float32 // same dimensionality as the tier that produced it
	Tier         string
	CreatedAt    time.Time
	EvictedBy    int64 // non-zero while hidden by a reversible eviction
}

// Files returns the stored file references of the image.
func (f FaceImage) Files() []string {
	return []string{f.OriginalPath, f.FacePath}
}

// PersonImages is one person's active images in insertion order.
type PersonImages struct {
	Person Person
	Images []FaceImage
}

// EventSource tells which flow produced a recognition event.
type EventSource string

// EventSource constants.
const (
	SourceInbox  EventSource = "inbox"
	SourceManual EventSource = "manual"
)

// Event is an immutable recognition history entry.
type Event struct {
	ID             int64
	CreatedAt      time.Time
	Source         EventSource
	ImagePath      string
	ThumbPath      string
	BBox           []float64 // [x1, y1, x2, y2]
	Matched        bool
	PersonID       int64  // 0 when unknown
	PersonName     string // snapshot at recognition time
	Nickname       string
	Score          float64
	Age            int
	Gender         string
	Tier           string
	DetectMS       int64
	MatchMS        int64
	TotalMS        int64
	TrainedImageID int64 // face image enrolled by this event, 0 if none
}

// Label returns the person name for matched events and UnknownName otherwise.
func (e Event) Label() string {
	if e.Matched && e.PersonName != "" {
		return e.PersonName
	}
	return UnknownName
}

// Files returns the stored file references of the event.
func (e Event) Files() []string {
	return []string{e.ImagePath, e.ThumbPath}
}
