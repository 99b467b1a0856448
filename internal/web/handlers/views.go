package handlers

import (
	"fmt"
	"time"

	"github.com/kozaktomas/faceinbox/internal/database"
)

// PersonView is the API form of a person.
type PersonView struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Nickname   string    `json:"nickname"`
	CreatedAt  time.Time `json:"created_at"`
	ImageCount *int      `json:"image_count,omitempty"`
}

func personView(p database.Person) PersonView {
	return PersonView{ID: p.ID, Name: p.Name, Nickname: p.Nickname, CreatedAt: p.CreatedAt}
}

// ImageView is the API form of an enrolled face image.
type ImageView struct {
	ID          int64     `json:"id"`
	PersonID    int64     `json:"person_id"`
	Seq         int64     `json:"seq"`
	Tier        string    `json:"tier"`
	CreatedAt   time.Time `json:"created_at"`
	FaceURL     string    `json:"face_url"`
	OriginalURL string    `json:"original_url"`
}

func imageView(img database.FaceImage) ImageView {
	base := fmt.Sprintf("/api/v1/persons/%d/images/%d", img.PersonID, img.ID)
	return ImageView{
		ID:          img.ID,
		PersonID:    img.PersonID,
		Seq:         img.Seq,
		Tier:        img.Tier,
		CreatedAt:   img.CreatedAt,
		FaceURL:     base + "/face",
		OriginalURL: base + "/original",
	}
}

func imageViews(images []database.FaceImage) []ImageView {
	out := make([]ImageView, len(images))
	for i, img := range images {
		out[i] = imageView(img)
	}
	return out
}

// TimingView is a processing-time breakdown in milliseconds.
type TimingView struct {
	DetectMS int64 `json:"detect_ms"`
	MatchMS  int64 `json:"match_ms"`
	TotalMS  int64 `json:"total_ms"`
}

// EventView is the API form of a recognition event.
type EventView struct {
	ID             int64      `json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	Source         string     `json:"source"`
	Matched        bool       `json:"matched"`
	PersonID       int64      `json:"person_id,omitempty"`
	Name           string     `json:"name"`
	Nickname       string     `json:"nickname"`
	Score          float64    `json:"score"`
	Age            int        `json:"age,omitempty"`
	Gender         string     `json:"gender,omitempty"`
	BBox           []float64  `json:"bbox"`
	Tier           string     `json:"tier"`
	Timing         TimingView `json:"timing"`
	TrainedImageID int64      `json:"trained_image_id,omitempty"`
	ImageURL       string     `json:"image_url,omitempty"`
	ThumbURL       string     `json:"thumb_url,omitempty"`
}

func eventView(e database.Event) EventView {
	v := EventView{
		ID:             e.ID,
		CreatedAt:      e.CreatedAt,
		Source:         string(e.Source),
		Matched:        e.Matched,
		PersonID:       e.PersonID,
		Name:           e.Label(),
		Score:          e.Score,
		Age:            e.Age,
		Gender:         e.Gender,
		BBox:           e.BBox,
		Tier:           e.Tier,
		Timing:         TimingView{DetectMS: e.DetectMS, MatchMS: e.MatchMS, TotalMS: e.TotalMS},
		TrainedImageID: e.TrainedImageID,
	}
	if e.Matched {
		v.Nickname = e.Nickname
	}
	if e.ID != 0 {
		v.ImageURL = fmt.Sprintf("/api/v1/events/%d/image", e.ID)
		v.ThumbURL = fmt.Sprintf("/api/v1/events/%d/thumb", e.ID)
	}
	return v
}
