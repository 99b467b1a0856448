package mqtt

import (
	"encoding/json"
	"math"
	"time"

	"github.com/kozaktomas/faceinbox/internal/database"
)

// Home Assistant topics for the last-person sensor.
const (
	DiscoveryTopic  = "homeassistant/sensor/faceinbox/config"
	StateTopic      = "homeassistant/sensor/faceinbox/state"
	AttributesTopic = "homeassistant/sensor/faceinbox/attributes"
)

const eventFaceDetected = "face_detected"

// Detection is one recognition outcome to announce.
type Detection struct {
	Name      string // person slug or "unknown"
	Nickname  string
	Score     float64 // similarity in [0,1]
	Age       int
	Gender    string // "M", "F" or empty
	Timestamp time.Time
}

// Payload is the JSON message body published per detection.
type Payload struct {
	Event     string `json:"event"`
	Name      string `json:"name"`
	Nickname  string `json:"nickname"`
	Score     int    `json:"score"`
	Age       int    `json:"age"`
	Gender    string `json:"gender"`
	Timestamp string `json:"timestamp"`
}

// NewPayload converts a detection. Unknown faces carry an empty nickname;
// matched faces fall back to the slug when no nickname is set.
func NewPayload(d Detection) Payload {
	nickname := d.Nickname
	if d.Name == database.UnknownName || d.Name == "" {
		d.Name = database.UnknownName
		nickname = ""
	} else if nickname == "" {
		nickname = d.Name
	}
	return Payload{
		Event:     eventFaceDetected,
		Name:      d.Name,
		Nickname:  nickname,
		Score:     int(math.Round(d.Score * 100)),
		Age:       d.Age,
		Gender:    genderLabel(d.Gender),
		Timestamp: d.Timestamp.Format(time.RFC3339),
	}
}

func genderLabel(g string) string {
	switch g {
	case "M":
		return "Male"
	case "F":
		return "Female"
	default:
		return "Unknown"
	}
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
}

type discoveryConfig struct {
	Name                string          `json:"name"`
	UniqueID            string          `json:"unique_id"`
	StateTopic          string          `json:"state_topic"`
	JSONAttributesTopic string          `json:"json_attributes_topic"`
	Icon                string          `json:"icon"`
	Device              discoveryDevice `json:"device"`
}

// discoveryPayload is the retained Home Assistant discovery config.
func discoveryPayload() []byte {
	data, _ := json.Marshal(discoveryConfig{
		Name:                "FaceInbox Last Person",
		UniqueID:            "faceinbox_last_person",
		StateTopic:          StateTopic,
		JSONAttributesTopic: AttributesTopic,
		Icon:                "mdi:face-recognition",
		Device: discoveryDevice{
			Identifiers:  []string{"faceinbox"},
			Name:         "FaceInbox",
			Model:        "Face Recognition Inbox",
			Manufacturer: "FaceInbox",
		},
	})
	return data
}
