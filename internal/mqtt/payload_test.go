package mqtt

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewPayload(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		name string
		in   Detection
		want Payload
	}{
		{
			name: "matched with nickname",
			in:   Detection{Name: "alice", Nickname: "Alice", Score: 0.8349, Age: 31, Gender: "F", Timestamp: ts},
			want: Payload{Event: "face_detected", Name: "alice", Nickname: "Alice", Score: 83, Age: 31, Gender: "Female", Timestamp: "2026-03-14T09:26:53Z"},
		},
		{
			name: "matched without nickname",
			in:   Detection{Name: "bob", Score: 0.655, Gender: "M", Timestamp: ts},
			want: Payload{Event: "face_detected", Name: "bob", Nickname: "bob", Score: 66, Gender: "Male", Timestamp: "2026-03-14T09:26:53Z"},
		},
		{
			name: "unknown drops nickname",
			in:   Detection{Name: "unknown", Nickname: "ignored", Score: 0.2, Timestamp: ts},
			want: Payload{Event: "face_detected", Name: "unknown", Score: 20, Gender: "Unknown", Timestamp: "2026-03-14T09:26:53Z"},
		},
		{
			name: "empty name is unknown",
			in:   Detection{Score: 0, Gender: "X", Timestamp: ts},
			want: Payload{Event: "face_detected", Name: "unknown", Gender: "Unknown", Timestamp: "2026-03-14T09:26:53Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewPayload(tt.in)
			if got != tt.want {
				t.Errorf("NewPayload() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDiscoveryPayload(t *testing.T) {
	var cfg map[string]any
	if err := json.Unmarshal(discoveryPayload(), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg["state_topic"] != StateTopic {
		t.Errorf("state_topic = %v", cfg["state_topic"])
	}
	if cfg["json_attributes_topic"] != AttributesTopic {
		t.Errorf("json_attributes_topic = %v", cfg["json_attributes_topic"])
	}
	if cfg["unique_id"] != "faceinbox_last_person" {
		t.Errorf("unique_id = %v", cfg["unique_id"])
	}
	if _, ok := cfg["device"].(map[string]any); !ok {
		t.Error("expected device block")
	}
}
