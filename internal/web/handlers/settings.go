package handlers

import (
	"net/http"

	"github.com/kozaktomas/faceinbox/internal/config"
	"github.com/kozaktomas/faceinbox/internal/embedding"
	"github.com/kozaktomas/faceinbox/internal/settings"
)

// SettingsHandler reads and updates the runtime settings.
type SettingsHandler struct {
	settings *settings.Manager
	tiers    config.TiersConfig
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(s *settings.Manager, tiers config.TiersConfig) *SettingsHandler {
	return &SettingsHandler{settings: s, tiers: tiers}
}

// MQTTView hides the password.
type MQTTView struct {
	Broker      string `json:"broker"`
	Username    string `json:"username"`
	PasswordSet bool   `json:"password_set"`
	Topic       string `json:"topic"`
}

// SettingsView is the API form of the settings.
type SettingsView struct {
	Tier               string   `json:"tier"`
	Threshold          float64  `json:"threshold"`
	EnrollThreshold    float64  `json:"enroll_threshold"`
	TopK               int      `json:"top_k"`
	MaxImagesPerPerson int      `json:"max_images_per_person"`
	AutoTrain          bool     `json:"auto_train"`
	MQTT               MQTTView `json:"mqtt"`
}

func settingsView(s settings.Settings) SettingsView {
	return SettingsView{
		Tier:               s.Tier.String(),
		Threshold:          s.Threshold,
		EnrollThreshold:    s.EnrollThreshold,
		TopK:               s.TopK,
		MaxImagesPerPerson: s.MaxImagesPerPerson,
		AutoTrain:          s.AutoTrain,
		MQTT: MQTTView{
			Broker:      s.MQTT.Broker,
			Username:    s.MQTT.Username,
			PasswordSet: s.MQTT.Password != "",
			Topic:       s.MQTT.Topic,
		},
	}
}

// SettingsUpdate carries the fields to change; absent fields keep their value.
type SettingsUpdate struct {
	Tier               *string     `json:"tier"`
	Threshold          *float64    `json:"threshold"`
	EnrollThreshold    *float64    `json:"enroll_threshold"`
	TopK               *int        `json:"top_k"`
	MaxImagesPerPerson *int        `json:"max_images_per_person"`
	AutoTrain          *bool       `json:"auto_train"`
	MQTT               *MQTTUpdate `json:"mqtt"`
}

// MQTTUpdate carries MQTT fields to change.
type MQTTUpdate struct {
	Broker   *string `json:"broker"`
	Username *string `json:"username"`
	Password *string `json:"password"`
	Topic    *string `json:"topic"`
}

func (u MQTTUpdate) apply(m *settings.MQTT) {
	if u.Broker != nil {
		m.Broker = *u.Broker
	}
	if u.Username != nil {
		m.Username = *u.Username
	}
	if u.Password != nil {
		m.Password = *u.Password
	}
	if u.Topic != nil {
		m.Topic = *u.Topic
	}
}

// Get returns the current settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, settingsView(h.settings.Get()))
}

// Update validates and applies a partial update. The tier can only change
// through a retrain.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req SettingsUpdate
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Tier != nil && *req.Tier != h.settings.Get().Tier.String() {
		respondError(w, http.StatusBadRequest, "changing the model tier requires a retrain")
		return
	}

	next, err := h.settings.Update(r.Context(), func(s *settings.Settings) {
		if req.Threshold != nil {
			s.Threshold = *req.Threshold
		}
		if req.EnrollThreshold != nil {
			s.EnrollThreshold = *req.EnrollThreshold
		}
		if req.TopK != nil {
			s.TopK = *req.TopK
		}
		if req.MaxImagesPerPerson != nil {
			s.MaxImagesPerPerson = *req.MaxImagesPerPerson
		}
		if req.AutoTrain != nil {
			s.AutoTrain = *req.AutoTrain
		}
		if req.MQTT != nil {
			req.MQTT.apply(&s.MQTT)
		}
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settingsView(next))
}

// TierView describes one model preset.
type TierView struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Dim         int    `json:"dim"`
	Active      bool   `json:"active"`
}

// Tiers lists the model presets from fastest to most accurate.
func (h *SettingsHandler) Tiers(w http.ResponseWriter, r *http.Request) {
	active := h.settings.Get().Tier
	out := make([]TierView, 0, len(embedding.Tiers))
	for _, t := range embedding.Tiers {
		preset, ok := h.tiers.Preset(t.String())
		if !ok {
			continue
		}
		out = append(out, TierView{
			Name:        t.String(),
			DisplayName: preset.DisplayName,
			Description: preset.Description,
			Dim:         preset.Dim,
			Active:      t == active,
		})
	}
	respondJSON(w, http.StatusOK, out)
}
