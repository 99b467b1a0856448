package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/kozaktomas/faceinbox/internal/settings"
	"go.uber.org/zap"
)

// ConnectionTester checks an MQTT configuration.
type ConnectionTester interface {
	TestConnection(ctx context.Context, cfg settings.MQTT) error
}

// MQTTHandler tests broker settings.
type MQTTHandler struct {
	tester   ConnectionTester
	settings *settings.Manager
	logger   *zap.Logger
}

// NewMQTTHandler creates a new MQTT handler.
func NewMQTTHandler(tester ConnectionTester, s *settings.Manager, logger *zap.Logger) *MQTTHandler {
	return &MQTTHandler{tester: tester, settings: s, logger: logger}
}

// Test connects with the given settings, falling back to the saved ones
// for absent fields, and publishes a test detection.
func (h *MQTTHandler) Test(w http.ResponseWriter, r *http.Request) {
	var req MQTTUpdate
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	cfg := h.settings.Get().MQTT
	req.apply(&cfg)

	if err := h.tester.TestConnection(r.Context(), cfg); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		h.logger.Warn("MQTT test failed", zap.String("broker", sanitizeForLog(cfg.Broker)), zap.Error(err))
		respondJSON(w, status, map[string]any{"success": false, "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "broker": cfg.Broker})
}
