package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/faceinbox/internal/faceerr"
	"github.com/kozaktomas/faceinbox/internal/settings"
	"go.uber.org/zap"
)

type fakeTester struct {
	err error
	got settings.MQTT
}

func (f *fakeTester) TestConnection(ctx context.Context, cfg settings.MQTT) error {
	f.got = cfg
	return f.err
}

func TestMQTTHandler_MergesSavedSettings(t *testing.T) {
	f := newFixture(t)
	if _, err := f.settings.Update(context.Background(), func(s *settings.Settings) {
		s.MQTT = settings.MQTT{Broker: "tcp://saved:1883", Username: "ha", Password: "pw", Topic: "faces"}
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	tester := &fakeTester{}
	h := NewMQTTHandler(tester, f.settings, zap.NewNop())

	recorder := httptest.NewRecorder()
	h.Test(recorder, jsonRequest(t, http.MethodPost, "/api/v1/mqtt/test", map[string]string{"broker": "tcp://new:1883"}))
	assertStatusCode(t, recorder, http.StatusOK)

	want := settings.MQTT{Broker: "tcp://new:1883", Username: "ha", Password: "pw", Topic: "faces"}
	if tester.got != want {
		t.Errorf("tested %+v, want %+v", tester.got, want)
	}
	if f.settings.Get().MQTT.Broker != "tcp://saved:1883" {
		t.Error("a test must not save the settings")
	}
}

func TestMQTTHandler_Failures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"NotConfigured", fmt.Errorf("%w: MQTT broker is not configured", faceerr.ErrInvalidInput), http.StatusBadRequest},
		{"Unreachable", errors.New("dial tcp: connection refused"), http.StatusBadGateway},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			h := NewMQTTHandler(&fakeTester{err: tc.err}, f.settings, zap.NewNop())

			recorder := httptest.NewRecorder()
			h.Test(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/mqtt/test", nil))
			assertStatusCode(t, recorder, tc.want)

			var resp map[string]any
			parseJSONResponse(t, recorder, &resp)
			if resp["success"] != false || resp["error"] != tc.err.Error() {
				t.Errorf("unexpected response %v", resp)
			}
		})
	}
}
