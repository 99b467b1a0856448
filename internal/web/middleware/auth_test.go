package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name    string
		token   string
		headers map[string]string
		want    int
	}{
		{"Disabled", "", nil, http.StatusOK},
		{"Missing", "s3cret", nil, http.StatusUnauthorized},
		{"Bearer", "s3cret", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"WrongBearer", "s3cret", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"BasicScheme", "s3cret", map[string]string{"Authorization": "Basic s3cret"}, http.StatusUnauthorized},
		{"Header", "s3cret", map[string]string{"X-API-Token": "s3cret"}, http.StatusOK},
		{"Prefix", "s3cret", map[string]string{"X-API-Token": "s3c"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/persons", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()

			RequireToken(tt.token)(ok).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
