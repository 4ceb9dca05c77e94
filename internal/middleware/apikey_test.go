package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIKey(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		header   string
		wantCode int
	}{
		{name: "valid key", expected: "secret", header: "secret", wantCode: http.StatusOK},
		{name: "wrong key", expected: "secret", header: "nope", wantCode: http.StatusUnauthorized},
		{name: "missing header", expected: "secret", header: "", wantCode: http.StatusUnauthorized},
		{name: "no key configured", expected: "", header: "", wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := APIKey(tt.expected)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("GET", "/api/v1/quota/global", nil)
			if tt.header != "" {
				req.Header.Set(apiKeyHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"invalid or missing api key"}`, rec.Body.String())
			}
		})
	}
}
