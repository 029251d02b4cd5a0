package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/vidgen/internal/api/shared"
	"github.com/phrazzld/vidgen/internal/platform/logger"
	"github.com/stretchr/testify/assert"
)

func TestTraceMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		correlationID   string
		wantCorrelation string
	}{
		{"no header", "", ""},
		{"valid header", "lms-req.42", "lms-req.42"},
		{"rejects injection", "bad id\nlevel=ERROR", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var gotTrace, gotCorrelation string
			handler := NewTraceMiddleware(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotTrace = shared.GetTraceID(r.Context())
				gotCorrelation = logger.CorrelationID(r.Context())
				w.WriteHeader(http.StatusNoContent)
			}))

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			if tt.correlationID != "" {
				req.Header.Set(CorrelationIDHeader, tt.correlationID)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.NotEmpty(t, gotTrace)
			assert.Equal(t, gotTrace, w.Header().Get(TraceIDHeader))
			assert.Equal(t, tt.wantCorrelation, gotCorrelation)
		})
	}
}
