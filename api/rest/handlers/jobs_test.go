package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"training-manager/api/rest/handlers"

	"github.com/stretchr/testify/require"
)

// Submission validation runs before any record is created, so these cases
// need no database behind the handler.
func TestSubmitJobValidation(t *testing.T) {
	h := handlers.NewJobHandler(nil, nil, nil, nil)

	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{`},
		{"empty command", `{"command": "   "}`},
		{"negative timeout", `{"command": "python train.py", "timeout_seconds": -5}`},
		{"multi-word environment", `{"command": "python train.py", "environment": "base extra"}`},
		{"relative sync source", `{"command": "python train.py", "sync_source": "relative/tree"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.SubmitJob(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
