package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		retry  string
	}{
		{name: "validation", err: fmt.Errorf("%w: window 2024-13", ErrValidation), status: http.StatusBadRequest},
		{name: "not found", err: ErrNotFound, status: http.StatusNotFound},
		{name: "timeout", err: ErrTimeout, status: http.StatusGatewayTimeout},
		{name: "unavailable", err: fmt.Errorf("%w: partial fetch", ErrUnavailable), status: http.StatusServiceUnavailable, retry: "5"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			RespondError(rr, tc.err)

			require.Equal(t, tc.status, rr.Code)
			require.Equal(t, problemContentType, rr.Header().Get("Content-Type"))
			require.Equal(t, tc.retry, rr.Header().Get("Retry-After"))

			var body ProblemDetail
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			require.Equal(t, tc.status, body.Status)
		})
	}
}

func TestInternalErrorsHideDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, errors.New("dial tcp 10.0.0.1:5432: refused"))

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Empty(t, body.Detail)
}
