package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ignite/scrub-gateway/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{apperr.Unauthorizedf("invalid issuer"), http.StatusUnauthorized, "invalid issuer"},
		{apperr.Forbiddenf("audience not allowed"), http.StatusForbidden, "audience not allowed"},
		{apperr.BadRequestf("processing not completed"), http.StatusBadRequest, "processing not completed"},
		{apperr.NotFoundf("record not found"), http.StatusNotFound, "record not found"},
		{apperr.Unavailable("record store unavailable", errors.New("dial tcp 10.0.0.1:443")), http.StatusServiceUnavailable, "record store unavailable"},
		{errors.New("boom: secret detail"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		WriteError(rec, req, tc.err)

		assert.Equal(t, tc.status, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.msg, body.Error)
		assert.NotContains(t, rec.Body.String(), "dial tcp")
	}
}

func TestWriteErrorSetsChallenge(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), apperr.Unauthorizedf("missing bearer token"))
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
}

func TestDecode(t *testing.T) {
	var dst struct{ Message string }
	rec := httptest.NewRecorder()
	ok := Decode(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{bad")), &dst)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	ok = Decode(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"Message":"hi"}`)), &dst)
	assert.True(t, ok)
	assert.Equal(t, "hi", dst.Message)
}
