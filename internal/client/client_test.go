package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/scrub-gateway/internal/domain"
)

func newGateway(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /scrub-files/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":"missing bearer token","code":"unauthorized"}`)
			return
		}
		var cfg domain.FileConfig
		assert.NoError(t, json.Unmarshal([]byte(r.FormValue("fileConfig")), &cfg))
		f, fh, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		assert.Equal(t, "leads.csv", fh.Filename)
		assert.Equal(t, "a,b\n", string(data))
		assert.Equal(t, []string{"c1"}, cfg.PhoneColumns)
		io.WriteString(w, `{"message":"File uploaded and config saved.","id":"rec-1"}`)
	})
	mux.HandleFunc("GET /scrub-files/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "rec-1" {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"file config not found","code":"not_found"}`)
			return
		}
		io.WriteString(w, `{"stage":"DONE","lastUpdated":"2026-01-02T03:04:05Z"}`)
	})
	mux.HandleFunc("GET /scrub-files/list", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[{"id":"rec-1","fileName":"leads.csv","status":{"stage":"DONE"}}]}`)
	})
	mux.HandleFunc("GET /scrub-files/download/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("file_type") != "clean" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"bad type"}`)
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="leads_clean.csv"`)
		io.WriteString(w, "5551234\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrip(t *testing.T) {
	srv := newGateway(t)
	c := New(srv.URL+"/", StaticToken("tok-1"))
	ctx := context.Background()

	id, err := c.Upload(ctx, domain.FileConfig{FileName: "leads.csv", PhoneColumns: []string{"c1"}}, "leads.csv", strings.NewReader("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, "rec-1", id)

	st, err := c.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StageDone, st.Stage)

	recs, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "leads.csv", recs[0].FileName)

	var buf bytes.Buffer
	name, err := c.Download(ctx, id, domain.CategoryClean, &buf)
	require.NoError(t, err)
	assert.Equal(t, "leads_clean.csv", name)
	assert.Equal(t, "5551234\n", buf.String())
}

func TestClientErrors(t *testing.T) {
	srv := newGateway(t)
	ctx := context.Background()

	_, err := New(srv.URL, nil).Upload(ctx, domain.FileConfig{}, "x.csv", strings.NewReader("x"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "unauthorized", apiErr.Code)
	assert.Equal(t, "missing bearer token", apiErr.Message)

	c := New(srv.URL, StaticToken("tok-1"))
	_, err = c.Status(ctx, "missing")
	assert.True(t, IsNotFound(err))

	_, err = c.Download(ctx, "rec-1", domain.CategoryDNC, io.Discard)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestCommandToken(t *testing.T) {
	ts := CommandToken(context.Background(), []string{"echo", "  printed-token  "})
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "printed-token", tok.AccessToken)
	assert.True(t, tok.Valid())

	_, err = CommandToken(context.Background(), nil).Token()
	assert.Error(t, err)
}

func TestClientRetriesTransientReads(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /scrub-files/list", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": []domain.FileRecord{{FileName: "a.csv"}}})
	})
	mux.HandleFunc("POST /scrub-files/upload", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, nil)
	recs, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.EqualValues(t, 2, calls.Load())

	calls.Store(0)
	_, err = c.Upload(context.Background(), domain.FileConfig{}, "x.csv", strings.NewReader("x"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}
