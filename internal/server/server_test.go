package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/tower/internal/registry"
	"github.com/tonimelisma/tower/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// newTestServer starts an httptest server over a fresh on-disk store.
func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "registry.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := New(&Config{Store: st, Version: "test", Logger: testLogger()})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return ts, st
}

func metadata(name, path string, size int64) registry.FileMetadata {
	return registry.FileMetadata{
		FileName:         name,
		AbsolutePath:     path,
		Device:           "laptop",
		DeviceIP:         "192.168.1.20",
		DeviceUser:       "alice",
		LastModifiedTime: registry.NewTimestamp(baseTime),
		Size:             size,
		FileType:         "txt",
	}
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))

	return v
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	h := decodeBody[registry.Health](t, resp)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, ServiceName, h.Service)
	assert.Equal(t, "test", h.Version)
}

func TestRegister_CreatedThenUpdated(t *testing.T) {
	ts, _ := newTestServer(t)

	body, err := json.Marshal(metadata("a.txt", "/w/a.txt", 10))
	require.NoError(t, err)

	resp := postJSON(t, ts.URL+"/files/register", string(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	first := decodeBody[registry.RegisterResult](t, resp)
	assert.Equal(t, registry.ActionCreated, first.Action)
	assert.Equal(t, msgCreated, first.Message)
	assert.Equal(t, "a.txt", first.FileName)

	resp = postJSON(t, ts.URL+"/files/register", string(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	second := decodeBody[registry.RegisterResult](t, resp)
	assert.Equal(t, registry.ActionUpdated, second.Action)
	assert.Equal(t, first.ID, second.ID)
}

func TestRegister_AcceptsNaiveTimestamps(t *testing.T) {
	ts, st := newTestServer(t)

	resp := postJSON(t, ts.URL+"/files/register", `{
		"file_name": "a.txt", "absolute_path": "/w/a.txt", "device": "laptop",
		"device_ip": "192.168.1.20", "device_user": "alice",
		"last_modified_time": "2025-06-01T12:00:00.5", "size": 3, "file_type": "txt",
		"extra": "ignored"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res := decodeBody[registry.RegisterResult](t, resp)

	rec, err := st.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.True(t, rec.LastModified.Equal(baseTime.Add(500*time.Millisecond)))
}

func TestRegister_Validation(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{"malformed", `{"file_name":`, "invalid request body"},
		{"missing fields", `{"size": 1, "last_modified_time": "2025-06-01T12:00:00Z"}`, "absolute_path: field required"},
		{"negative size", `{"file_name":"a","absolute_path":"/a","device":"d","size":-1,"last_modified_time":"2025-06-01T12:00:00Z"}`, "size: must be >= 0"},
		{"no mtime", `{"file_name":"a","absolute_path":"/a","device":"d","size":1}`, "last_modified_time: field required"},
		{"bad mtime", `{"file_name":"a","absolute_path":"/a","device":"d","size":1,"last_modified_time":"yesterday"}`, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/files/register", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

			body := decodeBody[map[string]string](t, resp)
			assert.Contains(t, body["detail"], tt.detail)
		})
	}
}

func TestSearch(t *testing.T) {
	ts, st := newTestServer(t)
	ctx := context.Background()

	for _, name := range []string{"report.pdf", "notes.txt"} {
		_, _, err := st.Upsert(ctx, &store.Record{FileName: name, AbsolutePath: "/w/" + name, Device: "laptop", LastModified: baseTime})
		require.NoError(t, err)
	}

	resp, err := http.Get(ts.URL + "/search/keyword?query=" + "*.pdf")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	records := decodeBody[[]registry.FileRecord](t, resp)
	require.Len(t, records, 1)
	assert.Equal(t, "report.pdf", records[0].FileName)
	assert.Equal(t, "/w/report.pdf", records[0].AbsolutePath)
	assert.True(t, records[0].LastModifiedTime.Equal(baseTime))

	resp2, err := http.Get(ts.URL + "/search/keyword?query=nothing")
	require.NoError(t, err)
	defer resp2.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
	assert.Equal(t, "No files found matching 'nothing'", decodeBody[map[string]string](t, resp2)["detail"])

	resp3, err := http.Get(ts.URL + "/search/keyword")
	require.NoError(t, err)
	defer resp3.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp3.StatusCode)
}

func TestGetAndDelete(t *testing.T) {
	ts, st := newTestServer(t)

	rec, _, err := st.Upsert(context.Background(), &store.Record{FileName: "a.txt", AbsolutePath: "/w/a.txt", Device: "laptop", LastModified: baseTime, Size: 4})
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/files/" + itoa(rec.ID))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(4), decodeBody[registry.FileRecord](t, resp).Size)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/files/"+itoa(rec.ID), nil)
	require.NoError(t, err)

	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer del.Body.Close()

	require.Equal(t, http.StatusOK, del.StatusCode)

	dr := decodeBody[deleteResponse](t, del)
	assert.Equal(t, rec.ID, dr.FileID)
	assert.Equal(t, "a.txt", dr.FileName)
	assert.Equal(t, "laptop", dr.Device)

	again, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer again.Body.Close()

	assert.Equal(t, http.StatusNotFound, again.StatusCode)

	missing, err := http.Get(ts.URL + "/files/" + itoa(rec.ID))
	require.NoError(t, err)
	defer missing.Body.Close()

	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	assert.Contains(t, decodeBody[map[string]string](t, missing)["detail"], "not found")

	bad, err := http.Get(ts.URL + "/files/abc")
	require.NoError(t, err)
	defer bad.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, bad.StatusCode)
}

func TestListAndStats(t *testing.T) {
	ts, st := newTestServer(t)

	resp, err := http.Get(ts.URL + "/files")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]registry.FileRecord](t, resp))

	for i, size := range []int64{5, 7} {
		_, _, err := st.Upsert(context.Background(), &store.Record{FileName: "f", AbsolutePath: "/w/f" + itoa(int64(i)), Device: "laptop", LastModified: baseTime, Size: size})
		require.NoError(t, err)
	}

	stats, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer stats.Body.Close()

	assert.Equal(t, registry.Stats{TotalFiles: 2, TotalSizeBytes: 12}, decodeBody[registry.Stats](t, stats))
}

func TestMetrics(t *testing.T) {
	ts, st := newTestServer(t)

	_, _, err := st.Upsert(context.Background(), &store.Record{FileName: "f", AbsolutePath: "/w/f", Device: "laptop", LastModified: baseTime, Size: 9})
	require.NoError(t, err)

	health, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	health.Body.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	body := string(raw)
	assert.Contains(t, body, "tower_registry_files 1")
	assert.Contains(t, body, "tower_registry_files_size_bytes 9")
	assert.Contains(t, body, `tower_registry_http_requests_total{method="GET",route="GET /{$}",status="200"} 1`)
}

func TestUnknownRoute(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// failingStore fails every call.
type failingStore struct{}

var errDisk = errors.New("disk I/O error")

func (failingStore) Upsert(context.Context, *store.Record) (*store.Record, bool, error) {
	return nil, false, errDisk
}
func (failingStore) Get(context.Context, int64) (*store.Record, error)      { return nil, errDisk }
func (failingStore) List(context.Context) ([]store.Record, error)           { return nil, errDisk }
func (failingStore) Search(context.Context, string) ([]store.Record, error) { return nil, errDisk }
func (failingStore) Delete(context.Context, int64) (*store.Record, error)   { return nil, errDisk }
func (failingStore) Stats(context.Context) (*store.Stats, error)            { return nil, errDisk }

func TestStoreFailuresAre500(t *testing.T) {
	srv := New(&Config{Store: failingStore{}, Logger: testLogger()})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body, err := json.Marshal(metadata("a.txt", "/w/a.txt", 1))
	require.NoError(t, err)

	resp := postJSON(t, ts.URL+"/files/register", string(body))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, decodeBody[map[string]string](t, resp)["detail"], "disk I/O error")

	for _, path := range []string{"/files", "/files/1", "/stats", "/search/keyword?query=a"} {
		r, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		r.Body.Close()

		assert.Equal(t, http.StatusInternalServerError, r.StatusCode, path)
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "registry.db"), testLogger())
	require.NoError(t, err)
	defer st.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(&Config{Store: st, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- srv.Serve(ctx, ln) }()

	client := registry.NewClient(&registry.ClientConfig{BaseURL: "http://" + ln.Addr().String(), Logger: testLogger()})
	assert.Eventually(t, func() bool { return client.HealthCheck(context.Background()) }, 5*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
