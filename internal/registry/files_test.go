package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Created(t *testing.T) {
	mtime := time.Date(2025, 5, 4, 10, 30, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/files/register", r.URL.Path)

		var md FileMetadata
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&md))
		assert.Equal(t, "report.pdf", md.FileName)
		assert.Equal(t, "/home/alice/report.pdf", md.AbsolutePath)
		assert.Equal(t, "laptop", md.Device)
		assert.Equal(t, "192.168.1.20", md.DeviceIP)
		assert.Equal(t, "alice", md.DeviceUser)
		assert.True(t, md.LastModifiedTime.Equal(mtime))
		assert.Equal(t, int64(2048), md.Size)
		assert.Equal(t, ".pdf", md.FileType)

		writeJSON(t, w, http.StatusOK, RegisterResult{
			ID: 7, FileName: md.FileName, Message: "File metadata registered successfully", Action: ActionCreated,
		})
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL, 0).Register(context.Background(), &FileMetadata{
		FileName:         "report.pdf",
		AbsolutePath:     "/home/alice/report.pdf",
		Device:           "laptop",
		DeviceIP:         "192.168.1.20",
		DeviceUser:       "alice",
		LastModifiedTime: NewTimestamp(mtime),
		Size:             2048,
		FileType:         ".pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.ID)
	assert.Equal(t, ActionCreated, res.Action)
}

func TestRegister_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusUnprocessableEntity, errorBody{Detail: "file_name: must not be empty"})
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 2).Register(context.Background(), &FileMetadata{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegistration)

	var re *RegistrationError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusUnprocessableEntity, re.StatusCode)
	assert.Equal(t, "file_name: must not be empty", re.Detail)
	assert.False(t, IsTransient(err))
}

func TestSearch_EncodesPatternAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/keyword", r.URL.Path)
		assert.Equal(t, "*.txt & more", r.URL.Query().Get("query"))

		// Older registries emit naive timestamps.
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"file_name":"a.txt","absolute_path":"/x/a.txt","device":"d",
			"device_ip":"10.0.0.1","device_user":"u","last_modified_time":"2024-06-01T08:00:00.123456",
			"created_time":"2024-06-01T09:00:00Z","size":10,"file_type":".txt"}]`))
	}))
	defer srv.Close()

	recs, err := newTestClient(t, srv.URL, 0).Search(context.Background(), "*.txt & more")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "/x/a.txt", recs[0].AbsolutePath)
	assert.Equal(t, time.Date(2024, 6, 1, 8, 0, 0, 123456000, time.UTC), recs[0].LastModifiedTime.Time)
	assert.Equal(t, 9, recs[0].CreatedTime.Hour())
}

func TestSearch_NotFoundIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusNotFound, errorBody{Detail: "No files found matching 'zzz'"})
	}))
	defer srv.Close()

	recs, err := newTestClient(t, srv.URL, 0).Search(context.Background(), "zzz")
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestGet_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/42", r.URL.Path)
		writeJSON(t, w, http.StatusNotFound, errorBody{Detail: "File with ID 42 not found"})
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 0).Get(context.Background(), 42)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "File with ID 42 not found")
}

func TestList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files", r.URL.Path)
		writeJSON(t, w, http.StatusOK, []FileRecord{{ID: 1, FileName: "a"}, {ID: 2, FileName: "b"}})
	}))
	defer srv.Close()

	recs, err := newTestClient(t, srv.URL, 0).List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[1].FileName)
}

// fakeRegistry is a minimal in-memory registry for DeleteByPath tests.
type fakeRegistry struct {
	mu      sync.Mutex
	records map[int64]FileRecord
	deletes []int64
	// vanish makes DELETE answer 404 for these ids even though search
	// returned them.
	vanish map[int64]bool
}

func (f *fakeRegistry) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /search/keyword", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		q := r.URL.Query().Get("query")

		var out []FileRecord

		for _, rec := range f.records {
			if strings.Contains(rec.FileName, q) {
				out = append(out, rec)
			}
		}

		if len(out) == 0 {
			writeJSON(t, w, http.StatusNotFound, errorBody{Detail: "none"})
			return
		}

		writeJSON(t, w, http.StatusOK, out)
	})

	mux.HandleFunc("DELETE /files/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		require.NoError(t, err)

		f.deletes = append(f.deletes, id)

		if _, ok := f.records[id]; !ok || f.vanish[id] {
			writeJSON(t, w, http.StatusNotFound, errorBody{Detail: "gone"})
			return
		}

		delete(f.records, id)
		writeJSON(t, w, http.StatusOK, map[string]any{"file_id": id})
	})

	return mux
}

func TestDeleteByPath_ExactPathAndDevice(t *testing.T) {
	f := &fakeRegistry{records: map[int64]FileRecord{
		1: {ID: 1, FileName: "notes.txt", AbsolutePath: "/home/a/notes.txt", Device: "laptop"},
		2: {ID: 2, FileName: "notes.txt", AbsolutePath: "/home/a/notes.txt", Device: "desktop"},
		3: {ID: 3, FileName: "notes.txt", AbsolutePath: "/home/a/old/notes.txt", Device: "laptop"},
		4: {ID: 4, FileName: "notes.txt.bak", AbsolutePath: "/home/a/notes.txt.bak", Device: "laptop"},
	}}

	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	n, err := newTestClient(t, srv.URL, 0).DeleteByPath(context.Background(), "/home/a/notes.txt", "laptop")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, f.deletes)
	assert.Len(t, f.records, 3)
}

func TestDeleteByPath_DecomposedPathMatchesNFCName(t *testing.T) {
	// Registered names are NFC; the path on disk may be decomposed.
	path := "/Users/a/cafe\u0301.txt"

	f := &fakeRegistry{records: map[int64]FileRecord{
		5: {ID: 5, FileName: "caf\u00e9.txt", AbsolutePath: path, Device: "mac"},
	}}

	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	n, err := newTestClient(t, srv.URL, 0).DeleteByPath(context.Background(), path, "mac")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{5}, f.deletes)
}

func TestDeleteByPath_NoMatchIsNoop(t *testing.T) {
	f := &fakeRegistry{records: map[int64]FileRecord{}}

	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	n, err := newTestClient(t, srv.URL, 0).DeleteByPath(context.Background(), "/nothing/here.txt", "laptop")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, f.deletes)
}

func TestDeleteByPath_VanishedRecordCountsAsDeleted(t *testing.T) {
	f := &fakeRegistry{
		records: map[int64]FileRecord{
			9: {ID: 9, FileName: "x.bin", AbsolutePath: "/d/x.bin", Device: "pi"},
		},
		vanish: map[int64]bool{9: true},
	}

	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	n, err := newTestClient(t, srv.URL, 0).DeleteByPath(context.Background(), "/d/x.bin", "pi")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteByPath_SearchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 0).DeleteByPath(context.Background(), "/d/x.bin", "pi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemote)
}

func TestTimestamp_RoundTrip(t *testing.T) {
	local := time.Date(2025, 1, 2, 3, 4, 5, 6, time.FixedZone("X", 3600))
	ts := NewTimestamp(local)

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2025-01-02T02:04:05.000000006Z"`, string(data))

	var back Timestamp
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Equal(local))
}

func TestTimestamp_RejectsGarbage(t *testing.T) {
	var ts Timestamp
	require.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
	require.Error(t, json.Unmarshal([]byte(`12`), &ts))
	require.NoError(t, json.Unmarshal([]byte(`""`), &ts))
	assert.True(t, ts.IsZero())
}
