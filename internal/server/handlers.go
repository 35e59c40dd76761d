package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/tower/internal/registry"
	"github.com/tonimelisma/tower/internal/store"
)

// maxRegisterBody caps the size of a register request.
const maxRegisterBody = 1 << 20

// Messages returned by register, matching what existing clients display.
const (
	msgCreated = "File metadata registered successfully"
	msgUpdated = "File metadata updated successfully"
	msgDeleted = "File metadata deleted successfully"
)

// deleteResponse is the body of a successful delete.
type deleteResponse struct {
	Message  string `json:"message"`
	FileID   int64  `json:"file_id"`
	FileName string `json:"file_name"`
	Device   string `json:"device"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, registry.Health{
		Status:  "ok",
		Service: ServiceName,
		Version: s.version,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var md registry.FileMetadata

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegisterBody))
	if err := dec.Decode(&md); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}

	if err := validateMetadata(&md); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	rec, created, err := s.store.Upsert(r.Context(), &store.Record{
		FileName:     norm.NFC.String(md.FileName),
		AbsolutePath: md.AbsolutePath,
		Device:       md.Device,
		DeviceIP:     md.DeviceIP,
		DeviceUser:   md.DeviceUser,
		LastModified: md.LastModifiedTime.Time,
		Size:         md.Size,
		FileType:     md.FileType,
	})
	if err != nil {
		s.internalError(w, r, "Error registering file metadata", err)
		return
	}

	result := registry.RegisterResult{ID: rec.ID, FileName: rec.FileName, Message: msgUpdated, Action: registry.ActionUpdated}
	if created {
		result.Message, result.Action = msgCreated, registry.ActionCreated
	}

	s.metrics.registrations.WithLabelValues(result.Action).Inc()

	writeJSON(w, http.StatusOK, result)
}

// validateMetadata reports every missing or out-of-range field at once.
func validateMetadata(md *registry.FileMetadata) error {
	var errs []error

	for _, f := range []struct{ name, value string }{
		{"file_name", md.FileName},
		{"absolute_path", md.AbsolutePath},
		{"device", md.Device},
	} {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, fmt.Errorf("%s: field required", f.name))
		}
	}

	if md.Size < 0 {
		errs = append(errs, fmt.Errorf("size: must be >= 0, got %d", md.Size))
	}

	if md.LastModifiedTime.IsZero() {
		errs = append(errs, errors.New("last_modified_time: field required"))
	}

	return errors.Join(errs...)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, http.StatusUnprocessableEntity, "query: field required")
		return
	}

	// File names are stored in NFC.
	records, err := s.store.Search(r.Context(), norm.NFC.String(query))
	if err != nil {
		s.internalError(w, r, "Error searching files", err)
		return
	}

	// Existing clients expect 404 for an empty result.
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No files found matching '%s'", query))
		return
	}

	writeJSON(w, http.StatusOK, toFileRecords(records))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List(r.Context())
	if err != nil {
		s.internalError(w, r, "Error listing files", err)
		return
	}

	writeJSON(w, http.StatusOK, toFileRecords(records))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rec, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("File with ID %d not found", id))
		return
	}

	if err != nil {
		s.internalError(w, r, "Error reading file", err)
		return
	}

	writeJSON(w, http.StatusOK, toFileRecord(rec))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rec, err := s.store.Delete(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("File with ID %d not found", id))
		return
	}

	if err != nil {
		s.internalError(w, r, "Error deleting file", err)
		return
	}

	writeJSON(w, http.StatusOK, deleteResponse{
		Message:  msgDeleted,
		FileID:   rec.ID,
		FileName: rec.FileName,
		Device:   rec.Device,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.internalError(w, r, "Error reading stats", err)
		return
	}

	writeJSON(w, http.StatusOK, registry.Stats{TotalFiles: st.TotalFiles, TotalSizeBytes: st.TotalSizeBytes})
}

// pathID parses the {id} path value, writing a 422 when it is not an integer.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("id")

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("id: not a valid integer: %q", raw))
		return 0, false
	}

	return id, true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.Error(msg,
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)

	writeError(w, http.StatusInternalServerError, msg+": "+err.Error())
}

func toFileRecord(rec *store.Record) registry.FileRecord {
	return registry.FileRecord{
		ID:               rec.ID,
		FileName:         rec.FileName,
		AbsolutePath:     rec.AbsolutePath,
		Device:           rec.Device,
		DeviceIP:         rec.DeviceIP,
		DeviceUser:       rec.DeviceUser,
		LastModifiedTime: registry.NewTimestamp(rec.LastModified),
		CreatedTime:      registry.NewTimestamp(rec.Created),
		Size:             rec.Size,
		FileType:         rec.FileType,
	}
}

func toFileRecords(records []store.Record) []registry.FileRecord {
	out := make([]registry.FileRecord, len(records))
	for i := range records {
		out[i] = toFileRecord(&records[i])
	}

	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the {"detail": ...} body every error response carries.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
