package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// HealthCheck probes the registry root. It never returns an error: any
// transport failure or non-2xx status reports false. Probes are not retried;
// a failed probe skips the cycle and the next tick probes again.
func (c *Client) HealthCheck(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodGet, "/", nil, 0)
	if err != nil {
		c.logger.Debug("health check failed", slog.String("error", err.Error()))
		return false
	}

	if !resp.ok() {
		c.logger.Debug("health check returned non-success", slog.Int("status", resp.status))
		return false
	}

	return true
}

// Health returns the registry's self-description.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	resp, err := c.do(ctx, http.MethodGet, "/", nil, 0)
	if err != nil {
		return nil, err
	}

	if !resp.ok() {
		return nil, resp.statusError()
	}

	var h Health
	if err := resp.decode(&h); err != nil {
		return nil, err
	}

	return &h, nil
}

// Register upserts one file's metadata, keyed remotely by (absolute path,
// device). Safe to retry.
func (c *Client) Register(ctx context.Context, md *FileMetadata) (*RegisterResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/files/register", md, c.maxRetries)
	if err != nil {
		return nil, err
	}

	if !resp.ok() {
		return nil, &RegistrationError{StatusCode: resp.status, Detail: resp.detail()}
	}

	var result RegisterResult
	if err := resp.decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

// Search returns records whose file name matches pattern, where "*" matches
// any run of characters. No match is an empty slice, not an error.
func (c *Client) Search(ctx context.Context, pattern string) ([]FileRecord, error) {
	path := "/search/keyword?" + url.Values{"query": {pattern}}.Encode()

	resp, err := c.do(ctx, http.MethodGet, path, nil, c.maxRetries)
	if err != nil {
		return nil, err
	}

	// The registry answers an empty search with 404.
	if resp.status == http.StatusNotFound {
		return []FileRecord{}, nil
	}

	if !resp.ok() {
		return nil, resp.statusError()
	}

	var records []FileRecord
	if err := resp.decode(&records); err != nil {
		return nil, err
	}

	if records == nil {
		records = []FileRecord{}
	}

	return records, nil
}

// List returns every record in the registry.
func (c *Client) List(ctx context.Context) ([]FileRecord, error) {
	resp, err := c.do(ctx, http.MethodGet, "/files", nil, c.maxRetries)
	if err != nil {
		return nil, err
	}

	if !resp.ok() {
		return nil, resp.statusError()
	}

	var records []FileRecord
	if err := resp.decode(&records); err != nil {
		return nil, err
	}

	return records, nil
}

// Get returns one record. An unknown id yields an error wrapping ErrNotFound.
func (c *Client) Get(ctx context.Context, id int64) (*FileRecord, error) {
	resp, err := c.do(ctx, http.MethodGet, filePath(id), nil, c.maxRetries)
	if err != nil {
		return nil, err
	}

	if !resp.ok() {
		return nil, resp.statusError()
	}

	var rec FileRecord
	if err := resp.decode(&rec); err != nil {
		return nil, err
	}

	return &rec, nil
}

// Delete removes one record. An unknown id yields an error wrapping
// ErrNotFound.
func (c *Client) Delete(ctx context.Context, id int64) error {
	resp, err := c.do(ctx, http.MethodDelete, filePath(id), nil, c.maxRetries)
	if err != nil {
		return err
	}

	if !resp.ok() {
		return resp.statusError()
	}

	return nil
}

// DeleteByPath removes every record registered for absPath by device. The
// registry only searches by file name, so candidates are found by base name
// and filtered to an exact path and device match. The base name is searched
// in NFC, the form file names are registered in. A path matching nothing is
// a no-op. Records that vanish between search and delete count as deleted.
// Returns the number of records removed.
func (c *Client) DeleteByPath(ctx context.Context, absPath, device string) (int, error) {
	records, err := c.Search(ctx, norm.NFC.String(filepath.Base(absPath)))
	if err != nil {
		return 0, fmt.Errorf("registry: resolving %s: %w", absPath, err)
	}

	var deleted int

	for i := range records {
		rec := &records[i]
		if rec.AbsolutePath != absPath || rec.Device != device {
			continue
		}

		if err := c.Delete(ctx, rec.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return deleted, fmt.Errorf("registry: deleting %s (id %d): %w", absPath, rec.ID, err)
		}

		deleted++
	}

	return deleted, nil
}

// Stats returns registry totals.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	resp, err := c.do(ctx, http.MethodGet, "/stats", nil, c.maxRetries)
	if err != nil {
		return nil, err
	}

	if !resp.ok() {
		return nil, resp.statusError()
	}

	var s Stats
	if err := resp.decode(&s); err != nil {
		return nil, err
	}

	return &s, nil
}

func filePath(id int64) string {
	return "/files/" + strconv.FormatInt(id, 10)
}
