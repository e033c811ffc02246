// Package formatter reads and writes snapshot files and renders run reports as text, Markdown or CSV.
package formatter

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wsx/internal/models"
	"github.com/desertthunder/wsx/internal/shared"
	"github.com/goccy/go-json"
)

const indent = "    "

// EncodeSnapshot renders a snapshot as pretty-printed JSON with sorted keys.
func EncodeSnapshot(snapshot models.Snapshot) ([]byte, error) {
	if snapshot == nil {
		snapshot = models.Snapshot{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", indent)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snapshot); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot parses a snapshot file.
//
// A document that is not an object keyed by username is an error. A single malformed
// user entry is logged and left out so the rest of the snapshot can still be imported.
func DecodeSnapshot(data []byte, logger *log.Logger) (models.Snapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrMalformedHistory, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: snapshot is not an object", shared.ErrMalformedHistory)
	}

	snapshot := make(models.Snapshot, len(raw))
	for username, body := range raw {
		var history models.UserHistory
		if err := json.Unmarshal(body, &history); err != nil {
			if logger != nil {
				logger.Warn("skipping malformed snapshot entry", "user", username, "error", err)
			}
			continue
		}
		history.Username = username
		prune(&history)
		snapshot[username] = &history
	}
	return snapshot, nil
}

// prune drops null records, which the importer has nothing to apply from.
func prune(h *models.UserHistory) {
	for _, records := range []map[models.CanonicalID]*models.WatchRecord{h.Movie, h.Show, h.Album} {
		for id, rec := range records {
			if rec == nil {
				delete(records, id)
				continue
			}
			for _, children := range []map[models.CanonicalID]*models.WatchRecord{rec.Episodes, rec.Tracks} {
				for cid, child := range children {
					if child == nil {
						delete(children, cid)
					}
				}
			}
		}
	}
}

// WriteSnapshot encodes snapshot to w.
func WriteSnapshot(w io.Writer, snapshot models.Snapshot) error {
	data, err := EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// SaveSnapshot writes snapshot to path through a temporary file in the same directory.
// The previous file at path survives a failed write.
func SaveSnapshot(path string, snapshot models.Snapshot) error {
	data, err := EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace snapshot %s: %w", path, err)
	}
	return nil
}

// LoadSnapshot reads and decodes the snapshot at path.
func LoadSnapshot(path string, logger *log.Logger) (models.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return DecodeSnapshot(data, logger)
}
