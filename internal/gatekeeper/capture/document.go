package capture

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/maxpark/gatekeeper/internal/gatekeeper/types"
	"github.com/maxpark/gatekeeper/internal/jsonfile"
)

// Document is the alternate-transport payload: one transaction plus its
// capture, base64-encoded, in a single JSON file.  encoding/json
// base64-encodes the []byte field on marshal.
type Document struct {
	Transaction types.Transaction `json:"transaction"`
	ImageName   string            `json:"image_name,omitempty"`
	ImageData   []byte            `json:"image_data,omitempty"`
}

// WriteDocument places the combined document in the pending directory,
// named after the transaction ID so re-writes are idempotent.  The
// image path may be empty when no capture was taken.
func WriteDocument(pendingDir string, tx types.Transaction, imagePath string) (string, error) {
	doc := Document{Transaction: tx}
	if imagePath != "" {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return "", fmt.Errorf("read capture for document: %w", err)
		}
		doc.ImageName = filepath.Base(imagePath)
		doc.ImageData = data
	}

	path := filepath.Join(pendingDir, tx.ID+".json")
	if err := jsonfile.Write(path, doc); err != nil {
		return "", fmt.Errorf("write document %s: %w", tx.ID, err)
	}
	return path, nil
}
