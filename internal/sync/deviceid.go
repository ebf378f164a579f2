package sync

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"

	"github.com/skysyncd/skysync/internal/utils"
)

// DeviceID returns the stable identifier embedded in conflict-copy names and
// remote metadata. It prefers a hash of the machine id so reinstalls keep the
// same identity; when that fails it falls back to a uuid persisted under
// dataDir, so the identity is at least stable per install.
func DeviceID(dataDir string) (string, error) {
	if id, err := machineid.ProtectedID("skysync"); err == nil && id != "" {
		return shortID(id), nil
	}

	idPath := filepath.Join(dataDir, "device_id")
	if raw, err := os.ReadFile(idPath); err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return shortID(id), nil
		}
	}

	id := uuid.NewString()
	if err := utils.EnsureParent(idPath); err != nil {
		return "", err
	}
	if err := os.WriteFile(idPath, []byte(id), 0o600); err != nil {
		return "", err
	}
	return shortID(id), nil
}

// shortID keeps conflict-copy filenames readable.
func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}
