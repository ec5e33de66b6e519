package broker

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// GenerateMasterKey creates a fresh master key and writes it to path,
// clobbering any previous contents. A new key is generated on every
// broker start, so a stale key file can never grant access to a broker
// that has since restarted.
func GenerateMasterKey(path string) (string, error) {
	key := uuid.NewString()
	if err := os.WriteFile(path, []byte(key+"\n"), 0600); err != nil {
		return "", fmt.Errorf("write master key file %s: %w", path, err)
	}
	return key, nil
}
