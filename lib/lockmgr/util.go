package lockmgr

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("lockmgr")

const ownerIDBytes = 16

// generateOwnerID creates a new random owner id, hex encoded so it stays readable in
// status output.
func generateOwnerID() ([]byte, error) {
	randomBytes := make([]byte, ownerIDBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, err
	}
	return []byte(hex.EncodeToString(randomBytes)), nil
}
