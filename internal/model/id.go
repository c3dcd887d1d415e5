package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// RunIDPattern matches identifiers produced by GenerateRunID.
const RunIDPattern = `^run_[0-9]{10}_[0-9a-f]{8}$`

// GenerateRunID returns an identifier of the form run_<unix>_<8 hex>.
func GenerateRunID() (string, error) {
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return fmt.Sprintf("run_%010d_%s", time.Now().Unix(), hex.EncodeToString(randomBytes)), nil
}
