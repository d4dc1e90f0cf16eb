package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateID produces a short, human-sortable identifier of the form
// "<prefix>-<YYYYMMDD-HHMMSS>-<8 hex chars>", e.g. "job-20260729-143512-9f2c1a7b".
// The timestamp component makes ids roughly chronologically sortable; the random
// suffix disambiguates ids generated within the same second.
func GenerateID(prefix string) (string, error) {
	suffix, err := randomHex(4)
	if err != nil {
		return "", fmt.Errorf("error generating random suffix: %w", err)
	}
	return fmt.Sprintf("%s-%s-%s", prefix, time.Now().UTC().Format("20060102-150405"), suffix), nil
}

func randomHex(numBytes int) (string, error) {
	buf := make([]byte, numBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
