package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jpratama/fieldtrack-server/internal/geo"
	"github.com/jpratama/fieldtrack-server/internal/timeutil"
)

// IdempotencyKey derives the deterministic key identifying a reading:
// SHA-256 over employee id, session id, the recorded time floored to the
// second, and coordinates rounded to 5 decimals. Devices compute it before
// queueing; the server recomputes it to verify. A retried upload of the same
// reading always produces the same key.
func IdempotencyKey(employeeID, sessionID string, recordedAt time.Time, lat, lng float64) string {
	payload := fmt.Sprintf("%s|%s|%d|%.5f|%.5f",
		employeeID,
		sessionID,
		timeutil.FloorSecond(recordedAt).Unix(),
		geo.Round5(lat),
		geo.Round5(lng),
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
