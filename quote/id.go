package quote

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// NewRequestID builds a human-readable request identifier, date plus a
// random 4-digit suffix. Uniqueness is enforced by the primary key; callers
// retry on collision.
func NewRequestID(now time.Time) string {
	return fmt.Sprintf("MR-%s-%04d", now.Format("20060102"), randomSuffix())
}

func randomSuffix() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return time.Now().UnixNano() % 10000
	}
	return n.Int64()
}
