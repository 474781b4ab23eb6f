package referral

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewCode builds a shareable referral code: MOVE, the current year, and a
// 3-character base36 suffix (for example MOVE2026ABC). Uniqueness is
// enforced by the codes table; callers retry on collision.
func NewCode(now time.Time) string {
	suffix := make([]byte, 3)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			suffix[i] = codeAlphabet[time.Now().UnixNano()%int64(len(codeAlphabet))]
			continue
		}
		suffix[i] = codeAlphabet[n.Int64()]
	}
	return fmt.Sprintf("MOVE%d%s", now.Year(), suffix)
}
