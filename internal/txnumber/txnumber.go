package txnumber

import (
	"crypto/rand"
	"fmt"
	"time"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// New returns a human-readable transaction number of the form
// {PREFIX}-{unixMillis}-{6 char base36}. Uniqueness is backed by a database
// constraint; callers regenerate on conflict.
func New(prefix string) string {
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), randomBase36(6))
}

// Receipt returns a sale receipt number of the form
// RCP-{unixMillis}-{9 char base36}.
func Receipt() string {
	return fmt.Sprintf("RCP-%d-%s", time.Now().UnixMilli(), randomBase36(9))
}

func randomBase36(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// Timestamp-only fallback; the unique constraint still guards us.
		return fmt.Sprintf("%0*d", n, time.Now().UnixNano()%1_000_000)[:n]
	}
	for i := range buf {
		buf[i] = base36[int(buf[i])%len(base36)]
	}
	return string(buf)
}
