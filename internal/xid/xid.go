// Package xid generates prefixed, time-ordered random ids for receipts and
// audit rows.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// New returns an id of the form prefix-<unix millis, base 36>-<10 hex chars>.
// The timestamp keeps ids roughly sortable by creation time; the random tail
// keeps concurrent callers from colliding.
func New(prefix string) string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%s", prefix, ts)
	}
	return fmt.Sprintf("%s-%s-%s", prefix, ts, hex.EncodeToString(buf))
}
