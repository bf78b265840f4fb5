package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// ReceiptNumber formats PREFIX-YYYYMMDD-XXXXXX where the suffix is the
// random tail of a fresh ULID.
func ReceiptNumber(prefix string, at time.Time) string {
	id := ulid.Make().String()
	return prefix + "-" + at.UTC().Format("20060102") + "-" + id[len(id)-6:]
}
