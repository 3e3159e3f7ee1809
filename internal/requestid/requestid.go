package requestid

import (
	"strings"

	"github.com/google/uuid"
)

const HeaderKey = "X-Request-Id"

// Gen returns a time-ordered UUIDv7 so ids sort with the access log.
func Gen() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Sanitize keeps a client supplied id only when it is short and printable.
func Sanitize(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || len(v) > 128 {
		return ""
	}
	for _, r := range v {
		if r < 0x21 || r > 0x7e {
			return ""
		}
	}
	return v
}
