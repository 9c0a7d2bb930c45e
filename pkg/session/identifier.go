package session

import (
	cryptorand "crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var sessionNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9\-]`)

var (
	entropyMu   sync.Mutex
	ulidEntropy = ulid.Monotonic(cryptorand.Reader, 0)
)

// GenerateSessionID returns a unique, time-ordered session ID using the
// provided base name. Safe for concurrent use.
func GenerateSessionID(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = "session"
	}
	base = strings.ToLower(strings.ReplaceAll(base, " ", "-"))
	base = sessionNameSanitizer.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-")
	if base == "" {
		base = "session"
	}

	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
	entropyMu.Unlock()

	return fmt.Sprintf("%s-%s", base, strings.ToLower(id))
}

// ParseTime extracts the creation time embedded in an ID produced by
// GenerateSessionID.
func ParseTime(id string) (time.Time, bool) {
	idx := strings.LastIndex(id, "-")
	if idx < 0 || idx == len(id)-1 {
		return time.Time{}, false
	}
	parsed, err := ulid.ParseStrict(strings.ToUpper(id[idx+1:]))
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}
