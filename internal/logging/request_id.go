package logging

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateRequestID returns a random UUID used to correlate the log lines
// of one transaction or CLI session.
func GenerateRequestID() string {
	return uuid.NewString()
}

// ShortID returns the first group of a request ID, for compact prompts and
// text logs.
func ShortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
