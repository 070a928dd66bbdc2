package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a time-ordered identifier such as "sale-0190f6c2...".
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "-" + strings.ReplaceAll(id.String(), "-", "")
}
