package xid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	seen := make(map[string]bool, 100)
	for i := 0; i < 100; i++ {
		id := New("sale")
		assert.True(t, strings.HasPrefix(id, "sale-"), id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
