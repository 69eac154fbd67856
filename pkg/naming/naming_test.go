package naming

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate(t *testing.T) {
	re := regexp.MustCompile(`^w_[0-9a-f]{8}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		name := Generate("w_")
		assert.Regexp(t, re, name)
		assert.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
	}
}
