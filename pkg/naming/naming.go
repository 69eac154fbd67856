// Package naming generates names for ESP objects created without one.
package naming

import (
	"strings"

	"github.com/google/uuid"
)

// Generate returns prefix followed by eight random lowercase hex characters,
// e.g. "w_3f9c01ab". ESP names must start with a letter, so callers pass a
// prefix such as "p_", "cq_" or "w_".
func Generate(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + id[:8]
}
