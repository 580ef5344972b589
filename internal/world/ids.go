package world

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// idSpace namespaces every id minted by the simulation.
var idSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("statecraft/world"))

// NewID derives a stable name-based UUID from kind and parts, so replaying
// a tick from the same snapshot yields the same ids.
func NewID(kind string, parts ...any) string {
	var b strings.Builder
	b.WriteString(kind)
	for _, p := range parts {
		fmt.Fprintf(&b, "|%v", p)
	}
	return uuid.NewSHA1(idSpace, []byte(b.String())).String()
}
