// Package ids produces identifiers for tasks and workspaces.
package ids

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewTaskID generates a new task identifier with a stable prefix for display.
func NewTaskID() string {
	return newIdentifier("task")
}

func newIdentifier(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	// The short form keeps log lines and URLs readable; v7 preserves
	// creation ordering in directory listings.
	return fmt.Sprintf("%s-%s", prefix, strings.ReplaceAll(id.String(), "-", "")[:20])
}
