package core

import "github.com/google/uuid"

// NewID returns a random identifier of the form "<kind>.<uuid>".
func NewID(kind string) string {
	if kind == "" {
		return uuid.New().String()
	}
	return kind + "." + uuid.New().String()
}
