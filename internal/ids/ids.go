// Package ids generates the stable identifiers used across the resource
// model. Every tenant resource gets a UUIDv4 stable id at creation time;
// the id never changes across updates.
package ids

import "github.com/google/uuid"

// New returns a new stable resource id.
func New() string {
	return uuid.NewString()
}
