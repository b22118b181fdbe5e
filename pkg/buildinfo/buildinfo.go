// Package buildinfo carries the process identity spec.md §6's
// "Environment" section requires every API response to embed:
// server_id, service_id, and service_pid.
package buildinfo

import (
	"os"

	"github.com/google/uuid"
)

// Info is the identity triple injected into every API envelope.
type Info struct {
	ServerID   string
	ServiceID  string
	ServicePID int
}

// New generates a fresh server/service identity pair for this process,
// the way SRS mints a random server_id/service_id at boot rather than
// persisting one across restarts.
func New() Info {
	return Info{
		ServerID:   uuid.NewString(),
		ServiceID:  uuid.NewString(),
		ServicePID: os.Getpid(),
	}
}
