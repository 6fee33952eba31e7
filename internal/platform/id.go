package platform

import (
	"github.com/google/uuid"
)

func NewID() string {
	return uuid.New().String()
}

// RunID returns a workflow ID for a provisioning run of cluster. The short
// random suffix keeps concurrent runs apart.
func RunID(cluster string) string {
	return "provision-" + cluster + "-" + NewID()[:8]
}
