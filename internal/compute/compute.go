// Package compute talks to the cloud-compute backend that hosts cluster
// instances.
package compute

import (
	"context"
	"errors"
)

// Server status values reported by the backend.
const (
	StatusBuild  = "BUILD"
	StatusActive = "ACTIVE"
	StatusError  = "ERROR"
)

// MetadataFQDN is the instance metadata key holding its fully-qualified
// domain name.
const MetadataFQDN = "fqdn"

// ErrNotFound is returned when a named flavor, image or instance does not exist.
var ErrNotFound = errors.New("not found")

// Instance is a compute instance as seen by the backend.
type Instance struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	FQDN   string `json:"fqdn"`
	Status string `json:"status"`
}

// Building reports whether the backend is still building the instance.
func (i *Instance) Building() bool {
	return i.Status == StatusBuild
}

// CreateOpts describes an instance to create.
type CreateOpts struct {
	Name     string `json:"name"`
	FlavorID string `json:"flavor_id"`
	ImageID  string `json:"image_id"`
	KeyName  string `json:"key_name"`
}

// Backend is the subset of the compute API the provisioning tools use. One
// Backend is created per run and shared by all concurrent units of work, so
// implementations must be safe for concurrent use.
type Backend interface {
	ListInstances(ctx context.Context) ([]Instance, error)
	GetInstance(ctx context.Context, id string) (*Instance, error)
	CreateInstance(ctx context.Context, opts CreateOpts) (*Instance, error)
	HasKeypair(ctx context.Context, name string) (bool, error)
	CreateKeypair(ctx context.Context, name, publicKey string) error
	FindFlavor(ctx context.Context, name string) (string, error)
	FindImage(ctx context.Context, name string) (string, error)
}
