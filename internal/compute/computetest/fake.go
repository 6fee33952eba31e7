// Package computetest provides an in-memory compute backend for tests.
package computetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/edvin/raftisctl/internal/compute"
)

// Domain is appended to instance names to form their FQDN.
const Domain = "dev.example.com"

// Backend is an in-memory compute.Backend. Instances created through it
// report BUILD until their status script is exhausted.
type Backend struct {
	mu sync.Mutex

	// Flavors and Images map names to IDs.
	Flavors map[string]string
	Images  map[string]string

	// Statuses scripts the statuses GetInstance returns per instance name,
	// one entry per call. Once exhausted the last entry repeats. Instances
	// without a script become ACTIVE on the first poll.
	Statuses map[string][]string

	// CreateErrors makes CreateInstance fail for the given names.
	CreateErrors map[string]error

	// ListErr makes ListInstances fail.
	ListErr error

	instances map[string]*compute.Instance
	keypairs  map[string]string
	nextID    int

	created        []string
	getCalls       map[string]int
	keypairCreates int
}

// NewBackend returns a backend with the default flavor and image registered.
func NewBackend() *Backend {
	return &Backend{
		Flavors:      map[string]string{"tiny": "flavor-tiny"},
		Images:       map[string]string{"emi-ubuntu-14.04-server-amd64": "image-ubuntu"},
		Statuses:     map[string][]string{},
		CreateErrors: map[string]error{},
		instances:    map[string]*compute.Instance{},
		keypairs:     map[string]string{},
		getCalls:     map[string]int{},
	}
}

// AddInstance registers an existing instance.
func (b *Backend) AddInstance(name, status string) compute.Instance {
	b.mu.Lock()
	defer b.mu.Unlock()
	inst := b.add(name, status)
	return *inst
}

// AddKeypair registers an existing keypair.
func (b *Backend) AddKeypair(name, publicKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keypairs[name] = publicKey
}

func (b *Backend) add(name, status string) *compute.Instance {
	b.nextID++
	inst := &compute.Instance{
		ID:     fmt.Sprintf("server-%d", b.nextID),
		Name:   name,
		FQDN:   name + "." + Domain,
		Status: status,
	}
	b.instances[inst.ID] = inst
	return inst
}

func (b *Backend) ListInstances(ctx context.Context) ([]compute.Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ListErr != nil {
		return nil, b.ListErr
	}
	out := make([]compute.Instance, 0, len(b.instances))
	for _, inst := range b.instances {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *Backend) GetInstance(ctx context.Context, id string) (*compute.Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	inst, ok := b.instances[id]
	if !ok {
		return nil, fmt.Errorf("server %s: %w", id, compute.ErrNotFound)
	}
	n := b.getCalls[id]
	b.getCalls[id] = n + 1
	if script, ok := b.Statuses[inst.Name]; ok && len(script) > 0 {
		if n >= len(script) {
			n = len(script) - 1
		}
		inst.Status = script[n]
	} else if inst.Status == compute.StatusBuild {
		inst.Status = compute.StatusActive
	}
	cp := *inst
	return &cp, nil
}

func (b *Backend) CreateInstance(ctx context.Context, opts compute.CreateOpts) (*compute.Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.CreateErrors[opts.Name]; err != nil {
		return nil, err
	}
	if _, ok := b.keypairs[opts.KeyName]; !ok {
		return nil, fmt.Errorf("keypair %s: %w", opts.KeyName, compute.ErrNotFound)
	}
	b.created = append(b.created, opts.Name)
	inst := b.add(opts.Name, compute.StatusBuild)
	cp := *inst
	return &cp, nil
}

func (b *Backend) HasKeypair(ctx context.Context, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.keypairs[name]
	return ok, nil
}

func (b *Backend) CreateKeypair(ctx context.Context, name, publicKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.keypairs[name]; ok {
		return fmt.Errorf("keypair %s already exists", name)
	}
	b.keypairCreates++
	b.keypairs[name] = publicKey
	return nil
}

func (b *Backend) FindFlavor(ctx context.Context, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.Flavors[name]; ok {
		return id, nil
	}
	return "", fmt.Errorf("flavor %q: %w", name, compute.ErrNotFound)
}

func (b *Backend) FindImage(ctx context.Context, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.Images[name]; ok {
		return id, nil
	}
	return "", fmt.Errorf("image %q: %w", name, compute.ErrNotFound)
}

// Created returns the names passed to successful CreateInstance calls, sorted.
func (b *Backend) Created() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]string(nil), b.created...)
	sort.Strings(out)
	return out
}

// GetCalls returns how often GetInstance was called for id.
func (b *Backend) GetCalls(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.getCalls[id]
}

// KeypairCreates returns how many keypairs were created.
func (b *Backend) KeypairCreates() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.keypairCreates
}

// Keypair returns the public key stored under name.
func (b *Backend) Keypair(name string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k, ok := b.keypairs[name]
	return k, ok
}

var _ compute.Backend = (*Backend)(nil)
