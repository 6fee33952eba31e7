package model

import "time"

// Provisioning defaults.
const (
	DefaultPrefix        = "raftis"
	DefaultShardCount    = 5
	DefaultFlavor        = "tiny"
	DefaultImage         = "emi-ubuntu-14.04-server-amd64"
	DefaultKeyName       = "raftis"
	DefaultPublicKeyPath = "~/.ssh/id_rsa.pub"
)

// DefaultDatacenters is the datacenter set used when none is given.
var DefaultDatacenters = []string{"lvs", "phx", "slc"}

// ProvisionRequest describes the cluster that should exist.
type ProvisionRequest struct {
	Prefix        string        `json:"prefix" yaml:"prefix" validate:"required,identlabel"`
	ShardCount    int           `json:"shard_count" yaml:"shard_count" validate:"min=1"`
	Datacenters   []string      `json:"datacenters" yaml:"datacenters" validate:"min=1,unique,dive,identlabel"`
	Flavor        string        `json:"flavor" yaml:"flavor" validate:"required"`
	Image         string        `json:"image" yaml:"image" validate:"required"`
	KeyName       string        `json:"key_name" yaml:"key_name" validate:"required"`
	PublicKeyPath string        `json:"public_key_path" yaml:"public_key_path"`
	Concurrency   int           `json:"concurrency" yaml:"concurrency" validate:"min=0"`
	BuildTimeout  time.Duration `json:"build_timeout" yaml:"build_timeout"`
	DNSTimeout    time.Duration `json:"dns_timeout" yaml:"dns_timeout"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
}

// WithDefaults returns a copy of the request with empty fields filled in.
func (r ProvisionRequest) WithDefaults() ProvisionRequest {
	if r.Prefix == "" {
		r.Prefix = DefaultPrefix
	}
	if r.ShardCount == 0 {
		r.ShardCount = DefaultShardCount
	}
	if len(r.Datacenters) == 0 {
		r.Datacenters = append([]string(nil), DefaultDatacenters...)
	}
	if r.Flavor == "" {
		r.Flavor = DefaultFlavor
	}
	if r.Image == "" {
		r.Image = DefaultImage
	}
	if r.KeyName == "" {
		r.KeyName = DefaultKeyName
	}
	if r.PublicKeyPath == "" {
		r.PublicKeyPath = DefaultPublicKeyPath
	}
	return r
}

// ExpectedNames is the identity set the request describes.
func (r ProvisionRequest) ExpectedNames() []string {
	return ExpectedIdentities(r.Prefix, r.ShardCount, r.Datacenters)
}

// HostFailure records a host that did not become ready.
type HostFailure struct {
	Name  string        `json:"name"`
	State InstanceState `json:"state"`
	Error string        `json:"error"`
}

// ProvisionReport is the outcome of a provisioning run. Ready and Failed
// cover every expected host, existing ones included: existing instances are
// checked for readiness, not assumed ready.
type ProvisionReport struct {
	Expected []string      `json:"expected"`
	Existing []string      `json:"existing"`
	Ready    []Host        `json:"ready"`
	Failed   []HostFailure `json:"failed,omitempty"`
}

// Checked returns the number of hosts the run has an outcome for.
func (r *ProvisionReport) Checked() int {
	return len(r.Ready) + len(r.Failed)
}

// Launched returns the number of hosts the run created.
func (r *ProvisionReport) Launched() int {
	existing := make(map[string]bool, len(r.Existing))
	for _, name := range r.Existing {
		existing[name] = true
	}
	n := 0
	for _, h := range r.Ready {
		if !existing[h.Name] {
			n++
		}
	}
	for _, f := range r.Failed {
		if !existing[f.Name] {
			n++
		}
	}
	return n
}
