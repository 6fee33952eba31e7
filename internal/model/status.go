package model

// InstanceState tracks a single instance through provisioning.
type InstanceState string

// Instance lifecycle states.
const (
	StateRequested  InstanceState = "requested"
	StateBuilding   InstanceState = "building"
	StateDNSPending InstanceState = "dns_pending"
	StateReady      InstanceState = "ready"
	StateFailed     InstanceState = "failed"
)

// Terminal reports whether no further transitions follow.
func (s InstanceState) Terminal() bool {
	return s == StateReady || s == StateFailed
}
