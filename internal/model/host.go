package model

// Host is a cluster member discovered from the compute inventory.
type Host struct {
	Name  string `json:"name"`
	FQDN  string `json:"fqdn"`
	Group string `json:"group"`
	Shard int    `json:"shard"`
}

// HostFromInstance builds a Host from an instance name and its FQDN. The
// shard index and datacenter group come from the name only.
func HostFromInstance(name, fqdn string) (Host, error) {
	id, err := ParseIdentity(name)
	if err != nil {
		return Host{}, err
	}
	return Host{
		Name:  name,
		FQDN:  fqdn,
		Group: id.Datacenter,
		Shard: id.Shard,
	}, nil
}

// Address returns the name other nodes should use to reach the host.
func (h Host) Address() string {
	if h.FQDN != "" {
		return h.FQDN
	}
	return h.Name
}
