package compute

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/edvin/raftisctl/internal/model"
)

// InstanceLister lists the instances of a project.
type InstanceLister interface {
	ListInstances(ctx context.Context) ([]Instance, error)
}

// Inventory returns the cluster hosts among the backend's instances. Only
// instances named <prefix>-... are considered; any such instance whose name
// does not follow the naming convention fails the whole listing.
func Inventory(ctx context.Context, b InstanceLister, prefix string) ([]model.Host, error) {
	instances, err := b.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	var hosts []model.Host
	for _, inst := range instances {
		if !strings.HasPrefix(inst.Name, prefix+"-") {
			continue
		}
		h, err := model.HostFromInstance(inst.Name, inst.FQDN)
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", inst.ID, err)
		}
		hosts = append(hosts, h)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Name < hosts[j].Name })
	return hosts, nil
}

// InstancesByName indexes instances by name.
func InstancesByName(instances []Instance) map[string]Instance {
	byName := make(map[string]Instance, len(instances))
	for _, inst := range instances {
		byName[inst.Name] = inst
	}
	return byName
}
