package raftisctl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/edvin/raftisctl/internal/compute"
	"github.com/edvin/raftisctl/internal/model"
	"github.com/edvin/raftisctl/internal/platform"
	"github.com/edvin/raftisctl/internal/topology"
)

// GenConfig writes the topology of the live inventory to w.
func GenConfig(ctx context.Context, lister compute.InstanceLister, prefix string, slotsPerShard int, w io.Writer) (*topology.Topology, error) {
	hosts, err := compute.Inventory(ctx, lister, prefix)
	if err != nil {
		return nil, err
	}
	return genConfig(hosts, slotsPerShard, w)
}

// GenConfigFromHosts writes the topology of a host list read from r, for
// clusters not managed through the compute backend. Each line is either
// "<fqdn>" or "<group>\t<fqdn>"; blank lines and # comments are skipped.
func GenConfigFromHosts(r io.Reader, slotsPerShard int, w io.Writer) (*topology.Topology, error) {
	hosts, err := ReadHosts(r)
	if err != nil {
		return nil, err
	}
	return genConfig(hosts, slotsPerShard, w)
}

func genConfig(hosts []model.Host, slotsPerShard int, w io.Writer) (*topology.Topology, error) {
	t, err := topology.Generate(hosts, slotsPerShard)
	if err != nil {
		return nil, err
	}
	if err := topology.Write(w, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ReadHosts parses a host list. The group column, when present, must agree
// with the datacenter encoded in the host name.
func ReadHosts(r io.Reader) ([]model.Host, error) {
	var hosts []model.Host
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		var group, fqdn string
		switch len(fields) {
		case 1:
			fqdn = fields[0]
		case 2:
			group, fqdn = fields[0], fields[1]
		default:
			return nil, fmt.Errorf("line %d: expected \"[group] host\", got %q", line, text)
		}

		h, err := model.HostFromInstance(platform.ShortHostname(fqdn), fqdn)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if group != "" && group != h.Group {
			return nil, fmt.Errorf("line %d: host %s is in %s, not %s", line, h.Name, h.Group, group)
		}
		hosts = append(hosts, h)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read hosts: %w", err)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Name < hosts[j].Name })
	return hosts, nil
}
