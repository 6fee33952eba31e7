// Package topology maps a cluster inventory onto shards and key-space slots
// and serializes the result into the document nodes read at startup.
package topology

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/edvin/raftisctl/internal/model"
)

// DefaultSlotsPerShard is the number of slots each shard owns when the
// caller does not ask for more.
const DefaultSlotsPerShard = 1

// ErrNoHosts is returned when the inventory is empty.
var ErrNoHosts = errors.New("no hosts in inventory")

// HostEntry is a shard member as it appears in the topology document.
type HostEntry struct {
	Host  string `json:"host"`
	Group string `json:"group"`
}

// Shard is one partition of the key space and the hosts replicating it.
// Its index is its position in Topology.Shards.
type Shard struct {
	Hosts []HostEntry `json:"hosts"`
	Slots []int       `json:"slots"`
}

// Topology is the full shard and slot layout of a cluster.
type Topology struct {
	NumSlots int     `json:"numSlots"`
	Shards   []Shard `json:"shards"`
}

// BalanceError means the datacenter groups do not have the same number of
// hosts, so not every shard can be replicated once per datacenter.
type BalanceError struct {
	Counts map[string]int
}

func (e *BalanceError) Error() string {
	groups := make([]string, 0, len(e.Counts))
	for g := range e.Counts {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	parts := make([]string, len(groups))
	for i, g := range groups {
		parts[i] = fmt.Sprintf("%s=%d", g, e.Counts[g])
	}
	return fmt.Sprintf("unbalanced datacenter groups, every group needs the same number of hosts: %s", strings.Join(parts, " "))
}

// ShardMembershipError means the group counts are balanced but the shard
// indexes encoded in host names do not give every shard one host per group.
type ShardMembershipError struct {
	Group  string
	Shard  int
	Reason string
}

func (e *ShardMembershipError) Error() string {
	return fmt.Sprintf("group %s shard %d: %s", e.Group, e.Shard, e.Reason)
}

// Generate builds the topology for the given inventory. The shard count is
// the number of hosts in each datacenter group, and shard s owns the slots
// s, s+shardCount, s+2*shardCount, ... below shardCount*slotsPerShard.
func Generate(hosts []model.Host, slotsPerShard int) (*Topology, error) {
	if slotsPerShard < 1 {
		return nil, fmt.Errorf("slots per shard must be at least 1, got %d", slotsPerShard)
	}
	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}

	counts := make(map[string]int)
	for _, h := range hosts {
		counts[h.Group]++
	}
	shardCount := -1
	for _, c := range counts {
		if shardCount == -1 {
			shardCount = c
			continue
		}
		if c != shardCount {
			return nil, &BalanceError{Counts: counts}
		}
	}

	seen := make(map[string]map[int]bool, len(counts))
	for _, h := range hosts {
		if h.Shard < 0 || h.Shard >= shardCount {
			return nil, &ShardMembershipError{Group: h.Group, Shard: h.Shard, Reason: fmt.Sprintf("index outside [0, %d)", shardCount)}
		}
		if seen[h.Group] == nil {
			seen[h.Group] = make(map[int]bool, shardCount)
		}
		if seen[h.Group][h.Shard] {
			return nil, &ShardMembershipError{Group: h.Group, Shard: h.Shard, Reason: "more than one host"}
		}
		seen[h.Group][h.Shard] = true
	}

	sorted := append([]model.Host(nil), hosts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Group != sorted[j].Group {
			return sorted[i].Group < sorted[j].Group
		}
		return sorted[i].Name < sorted[j].Name
	})

	numSlots := shardCount * slotsPerShard
	t := &Topology{
		NumSlots: numSlots,
		Shards:   make([]Shard, shardCount),
	}
	for s := range t.Shards {
		t.Shards[s].Hosts = []HostEntry{}
		t.Shards[s].Slots = stripedSlots(s, shardCount, numSlots)
	}
	for _, h := range sorted {
		t.Shards[h.Shard].Hosts = append(t.Shards[h.Shard].Hosts, HostEntry{
			Host:  h.Address(),
			Group: h.Group,
		})
	}
	return t, nil
}

func stripedSlots(shard, shardCount, numSlots int) []int {
	slots := make([]int, 0, numSlots/shardCount)
	for slot := shard; slot < numSlots; slot += shardCount {
		slots = append(slots, slot)
	}
	return slots
}

// Validate checks that the shards' slot sets partition [0, NumSlots) and
// that every shard has at least one host.
func Validate(t *Topology) error {
	if t.NumSlots < 1 {
		return fmt.Errorf("numSlots must be positive, got %d", t.NumSlots)
	}
	if len(t.Shards) == 0 {
		return fmt.Errorf("topology has no shards")
	}
	// Sized by the slots listed, never by numSlots.
	owner := make(map[int]int)
	for s, shard := range t.Shards {
		if len(shard.Hosts) == 0 {
			return fmt.Errorf("shard %d has no hosts", s)
		}
		for _, slot := range shard.Slots {
			if slot < 0 || slot >= t.NumSlots {
				return fmt.Errorf("shard %d: slot %d outside [0, %d)", s, slot, t.NumSlots)
			}
			if prev, ok := owner[slot]; ok {
				return fmt.Errorf("slot %d owned by shards %d and %d", slot, prev, s)
			}
			owner[slot] = s
		}
	}
	if len(owner) != t.NumSlots {
		return fmt.Errorf("%d of %d slots have no owner", t.NumSlots-len(owner), t.NumSlots)
	}
	return nil
}

// SlotOwner returns the index of the shard owning slot.
func SlotOwner(t *Topology, slot int) (int, error) {
	for s, shard := range t.Shards {
		for _, owned := range shard.Slots {
			if owned == slot {
				return s, nil
			}
		}
	}
	return -1, fmt.Errorf("slot %d has no owner", slot)
}

// ShardOf returns the index of the shard host belongs to.
func ShardOf(t *Topology, host string) (int, bool) {
	for s, shard := range t.Shards {
		for _, h := range shard.Hosts {
			if h.Host == host {
				return s, true
			}
		}
	}
	return -1, false
}

// HostNames returns every host in the topology in shard order.
func HostNames(t *Topology) []string {
	var names []string
	for _, shard := range t.Shards {
		for _, h := range shard.Hosts {
			names = append(names, h.Host)
		}
	}
	return names
}
