package model

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// ErrInvalidIdentity is returned when an instance name does not follow the
// <prefix>-<shard>-<datacenter> naming convention.
var ErrInvalidIdentity = errors.New("invalid instance identity")

// identityRegex is the naming contract for cluster instances. The shard
// segment is the zero-padded shard index, the last segment the datacenter.
var identityRegex = regexp.MustCompile(`^([a-z][a-z0-9]*)-([0-9]+)-([a-z][a-z0-9]*)$`)

// Identity is the information encoded in an instance name.
type Identity struct {
	Prefix     string `json:"prefix"`
	Shard      int    `json:"shard"`
	Datacenter string `json:"datacenter"`
}

// ParseIdentity parses an instance name such as "raftis-03-phx".
func ParseIdentity(name string) (Identity, error) {
	m := identityRegex.FindStringSubmatch(name)
	if m == nil {
		return Identity{}, fmt.Errorf("%w: %q does not match <prefix>-<shard>-<datacenter>", ErrInvalidIdentity, name)
	}
	shard, err := strconv.Atoi(m[2])
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %q: shard index: %v", ErrInvalidIdentity, name, err)
	}
	return Identity{Prefix: m[1], Shard: shard, Datacenter: m[3]}, nil
}

// Format renders the identity with the shard index zero-padded to width digits.
func (id Identity) Format(width int) string {
	return fmt.Sprintf("%s-%0*d-%s", id.Prefix, width, id.Shard, id.Datacenter)
}

// ShardWidth is the number of digits used for shard indexes in a cluster of
// shardCount shards.
func ShardWidth(shardCount int) int {
	return len(strconv.Itoa(shardCount))
}

// ExpectedIdentities returns the sorted set of instance names a cluster of
// shardCount shards spread over the given datacenters consists of.
func ExpectedIdentities(prefix string, shardCount int, datacenters []string) []string {
	width := ShardWidth(shardCount)
	seen := make(map[string]bool, shardCount*len(datacenters))
	names := make([]string, 0, shardCount*len(datacenters))
	for shard := 0; shard < shardCount; shard++ {
		for _, dc := range datacenters {
			name := Identity{Prefix: prefix, Shard: shard, Datacenter: dc}.Format(width)
			if seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
