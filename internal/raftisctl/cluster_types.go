package raftisctl

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/edvin/raftisctl/internal/model"
)

// ClusterDef is a cluster definition file. Request fields sit at the top
// level:
//
//	prefix: raftis
//	shard_count: 5
//	datacenters: [lvs, phx, slc]
//	build_timeout: 20m
//	slots_per_shard: 4
//	output: raftis.json
type ClusterDef struct {
	model.ProvisionRequest `yaml:",inline"`

	SlotsPerShard int    `yaml:"slots_per_shard"`
	Output        string `yaml:"output"`
	Publish       bool   `yaml:"publish"`
}

// LoadClusterDef reads a YAML cluster definition. slotsPerShard applies
// when the file does not set slots_per_shard.
func LoadClusterDef(path string, slotsPerShard int) (*ClusterDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cluster definition: %w", err)
	}
	def := ClusterDef{SlotsPerShard: slotsPerShard}
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse cluster definition %s: %w", path, err)
	}
	return &def, nil
}
