package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity("raftis-03-phx")
	require.NoError(t, err)
	assert.Equal(t, Identity{Prefix: "raftis", Shard: 3, Datacenter: "phx"}, id)
}

func TestParseIdentity_Invalid(t *testing.T) {
	tests := []string{
		"",
		"raftis",
		"raftis-phx",
		"raftis-x1-phx",
		"raftis-01-phx-extra",
		"raftis-01-",
		"Raftis-01-phx",
		"raftis-01-phx.example.com",
	}
	for _, name := range tests {
		_, err := ParseIdentity(name)
		assert.ErrorIs(t, err, ErrInvalidIdentity, "name=%q", name)
	}
}

func TestIdentity_Format(t *testing.T) {
	id := Identity{Prefix: "raftis", Shard: 3, Datacenter: "slc"}
	assert.Equal(t, "raftis-3-slc", id.Format(1))
	assert.Equal(t, "raftis-03-slc", id.Format(2))
	assert.Equal(t, "raftis-003-slc", id.Format(3))
}

func TestIdentity_RoundTrip(t *testing.T) {
	for _, name := range ExpectedIdentities("raftis", 12, []string{"lvs", "phx"}) {
		id, err := ParseIdentity(name)
		require.NoError(t, err)
		assert.Equal(t, name, id.Format(ShardWidth(12)))
	}
}

func TestShardWidth(t *testing.T) {
	assert.Equal(t, 1, ShardWidth(5))
	assert.Equal(t, 2, ShardWidth(10))
	assert.Equal(t, 2, ShardWidth(99))
	assert.Equal(t, 3, ShardWidth(100))
}

func TestExpectedIdentities(t *testing.T) {
	names := ExpectedIdentities("raftis", 2, []string{"slc", "lvs", "phx"})
	assert.Equal(t, []string{
		"raftis-0-lvs", "raftis-0-phx", "raftis-0-slc",
		"raftis-1-lvs", "raftis-1-phx", "raftis-1-slc",
	}, names)
}

func TestExpectedIdentities_Padded(t *testing.T) {
	names := ExpectedIdentities("raftis", 10, []string{"lvs"})
	require.Len(t, names, 10)
	assert.Equal(t, "raftis-00-lvs", names[0])
	assert.Equal(t, "raftis-09-lvs", names[9])
}

func TestExpectedIdentities_DuplicateDatacenters(t *testing.T) {
	names := ExpectedIdentities("raftis", 1, []string{"lvs", "lvs"})
	assert.Equal(t, []string{"raftis-0-lvs"}, names)
}

func TestHostFromInstance(t *testing.T) {
	h, err := HostFromInstance("raftis-2-lvs", "raftis-2-lvs.dev.example.com")
	require.NoError(t, err)
	assert.Equal(t, Host{Name: "raftis-2-lvs", FQDN: "raftis-2-lvs.dev.example.com", Group: "lvs", Shard: 2}, h)
	assert.Equal(t, "raftis-2-lvs.dev.example.com", h.Address())

	h.FQDN = ""
	assert.Equal(t, "raftis-2-lvs", h.Address())
}
