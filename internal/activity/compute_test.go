package activity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"golang.org/x/crypto/ssh"

	"github.com/edvin/raftisctl/internal/compute"
	"github.com/edvin/raftisctl/internal/compute/computetest"
	"github.com/edvin/raftisctl/internal/model"
	"github.com/edvin/raftisctl/internal/readiness"
	"github.com/edvin/raftisctl/internal/readiness/readinesstest"
)

func newTestCompute(b *computetest.Backend, dnsFailures int) (*Compute, *readinesstest.Clock, *readinesstest.Resolver) {
	clock := readinesstest.NewClock()
	resolver := readinesstest.NewResolver(dnsFailures)
	return NewCompute(b, zerolog.Nop(), readiness.Options{Clock: clock, Resolver: resolver}), clock, resolver
}

func requireNonRetryable(t *testing.T, err error, errType string) {
	t.Helper()
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, errType, appErr.Type())
}

func TestPlanProvision(t *testing.T) {
	b := computetest.NewBackend()
	b.AddInstance("raftis-0-lvs", compute.StatusActive)
	a, _, _ := newTestCompute(b, 0)

	plan, err := a.PlanProvision(context.Background(), model.ProvisionRequest{ShardCount: 1, Datacenters: []string{"lvs", "phx"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"raftis-0-phx"}, plan.Missing)
	assert.Equal(t, []string{"raftis-0-lvs"}, plan.Existing)
	require.Len(t, plan.Instances, 1)
	assert.Equal(t, "raftis-0-lvs", plan.Instances[0].Name)
}

func TestPlanProvision_Invalid(t *testing.T) {
	a, _, _ := newTestCompute(computetest.NewBackend(), 0)

	_, err := a.PlanProvision(context.Background(), model.ProvisionRequest{Prefix: "Bad"})
	requireNonRetryable(t, err, "INVALID_REQUEST")
}

func TestEnsureKeypair_CreatesFromFile(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id_ed25519.pub")
	require.NoError(t, os.WriteFile(path, ssh.MarshalAuthorizedKey(sshPub), 0o600))

	b := computetest.NewBackend()
	a, _, _ := newTestCompute(b, 0)

	require.NoError(t, a.EnsureKeypair(context.Background(), EnsureKeypairParams{KeyName: "raftis", PublicKeyPath: path}))
	require.NoError(t, a.EnsureKeypair(context.Background(), EnsureKeypairParams{KeyName: "raftis", PublicKeyPath: path}))
	assert.Equal(t, 1, b.KeypairCreates())
}

func TestResolveLaunchSpec(t *testing.T) {
	a, _, _ := newTestCompute(computetest.NewBackend(), 0)

	spec, err := a.ResolveLaunchSpec(context.Background(), ResolveLaunchSpecParams{Flavor: "tiny", Image: model.DefaultImage})
	require.NoError(t, err)
	assert.Equal(t, "flavor-tiny", spec.FlavorID)
	assert.Equal(t, "image-ubuntu", spec.ImageID)

	_, err = a.ResolveLaunchSpec(context.Background(), ResolveLaunchSpecParams{Flavor: "huge", Image: model.DefaultImage})
	requireNonRetryable(t, err, "NOT_FOUND")
}

func TestCreateInstance(t *testing.T) {
	b := computetest.NewBackend()
	b.AddKeypair("raftis", "ssh-ed25519 AAAA")
	a, _, _ := newTestCompute(b, 0)

	inst, err := a.CreateInstance(context.Background(), compute.CreateOpts{Name: "raftis-0-lvs", KeyName: "raftis"})
	require.NoError(t, err)
	assert.Equal(t, compute.StatusBuild, inst.Status)
	assert.Equal(t, []string{"raftis-0-lvs"}, b.Created())
}

func TestCreateInstance_Error(t *testing.T) {
	b := computetest.NewBackend()
	b.CreateErrors["raftis-0-lvs"] = errors.New("quota exceeded")
	a, _, _ := newTestCompute(b, 0)

	_, err := a.CreateInstance(context.Background(), compute.CreateOpts{Name: "raftis-0-lvs", KeyName: "raftis"})
	require.Error(t, err)
	assert.Empty(t, b.Created())
}

func TestWaitForBuild(t *testing.T) {
	b := computetest.NewBackend()
	b.Statuses["raftis-0-lvs"] = []string{compute.StatusBuild, compute.StatusActive}
	inst := b.AddInstance("raftis-0-lvs", compute.StatusBuild)
	a, clock, _ := newTestCompute(b, 0)

	built, err := a.WaitForBuild(context.Background(), WaitForBuildParams{Instance: inst})
	require.NoError(t, err)
	assert.Equal(t, compute.StatusActive, built.Status)
	assert.Equal(t, 2, b.GetCalls(inst.ID))
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, clock.Sleeps())
}

func TestWaitForBuild_Failed(t *testing.T) {
	b := computetest.NewBackend()
	b.Statuses["raftis-0-lvs"] = []string{compute.StatusError}
	inst := b.AddInstance("raftis-0-lvs", compute.StatusBuild)
	a, _, _ := newTestCompute(b, 0)

	_, err := a.WaitForBuild(context.Background(), WaitForBuildParams{Instance: inst})
	requireNonRetryable(t, err, "BUILD_FAILED")
}

func TestWaitForBuild_Timeout(t *testing.T) {
	b := computetest.NewBackend()
	b.Statuses["raftis-0-lvs"] = []string{compute.StatusBuild}
	inst := b.AddInstance("raftis-0-lvs", compute.StatusBuild)
	a, _, _ := newTestCompute(b, 0)

	_, err := a.WaitForBuild(context.Background(), WaitForBuildParams{Instance: inst, Timeout: 20 * time.Second})
	requireNonRetryable(t, err, "PROVISION_TIMEOUT")
}

func TestWaitForDNS(t *testing.T) {
	a, _, resolver := newTestCompute(computetest.NewBackend(), 2)

	addrs, err := a.WaitForDNS(context.Background(), WaitForDNSParams{Name: "raftis-0-lvs", FQDN: "raftis-0-lvs.example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1"}, addrs)
	assert.Equal(t, 3, resolver.Calls("raftis-0-lvs.example.com"))
}

func TestWaitForDNS_NoFQDN(t *testing.T) {
	a, _, _ := newTestCompute(computetest.NewBackend(), 0)

	_, err := a.WaitForDNS(context.Background(), WaitForDNSParams{Name: "raftis-0-lvs"})
	requireNonRetryable(t, err, "NO_FQDN")
}

func TestWaitForDNS_InActivityEnvironment(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	a, _, _ := newTestCompute(computetest.NewBackend(), 1)
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.WaitForDNS, WaitForDNSParams{Name: "raftis-0-lvs", FQDN: "raftis-0-lvs.example.com"})
	require.NoError(t, err)
	var addrs []string
	require.NoError(t, val.Get(&addrs))
	assert.Equal(t, []string{"10.0.0.1"}, addrs)
}
