package workflow

import (
	"context"

	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/raftisctl/internal/activity"
	"github.com/edvin/raftisctl/internal/compute"
	"github.com/edvin/raftisctl/internal/model"
	"github.com/edvin/raftisctl/internal/provision"
)

// registerActivities registers activity structs with the test workflow
// environment so that parameter and return types can be deserialized
// correctly. All activities are mocked via OnActivity.
func registerActivities(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivity(&activity.Compute{})
	env.RegisterActivity(&activity.Topology{})
}

func testPlan(shards int, dcs []string, existing ...string) *provision.Plan {
	req := model.ProvisionRequest{ShardCount: shards, Datacenters: dcs}.WithDefaults()
	p := &provision.Plan{Request: req, Expected: req.ExpectedNames()}
	have := map[string]bool{}
	for _, name := range existing {
		have[name] = true
	}
	for _, name := range p.Expected {
		if have[name] {
			p.Existing = append(p.Existing, name)
			p.Instances = append(p.Instances, compute.Instance{
				ID:     "id-" + name,
				Name:   name,
				FQDN:   name + ".dev.example.com",
				Status: compute.StatusActive,
			})
		} else {
			p.Missing = append(p.Missing, name)
		}
	}
	return p
}

func createOK(_ context.Context, opts compute.CreateOpts) (*compute.Instance, error) {
	return &compute.Instance{
		ID:     "id-" + opts.Name,
		Name:   opts.Name,
		FQDN:   opts.Name + ".dev.example.com",
		Status: compute.StatusBuild,
	}, nil
}

func buildOK(_ context.Context, params activity.WaitForBuildParams) (*compute.Instance, error) {
	inst := params.Instance
	inst.Status = compute.StatusActive
	return &inst, nil
}
