package compute

import (
	"context"
	"fmt"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/keypairs"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/images"
)

// OpenStackOptions holds the credentials for an OpenStack project.
type OpenStackOptions struct {
	AuthURL    string
	Username   string
	Password   string
	TenantName string
	Region     string
}

// OpenStack implements Backend on top of Nova and Glance.
type OpenStack struct {
	compute *gophercloud.ServiceClient
	image   *gophercloud.ServiceClient
}

// NewOpenStack authenticates once and returns a backend reusing the token
// for every call.
func NewOpenStack(ctx context.Context, opts OpenStackOptions) (*OpenStack, error) {
	provider, err := openstack.AuthenticatedClient(ctx, gophercloud.AuthOptions{
		IdentityEndpoint: opts.AuthURL,
		Username:         opts.Username,
		Password:         opts.Password,
		TenantName:       opts.TenantName,
		AllowReauth:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("authenticate against %s: %w", opts.AuthURL, err)
	}

	eo := gophercloud.EndpointOpts{Region: opts.Region}
	computeClient, err := openstack.NewComputeV2(provider, eo)
	if err != nil {
		return nil, fmt.Errorf("compute client: %w", err)
	}
	imageClient, err := openstack.NewImageV2(provider, eo)
	if err != nil {
		return nil, fmt.Errorf("image client: %w", err)
	}

	return &OpenStack{compute: computeClient, image: imageClient}, nil
}

func (o *OpenStack) ListInstances(ctx context.Context) ([]Instance, error) {
	pages, err := servers.List(o.compute, servers.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	all, err := servers.ExtractServers(pages)
	if err != nil {
		return nil, fmt.Errorf("parse servers: %w", err)
	}
	instances := make([]Instance, len(all))
	for i := range all {
		instances[i] = fromServer(&all[i])
	}
	return instances, nil
}

func (o *OpenStack) GetInstance(ctx context.Context, id string) (*Instance, error) {
	s, err := servers.Get(ctx, o.compute, id).Extract()
	if err != nil {
		if gophercloud.ResponseCodeIs(err, 404) {
			return nil, fmt.Errorf("server %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get server %s: %w", id, err)
	}
	inst := fromServer(s)
	return &inst, nil
}

func (o *OpenStack) CreateInstance(ctx context.Context, opts CreateOpts) (*Instance, error) {
	createOpts := keypairs.CreateOptsExt{
		CreateOptsBuilder: servers.CreateOpts{
			Name:      opts.Name,
			FlavorRef: opts.FlavorID,
			ImageRef:  opts.ImageID,
		},
		KeyName: opts.KeyName,
	}
	s, err := servers.Create(ctx, o.compute, createOpts, nil).Extract()
	if err != nil {
		return nil, fmt.Errorf("create server %s: %w", opts.Name, err)
	}
	inst := fromServer(s)
	if inst.Name == "" {
		inst.Name = opts.Name
	}
	if inst.Status == "" {
		inst.Status = StatusBuild
	}
	return &inst, nil
}

func (o *OpenStack) HasKeypair(ctx context.Context, name string) (bool, error) {
	pages, err := keypairs.List(o.compute, keypairs.ListOpts{}).AllPages(ctx)
	if err != nil {
		return false, fmt.Errorf("list keypairs: %w", err)
	}
	kps, err := keypairs.ExtractKeyPairs(pages)
	if err != nil {
		return false, fmt.Errorf("parse keypairs: %w", err)
	}
	for _, kp := range kps {
		if kp.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (o *OpenStack) CreateKeypair(ctx context.Context, name, publicKey string) error {
	_, err := keypairs.Create(ctx, o.compute, keypairs.CreateOpts{
		Name:      name,
		PublicKey: publicKey,
	}).Extract()
	if err != nil {
		return fmt.Errorf("create keypair %s: %w", name, err)
	}
	return nil
}

func (o *OpenStack) FindFlavor(ctx context.Context, name string) (string, error) {
	pages, err := flavors.ListDetail(o.compute, flavors.ListOpts{}).AllPages(ctx)
	if err != nil {
		return "", fmt.Errorf("list flavors: %w", err)
	}
	all, err := flavors.ExtractFlavors(pages)
	if err != nil {
		return "", fmt.Errorf("parse flavors: %w", err)
	}
	for _, f := range all {
		if f.Name == name {
			return f.ID, nil
		}
	}
	return "", fmt.Errorf("flavor %q: %w", name, ErrNotFound)
}

func (o *OpenStack) FindImage(ctx context.Context, name string) (string, error) {
	pages, err := images.List(o.image, images.ListOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return "", fmt.Errorf("list images: %w", err)
	}
	all, err := images.ExtractImages(pages)
	if err != nil {
		return "", fmt.Errorf("parse images: %w", err)
	}
	for _, img := range all {
		if img.Name == name {
			return img.ID, nil
		}
	}
	return "", fmt.Errorf("image %q: %w", name, ErrNotFound)
}

func fromServer(s *servers.Server) Instance {
	return Instance{
		ID:     s.ID,
		Name:   s.Name,
		FQDN:   s.Metadata[MetadataFQDN],
		Status: s.Status,
	}
}
