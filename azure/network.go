package azure

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v7"
)

type networkClient struct {
	vnets         *armnetwork.VirtualNetworksClient
	subnets       *armnetwork.SubnetsClient
	publicIPs     *armnetwork.PublicIPAddressesClient
	interfaces    *armnetwork.InterfacesClient
	securityGroup *armnetwork.SecurityGroupsClient
	loadBalancers *armnetwork.LoadBalancersClient
}

func newNetworkClient(f *armnetwork.ClientFactory) *networkClient {
	return &networkClient{
		vnets:         f.NewVirtualNetworksClient(),
		subnets:       f.NewSubnetsClient(),
		publicIPs:     f.NewPublicIPAddressesClient(),
		interfaces:    f.NewInterfacesClient(),
		securityGroup: f.NewSecurityGroupsClient(),
		loadBalancers: f.NewLoadBalancersClient(),
	}
}

func (c *networkClient) GetVirtualNetwork(ctx context.Context, resourceGroup, name string) (armnetwork.VirtualNetwork, error) {
	resp, err := c.vnets.Get(ctx, resourceGroup, name, nil)
	if err != nil {
		return armnetwork.VirtualNetwork{}, err
	}
	return resp.VirtualNetwork, nil
}

func (c *networkClient) CreateVirtualNetwork(ctx context.Context, resourceGroup, name string, vnet armnetwork.VirtualNetwork) (armnetwork.VirtualNetwork, error) {
	poller, err := c.vnets.BeginCreateOrUpdate(ctx, resourceGroup, name, vnet, nil)
	if err != nil {
		return armnetwork.VirtualNetwork{}, err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return armnetwork.VirtualNetwork{}, err
	}
	return resp.VirtualNetwork, nil
}

func (c *networkClient) DeleteVirtualNetwork(ctx context.Context, resourceGroup, name string) error {
	poller, err := c.vnets.BeginDelete(ctx, resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *networkClient) CreateSubnet(ctx context.Context, resourceGroup, vnet, name string, subnet armnetwork.Subnet) (armnetwork.Subnet, error) {
	poller, err := c.subnets.BeginCreateOrUpdate(ctx, resourceGroup, vnet, name, subnet, nil)
	if err != nil {
		return armnetwork.Subnet{}, err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return armnetwork.Subnet{}, err
	}
	return resp.Subnet, nil
}

func (c *networkClient) CreatePublicIP(ctx context.Context, resourceGroup, name string, ip armnetwork.PublicIPAddress) (armnetwork.PublicIPAddress, error) {
	poller, err := c.publicIPs.BeginCreateOrUpdate(ctx, resourceGroup, name, ip, nil)
	if err != nil {
		return armnetwork.PublicIPAddress{}, err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return armnetwork.PublicIPAddress{}, err
	}
	return resp.PublicIPAddress, nil
}

func (c *networkClient) GetPublicIP(ctx context.Context, resourceGroup, name string) (armnetwork.PublicIPAddress, error) {
	resp, err := c.publicIPs.Get(ctx, resourceGroup, name, nil)
	if err != nil {
		return armnetwork.PublicIPAddress{}, err
	}
	return resp.PublicIPAddress, nil
}

func (c *networkClient) DeletePublicIP(ctx context.Context, resourceGroup, name string) error {
	poller, err := c.publicIPs.BeginDelete(ctx, resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *networkClient) CreateInterface(ctx context.Context, resourceGroup, name string, nic armnetwork.Interface) (armnetwork.Interface, error) {
	poller, err := c.interfaces.BeginCreateOrUpdate(ctx, resourceGroup, name, nic, nil)
	if err != nil {
		return armnetwork.Interface{}, err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return armnetwork.Interface{}, err
	}
	return resp.Interface, nil
}

func (c *networkClient) GetInterface(ctx context.Context, resourceGroup, name string) (armnetwork.Interface, error) {
	resp, err := c.interfaces.Get(ctx, resourceGroup, name, nil)
	if err != nil {
		return armnetwork.Interface{}, err
	}
	return resp.Interface, nil
}

func (c *networkClient) DeleteInterface(ctx context.Context, resourceGroup, name string) error {
	poller, err := c.interfaces.BeginDelete(ctx, resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *networkClient) DeleteSecurityGroup(ctx context.Context, resourceGroup, name string) error {
	poller, err := c.securityGroup.BeginDelete(ctx, resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *networkClient) CreateLoadBalancer(ctx context.Context, resourceGroup, name string, lb armnetwork.LoadBalancer) (armnetwork.LoadBalancer, error) {
	poller, err := c.loadBalancers.BeginCreateOrUpdate(ctx, resourceGroup, name, lb, nil)
	if err != nil {
		return armnetwork.LoadBalancer{}, err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return armnetwork.LoadBalancer{}, err
	}
	return resp.LoadBalancer, nil
}
