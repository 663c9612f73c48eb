package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v7"

	"github.com/cqnkjsx/htcondor/cloud"
)

// existingSubnet picks a subnet of an existing virtual network. A named
// subnet must exist; otherwise the first subnet is used. A network with no
// subnets yields a nil subnet and the network itself.
func (o *Orchestrator) existingSubnet(ctx context.Context, resourceGroup, vnetName, subnetName string) (*armnetwork.Subnet, armnetwork.VirtualNetwork, error) {
	vnet, err := o.cloud.Network.GetVirtualNetwork(ctx, resourceGroup, vnetName)
	if err != nil {
		return nil, vnet, fmt.Errorf("get vnet %s: %w", vnetName, err)
	}

	var subnets []*armnetwork.Subnet
	if vnet.Properties != nil {
		subnets = vnet.Properties.Subnets
	}

	if subnetName == "" {
		if len(subnets) == 0 || subnets[0] == nil {
			return nil, vnet, nil
		}
		o.logger.Info().Str("vnet", vnetName).Str("subnet", deref(subnets[0].Name)).Msg("using existing subnet")
		return subnets[0], vnet, nil
	}
	for _, s := range subnets {
		if s != nil && strings.EqualFold(deref(s.Name), subnetName) {
			o.logger.Info().Str("vnet", vnetName).Str("subnet", deref(s.Name)).Msg("using existing subnet")
			return s, vnet, nil
		}
	}
	return nil, vnet, fmt.Errorf("'%s' subnet is not found in '%s' vnet: %w", subnetName, vnetName, ErrSubnetNotFound)
}

// addSubnet creates a subnet named name spanning the first address prefix of
// vnet.
func (o *Orchestrator) addSubnet(ctx context.Context, resourceGroup string, vnet armnetwork.VirtualNetwork, vnetName, name string) (armnetwork.Subnet, error) {
	if vnet.Properties == nil || vnet.Properties.AddressSpace == nil || len(vnet.Properties.AddressSpace.AddressPrefixes) == 0 {
		return armnetwork.Subnet{}, fmt.Errorf("vnet %s has no subnets and no address space", vnetName)
	}
	prefix := deref(vnet.Properties.AddressSpace.AddressPrefixes[0])
	o.logger.Info().Str("vnet", vnetName).Str("subnet", name).Str("prefix", prefix).Msg("creating subnet")
	subnet, err := o.cloud.Network.CreateSubnet(ctx, resourceGroup, vnetName, name, subnetParameters(prefix))
	if err != nil {
		return armnetwork.Subnet{}, fmt.Errorf("create subnet %s: %w", name, err)
	}
	return subnet, nil
}

// createNetwork creates a fresh virtual network with a single subnet.
func (o *Orchestrator) createNetwork(ctx context.Context, resourceGroup, location, vnetName, subnetName string) (armnetwork.Subnet, error) {
	o.logger.Info().Str("vnet", vnetName).Msg("creating vnet")
	if _, err := o.cloud.Network.CreateVirtualNetwork(ctx, resourceGroup, vnetName, virtualNetworkParameters(location)); err != nil {
		return armnetwork.Subnet{}, fmt.Errorf("create vnet %s: %w", vnetName, err)
	}
	o.logger.Info().Str("subnet", subnetName).Msg("creating subnet")
	subnet, err := o.cloud.Network.CreateSubnet(ctx, resourceGroup, vnetName, subnetName, subnetParameters(defaultSubnetPrefix))
	if err != nil {
		return armnetwork.Subnet{}, fmt.Errorf("create subnet %s: %w", subnetName, err)
	}
	return subnet, nil
}

// createPublicIP is best-effort: a failure is logged and yields nil.
func (o *Orchestrator) createPublicIP(ctx context.Context, resourceGroup, location, name string) *armnetwork.PublicIPAddress {
	o.logger.Info().Str("public_ip", name).Msg("creating public ip")
	ip, err := o.cloud.Network.CreatePublicIP(ctx, resourceGroup, name, publicIPParameters(location))
	if err != nil {
		o.logger.Warn().Err(err).Str("public_ip", name).Msg("public ip creation failed, continuing without one")
		return nil
	}
	return &ip
}

func (o *Orchestrator) createLoadBalancer(ctx context.Context, spec ScaleSetSpec) (loadBalancerRefs, error) {
	rg := spec.ResourceGroup()
	ip, err := o.cloud.Network.CreatePublicIP(ctx, rg, spec.publicIPName(), publicIPParameters(spec.Location))
	if err != nil {
		return loadBalancerRefs{}, fmt.Errorf("create load balancer public ip: %w", err)
	}
	if ip.ID == nil {
		return loadBalancerRefs{}, errors.New("create load balancer public ip: no id returned")
	}
	ref, err := cloud.ParseRef(*ip.ID)
	if err != nil {
		return loadBalancerRefs{}, err
	}

	o.logger.Info().Str("load_balancer", spec.LoadBalancerName()).Msg("creating load balancer")
	lb, err := o.cloud.Network.CreateLoadBalancer(ctx, rg, spec.LoadBalancerName(), loadBalancerParameters(spec, ref.SubscriptionID, *ip.ID))
	if err != nil {
		return loadBalancerRefs{}, fmt.Errorf("create load balancer %s: %w", spec.LoadBalancerName(), err)
	}
	return refsFromLoadBalancer(lb)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
