// Package cloud defines the boundary between the orchestration core and the
// Azure management plane. Every method blocks until the platform reports the
// operation complete; long-running operations are polled by the
// implementation.
package cloud

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v6"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v7"
)

// Compute covers virtual machines, scale sets, images and disks.
type Compute interface {
	CreateOrUpdateVM(ctx context.Context, resourceGroup, name string, vm armcompute.VirtualMachine) (armcompute.VirtualMachine, error)
	GetVM(ctx context.Context, resourceGroup, name string, instanceView bool) (armcompute.VirtualMachine, error)
	// ListVMs lists the VMs of one resource group, or of the whole
	// subscription when resourceGroup is empty.
	ListVMs(ctx context.Context, resourceGroup string) ([]*armcompute.VirtualMachine, error)
	DeleteVM(ctx context.Context, resourceGroup, name string) error
	DeleteDisk(ctx context.Context, resourceGroup, name string) error

	CreateImage(ctx context.Context, resourceGroup, name string, image armcompute.Image) (armcompute.Image, error)
	DeleteImage(ctx context.Context, resourceGroup, name string) error

	CreateOrUpdateScaleSet(ctx context.Context, resourceGroup, name string, vmss armcompute.VirtualMachineScaleSet) (armcompute.VirtualMachineScaleSet, error)
	GetScaleSet(ctx context.Context, resourceGroup, name string) (armcompute.VirtualMachineScaleSet, error)
	DeleteScaleSet(ctx context.Context, resourceGroup, name string) error
	StartScaleSet(ctx context.Context, resourceGroup, name string) error
	DeallocateScaleSet(ctx context.Context, resourceGroup, name string) error
	RestartScaleSet(ctx context.Context, resourceGroup, name string) error
	ListScaleSetInstanceIDs(ctx context.Context, resourceGroup, name string) ([]string, error)
	// ScaleSetInstanceStatuses returns the instance-view status codes of
	// one scale-set instance.
	ScaleSetInstanceStatuses(ctx context.Context, resourceGroup, name, instanceID string) ([]string, error)
	CreateOrUpdateScaleSetExtension(ctx context.Context, resourceGroup, scaleSet, name string, ext armcompute.VirtualMachineScaleSetExtension) error
	UpdateScaleSetInstances(ctx context.Context, resourceGroup, name string, instanceIDs []string) error
}

// Network covers virtual networks and the per-VM network stack.
type Network interface {
	GetVirtualNetwork(ctx context.Context, resourceGroup, name string) (armnetwork.VirtualNetwork, error)
	CreateVirtualNetwork(ctx context.Context, resourceGroup, name string, vnet armnetwork.VirtualNetwork) (armnetwork.VirtualNetwork, error)
	DeleteVirtualNetwork(ctx context.Context, resourceGroup, name string) error
	CreateSubnet(ctx context.Context, resourceGroup, vnet, name string, subnet armnetwork.Subnet) (armnetwork.Subnet, error)

	CreatePublicIP(ctx context.Context, resourceGroup, name string, ip armnetwork.PublicIPAddress) (armnetwork.PublicIPAddress, error)
	GetPublicIP(ctx context.Context, resourceGroup, name string) (armnetwork.PublicIPAddress, error)
	DeletePublicIP(ctx context.Context, resourceGroup, name string) error

	CreateInterface(ctx context.Context, resourceGroup, name string, nic armnetwork.Interface) (armnetwork.Interface, error)
	GetInterface(ctx context.Context, resourceGroup, name string) (armnetwork.Interface, error)
	DeleteInterface(ctx context.Context, resourceGroup, name string) error
	DeleteSecurityGroup(ctx context.Context, resourceGroup, name string) error

	CreateLoadBalancer(ctx context.Context, resourceGroup, name string, lb armnetwork.LoadBalancer) (armnetwork.LoadBalancer, error)
}

// Resources covers resource groups and provider registration.
type Resources interface {
	CreateResourceGroup(ctx context.Context, name, location string) error
	DeleteResourceGroup(ctx context.Context, name string) error
	RegisterProvider(ctx context.Context, namespace string) error
}

// Vaults grants key-vault access to a principal.
type Vaults interface {
	// GrantAccess adds an access policy giving principalID all key, secret
	// and certificate permissions on the vault.
	GrantAccess(ctx context.Context, resourceGroup, vault, tenantID, principalID string) error
}

// Scheduler manages job collections and jobs.
type Scheduler interface {
	CreateJobCollection(ctx context.Context, resourceGroup, name string, collection JobCollection) error
	CreateJob(ctx context.Context, resourceGroup, collection, name string, job Job) error
	RunJob(ctx context.Context, resourceGroup, collection, name string) error
}

// Clients bundles one credential set's view of the management plane.
type Clients struct {
	Compute   Compute
	Network   Network
	Resources Resources
	Vaults    Vaults
	Scheduler Scheduler
}

// Ref identifies a cloud-managed object.
type Ref struct {
	SubscriptionID string
	ResourceGroup  string
	Name           string
	// Parent is the name of the enclosing resource, e.g. the virtual
	// network of a subnet.
	Parent string
}

// ParseRef splits an ARM resource ID.
func ParseRef(id string) (Ref, error) {
	rid, err := arm.ParseResourceID(id)
	if err != nil {
		return Ref{}, err
	}
	ref := Ref{
		SubscriptionID: rid.SubscriptionID,
		ResourceGroup:  rid.ResourceGroupName,
		Name:           rid.Name,
	}
	if p := rid.Parent; p != nil && !strings.EqualFold(p.ResourceType.String(), arm.ResourceGroupResourceType.String()) &&
		!strings.EqualFold(p.ResourceType.String(), arm.SubscriptionResourceType.String()) {
		ref.Parent = p.Name
	}
	return ref, nil
}

// IsNotFound reports whether err is a 404 from the management plane.
func IsNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}
