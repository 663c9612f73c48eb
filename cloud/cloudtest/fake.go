// Package cloudtest provides an in-memory implementation of the cloud
// interfaces that records every call.
package cloudtest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v6"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v7"

	"github.com/cqnkjsx/htcondor/cloud"
)

const (
	SubscriptionID = "00000000-0000-0000-0000-00000000c10d"
	PublicIP       = "203.0.113.10"
)

// Grant records a key-vault access policy.
type Grant struct {
	ResourceGroup string
	Vault         string
	TenantID      string
	PrincipalID   string
}

// Fake implements every cloud interface in memory. Resource maps are keyed
// by Key(resourceGroup, name). Tests may seed the maps before use and read
// them after the operation under test returns.
type Fake struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error

	Groups        map[string]string
	VMs           map[string]armcompute.VirtualMachine
	Images        map[string]armcompute.Image
	ScaleSets     map[string]armcompute.VirtualMachineScaleSet
	Extensions    map[string]armcompute.VirtualMachineScaleSetExtension
	VNets         map[string]armnetwork.VirtualNetwork
	PublicIPs     map[string]armnetwork.PublicIPAddress
	Interfaces    map[string]armnetwork.Interface
	LoadBalancers map[string]armnetwork.LoadBalancer
	Collections   map[string]cloud.JobCollection
	Jobs          map[string]cloud.Job

	// InstanceStatuses maps scale-set instance ids to status codes.
	InstanceStatuses map[string][]string
	// StatusFunc, when set, replaces InstanceStatuses lookups.
	StatusFunc func(instanceID string) []string

	Providers        []string
	Grants           []Grant
	Runs             []string
	UpdatedInstances []string
	DeletedGroups    []string
	DeletedDisks     []string
	DeletedNSGs      []string
	DeletedVNets     []string
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		errs:             make(map[string]error),
		Groups:           make(map[string]string),
		VMs:              make(map[string]armcompute.VirtualMachine),
		Images:           make(map[string]armcompute.Image),
		ScaleSets:        make(map[string]armcompute.VirtualMachineScaleSet),
		Extensions:       make(map[string]armcompute.VirtualMachineScaleSetExtension),
		VNets:            make(map[string]armnetwork.VirtualNetwork),
		PublicIPs:        make(map[string]armnetwork.PublicIPAddress),
		Interfaces:       make(map[string]armnetwork.Interface),
		LoadBalancers:    make(map[string]armnetwork.LoadBalancer),
		Collections:      make(map[string]cloud.JobCollection),
		Jobs:             make(map[string]cloud.Job),
		InstanceStatuses: make(map[string][]string),
	}
}

// Clients exposes f through every interface.
func (f *Fake) Clients() cloud.Clients {
	return cloud.Clients{Compute: f, Network: f, Resources: f, Vaults: f, Scheduler: f}
}

// Key builds a resource map key.
func Key(resourceGroup, name string) string { return resourceGroup + "/" + name }

// ID builds an ARM resource id.
func ID(resourceGroup, provider, kind, name string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/%s/%s/%s", SubscriptionID, resourceGroup, provider, kind, name)
}

// SubnetID builds the ARM id of a subnet.
func SubnetID(resourceGroup, vnet, name string) string {
	return ID(resourceGroup, "Microsoft.Network", "virtualNetworks", vnet) + "/subnets/" + name
}

// NotFound is the error the fake returns for missing resources.
func NotFound(kind, name string) error {
	req, _ := http.NewRequest(http.MethodGet, "https://management.azure.com/"+kind+"/"+name, nil)
	resp := &http.Response{
		Status:     "404 Not Found",
		StatusCode: http.StatusNotFound,
		Header:     http.Header{},
		Body:       http.NoBody,
		Request:    req,
	}
	return fmt.Errorf("%s %s: %w", kind, name, &azcore.ResponseError{
		StatusCode:  http.StatusNotFound,
		ErrorCode:   "ResourceNotFound",
		RawResponse: resp,
	})
}

// FailOn makes every later call to method return err.
func (f *Fake) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = err
}

// Calls returns the method names invoked so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount returns how often method was invoked.
func (f *Fake) CallCount(method string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == method {
			n++
		}
	}
	return n
}

// record must be called with f.mu held.
func (f *Fake) record(method string) error {
	f.calls = append(f.calls, method)
	return f.errs[method]
}

// Compute

func (f *Fake) CreateOrUpdateVM(_ context.Context, resourceGroup, name string, vm armcompute.VirtualMachine) (armcompute.VirtualMachine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateOrUpdateVM"); err != nil {
		return armcompute.VirtualMachine{}, err
	}
	vm.ID = to.Ptr(ID(resourceGroup, "Microsoft.Compute", "virtualMachines", name))
	vm.Name = to.Ptr(name)
	if vm.Properties == nil {
		vm.Properties = &armcompute.VirtualMachineProperties{}
	}
	if vm.Properties.VMID == nil {
		vm.Properties.VMID = to.Ptr("vmid-" + name)
	}
	f.VMs[Key(resourceGroup, name)] = vm
	return vm, nil
}

func (f *Fake) GetVM(_ context.Context, resourceGroup, name string, _ bool) (armcompute.VirtualMachine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetVM"); err != nil {
		return armcompute.VirtualMachine{}, err
	}
	vm, ok := f.VMs[Key(resourceGroup, name)]
	if !ok {
		return armcompute.VirtualMachine{}, NotFound("vm", name)
	}
	return vm, nil
}

func (f *Fake) ListVMs(_ context.Context, resourceGroup string) ([]*armcompute.VirtualMachine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListVMs"); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(f.VMs))
	for k := range f.VMs {
		if resourceGroup == "" || strings.HasPrefix(k, resourceGroup+"/") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vms := make([]*armcompute.VirtualMachine, 0, len(keys))
	for _, k := range keys {
		vm := f.VMs[k]
		vms = append(vms, &vm)
	}
	return vms, nil
}

func (f *Fake) DeleteVM(_ context.Context, resourceGroup, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteVM"); err != nil {
		return err
	}
	if _, ok := f.VMs[Key(resourceGroup, name)]; !ok {
		return NotFound("vm", name)
	}
	delete(f.VMs, Key(resourceGroup, name))
	return nil
}

func (f *Fake) DeleteDisk(_ context.Context, resourceGroup, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteDisk"); err != nil {
		return err
	}
	f.DeletedDisks = append(f.DeletedDisks, Key(resourceGroup, name))
	return nil
}

func (f *Fake) CreateImage(_ context.Context, resourceGroup, name string, image armcompute.Image) (armcompute.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateImage"); err != nil {
		return armcompute.Image{}, err
	}
	image.ID = to.Ptr(ID(resourceGroup, "Microsoft.Compute", "images", name))
	image.Name = to.Ptr(name)
	f.Images[Key(resourceGroup, name)] = image
	return image, nil
}

func (f *Fake) DeleteImage(_ context.Context, resourceGroup, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteImage"); err != nil {
		return err
	}
	delete(f.Images, Key(resourceGroup, name))
	return nil
}

func (f *Fake) CreateOrUpdateScaleSet(_ context.Context, resourceGroup, name string, vmss armcompute.VirtualMachineScaleSet) (armcompute.VirtualMachineScaleSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateOrUpdateScaleSet"); err != nil {
		return armcompute.VirtualMachineScaleSet{}, err
	}
	vmss.ID = to.Ptr(ID(resourceGroup, "Microsoft.Compute", "virtualMachineScaleSets", name))
	vmss.Name = to.Ptr(name)
	if vmss.Identity != nil && vmss.Identity.PrincipalID == nil {
		vmss.Identity.PrincipalID = to.Ptr("principal-" + name)
	}
	f.ScaleSets[Key(resourceGroup, name)] = vmss
	return vmss, nil
}

func (f *Fake) GetScaleSet(_ context.Context, resourceGroup, name string) (armcompute.VirtualMachineScaleSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetScaleSet"); err != nil {
		return armcompute.VirtualMachineScaleSet{}, err
	}
	vmss, ok := f.ScaleSets[Key(resourceGroup, name)]
	if !ok {
		return armcompute.VirtualMachineScaleSet{}, NotFound("scale set", name)
	}
	return vmss, nil
}

func (f *Fake) DeleteScaleSet(_ context.Context, resourceGroup, name string) error {
	return f.scaleSetAction("DeleteScaleSet", resourceGroup, name, true)
}

func (f *Fake) StartScaleSet(_ context.Context, resourceGroup, name string) error {
	return f.scaleSetAction("StartScaleSet", resourceGroup, name, false)
}

func (f *Fake) DeallocateScaleSet(_ context.Context, resourceGroup, name string) error {
	return f.scaleSetAction("DeallocateScaleSet", resourceGroup, name, false)
}

func (f *Fake) RestartScaleSet(_ context.Context, resourceGroup, name string) error {
	return f.scaleSetAction("RestartScaleSet", resourceGroup, name, false)
}

func (f *Fake) scaleSetAction(method, resourceGroup, name string, remove bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(method); err != nil {
		return err
	}
	if _, ok := f.ScaleSets[Key(resourceGroup, name)]; !ok {
		return NotFound("scale set", name)
	}
	if remove {
		delete(f.ScaleSets, Key(resourceGroup, name))
	}
	return nil
}

func (f *Fake) ListScaleSetInstanceIDs(_ context.Context, _, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListScaleSetInstanceIDs"); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(f.InstanceStatuses))
	for id := range f.InstanceStatuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *Fake) ScaleSetInstanceStatuses(_ context.Context, _, _, instanceID string) ([]string, error) {
	f.mu.Lock()
	if err := f.record("ScaleSetInstanceStatuses"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	fn := f.StatusFunc
	codes := f.InstanceStatuses[instanceID]
	f.mu.Unlock()
	if fn != nil {
		return fn(instanceID), nil
	}
	return codes, nil
}

func (f *Fake) CreateOrUpdateScaleSetExtension(_ context.Context, resourceGroup, scaleSet, name string, ext armcompute.VirtualMachineScaleSetExtension) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateOrUpdateScaleSetExtension"); err != nil {
		return err
	}
	f.Extensions[Key(resourceGroup, scaleSet+"/"+name)] = ext
	return nil
}

func (f *Fake) UpdateScaleSetInstances(_ context.Context, _, _ string, instanceIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateScaleSetInstances"); err != nil {
		return err
	}
	f.UpdatedInstances = append(f.UpdatedInstances, instanceIDs...)
	return nil
}

// Network

func (f *Fake) GetVirtualNetwork(_ context.Context, resourceGroup, name string) (armnetwork.VirtualNetwork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetVirtualNetwork"); err != nil {
		return armnetwork.VirtualNetwork{}, err
	}
	vnet, ok := f.VNets[Key(resourceGroup, name)]
	if !ok {
		return armnetwork.VirtualNetwork{}, NotFound("vnet", name)
	}
	return vnet, nil
}

func (f *Fake) CreateVirtualNetwork(_ context.Context, resourceGroup, name string, vnet armnetwork.VirtualNetwork) (armnetwork.VirtualNetwork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateVirtualNetwork"); err != nil {
		return armnetwork.VirtualNetwork{}, err
	}
	vnet.ID = to.Ptr(ID(resourceGroup, "Microsoft.Network", "virtualNetworks", name))
	vnet.Name = to.Ptr(name)
	f.VNets[Key(resourceGroup, name)] = vnet
	return vnet, nil
}

func (f *Fake) DeleteVirtualNetwork(_ context.Context, resourceGroup, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteVirtualNetwork"); err != nil {
		return err
	}
	delete(f.VNets, Key(resourceGroup, name))
	f.DeletedVNets = append(f.DeletedVNets, Key(resourceGroup, name))
	return nil
}

func (f *Fake) CreateSubnet(_ context.Context, resourceGroup, vnetName, name string, subnet armnetwork.Subnet) (armnetwork.Subnet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateSubnet"); err != nil {
		return armnetwork.Subnet{}, err
	}
	vnet, ok := f.VNets[Key(resourceGroup, vnetName)]
	if !ok {
		return armnetwork.Subnet{}, NotFound("vnet", vnetName)
	}
	subnet.ID = to.Ptr(SubnetID(resourceGroup, vnetName, name))
	subnet.Name = to.Ptr(name)
	if vnet.Properties == nil {
		vnet.Properties = &armnetwork.VirtualNetworkPropertiesFormat{}
	}
	s := subnet
	vnet.Properties.Subnets = append(vnet.Properties.Subnets, &s)
	f.VNets[Key(resourceGroup, vnetName)] = vnet
	return subnet, nil
}

func (f *Fake) CreatePublicIP(_ context.Context, resourceGroup, name string, ip armnetwork.PublicIPAddress) (armnetwork.PublicIPAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreatePublicIP"); err != nil {
		return armnetwork.PublicIPAddress{}, err
	}
	ip.ID = to.Ptr(ID(resourceGroup, "Microsoft.Network", "publicIPAddresses", name))
	ip.Name = to.Ptr(name)
	if ip.Properties == nil {
		ip.Properties = &armnetwork.PublicIPAddressPropertiesFormat{}
	}
	ip.Properties.IPAddress = to.Ptr(PublicIP)
	f.PublicIPs[Key(resourceGroup, name)] = ip
	return ip, nil
}

func (f *Fake) GetPublicIP(_ context.Context, resourceGroup, name string) (armnetwork.PublicIPAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetPublicIP"); err != nil {
		return armnetwork.PublicIPAddress{}, err
	}
	ip, ok := f.PublicIPs[Key(resourceGroup, name)]
	if !ok {
		return armnetwork.PublicIPAddress{}, NotFound("public ip", name)
	}
	return ip, nil
}

func (f *Fake) DeletePublicIP(_ context.Context, resourceGroup, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeletePublicIP"); err != nil {
		return err
	}
	delete(f.PublicIPs, Key(resourceGroup, name))
	return nil
}

func (f *Fake) CreateInterface(_ context.Context, resourceGroup, name string, nic armnetwork.Interface) (armnetwork.Interface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateInterface"); err != nil {
		return armnetwork.Interface{}, err
	}
	nic.ID = to.Ptr(ID(resourceGroup, "Microsoft.Network", "networkInterfaces", name))
	nic.Name = to.Ptr(name)
	f.Interfaces[Key(resourceGroup, name)] = nic
	return nic, nil
}

func (f *Fake) GetInterface(_ context.Context, resourceGroup, name string) (armnetwork.Interface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetInterface"); err != nil {
		return armnetwork.Interface{}, err
	}
	nic, ok := f.Interfaces[Key(resourceGroup, name)]
	if !ok {
		return armnetwork.Interface{}, NotFound("nic", name)
	}
	return nic, nil
}

func (f *Fake) DeleteInterface(_ context.Context, resourceGroup, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteInterface"); err != nil {
		return err
	}
	delete(f.Interfaces, Key(resourceGroup, name))
	return nil
}

func (f *Fake) DeleteSecurityGroup(_ context.Context, resourceGroup, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteSecurityGroup"); err != nil {
		return err
	}
	f.DeletedNSGs = append(f.DeletedNSGs, Key(resourceGroup, name))
	return nil
}

func (f *Fake) CreateLoadBalancer(_ context.Context, resourceGroup, name string, lb armnetwork.LoadBalancer) (armnetwork.LoadBalancer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateLoadBalancer"); err != nil {
		return armnetwork.LoadBalancer{}, err
	}
	id := ID(resourceGroup, "Microsoft.Network", "loadBalancers", name)
	lb.ID = to.Ptr(id)
	lb.Name = to.Ptr(name)
	if lb.Properties != nil {
		for _, pool := range lb.Properties.BackendAddressPools {
			pool.ID = to.Ptr(id + "/backendAddressPools/" + *pool.Name)
		}
		for _, pool := range lb.Properties.InboundNatPools {
			pool.ID = to.Ptr(id + "/inboundNatPools/" + *pool.Name)
		}
	}
	f.LoadBalancers[Key(resourceGroup, name)] = lb
	return lb, nil
}

// Resources

func (f *Fake) CreateResourceGroup(_ context.Context, name, location string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateResourceGroup"); err != nil {
		return err
	}
	f.Groups[name] = location
	return nil
}

func (f *Fake) DeleteResourceGroup(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteResourceGroup"); err != nil {
		return err
	}
	delete(f.Groups, name)
	f.DeletedGroups = append(f.DeletedGroups, name)
	return nil
}

func (f *Fake) RegisterProvider(_ context.Context, namespace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RegisterProvider"); err != nil {
		return err
	}
	f.Providers = append(f.Providers, namespace)
	return nil
}

// Vaults

func (f *Fake) GrantAccess(_ context.Context, resourceGroup, vault, tenantID, principalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GrantAccess"); err != nil {
		return err
	}
	f.Grants = append(f.Grants, Grant{ResourceGroup: resourceGroup, Vault: vault, TenantID: tenantID, PrincipalID: principalID})
	return nil
}

// Scheduler

func (f *Fake) CreateJobCollection(_ context.Context, resourceGroup, name string, collection cloud.JobCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateJobCollection"); err != nil {
		return err
	}
	f.Collections[Key(resourceGroup, name)] = collection
	return nil
}

func (f *Fake) CreateJob(_ context.Context, resourceGroup, collection, name string, job cloud.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateJob"); err != nil {
		return err
	}
	f.Jobs[Key(resourceGroup, collection+"/"+name)] = job
	return nil
}

func (f *Fake) RunJob(_ context.Context, resourceGroup, collection, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RunJob"); err != nil {
		return err
	}
	f.Runs = append(f.Runs, Key(resourceGroup, collection+"/"+name))
	return nil
}
