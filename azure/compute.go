package azure

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v6"
)

type computeClient struct {
	vms        *armcompute.VirtualMachinesClient
	disks      *armcompute.DisksClient
	images     *armcompute.ImagesClient
	scaleSets  *armcompute.VirtualMachineScaleSetsClient
	instances  *armcompute.VirtualMachineScaleSetVMsClient
	extensions *armcompute.VirtualMachineScaleSetExtensionsClient
}

func newComputeClient(f *armcompute.ClientFactory) *computeClient {
	return &computeClient{
		vms:        f.NewVirtualMachinesClient(),
		disks:      f.NewDisksClient(),
		images:     f.NewImagesClient(),
		scaleSets:  f.NewVirtualMachineScaleSetsClient(),
		instances:  f.NewVirtualMachineScaleSetVMsClient(),
		extensions: f.NewVirtualMachineScaleSetExtensionsClient(),
	}
}

func (c *computeClient) CreateOrUpdateVM(ctx context.Context, resourceGroup, name string, vm armcompute.VirtualMachine) (armcompute.VirtualMachine, error) {
	poller, err := c.vms.BeginCreateOrUpdate(ctx, resourceGroup, name, vm, nil)
	if err != nil {
		return armcompute.VirtualMachine{}, err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return armcompute.VirtualMachine{}, err
	}
	return resp.VirtualMachine, nil
}

func (c *computeClient) GetVM(ctx context.Context, resourceGroup, name string, instanceView bool) (armcompute.VirtualMachine, error) {
	var opts *armcompute.VirtualMachinesClientGetOptions
	if instanceView {
		opts = &armcompute.VirtualMachinesClientGetOptions{Expand: to.Ptr(armcompute.InstanceViewTypesInstanceView)}
	}
	resp, err := c.vms.Get(ctx, resourceGroup, name, opts)
	if err != nil {
		return armcompute.VirtualMachine{}, err
	}
	return resp.VirtualMachine, nil
}

func (c *computeClient) ListVMs(ctx context.Context, resourceGroup string) ([]*armcompute.VirtualMachine, error) {
	var vms []*armcompute.VirtualMachine
	if resourceGroup == "" {
		pager := c.vms.NewListAllPager(nil)
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, err
			}
			vms = append(vms, page.Value...)
		}
		return vms, nil
	}

	pager := c.vms.NewListPager(resourceGroup, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		vms = append(vms, page.Value...)
	}
	return vms, nil
}

func (c *computeClient) DeleteVM(ctx context.Context, resourceGroup, name string) error {
	poller, err := c.vms.BeginDelete(ctx, resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *computeClient) DeleteDisk(ctx context.Context, resourceGroup, name string) error {
	poller, err := c.disks.BeginDelete(ctx, resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *computeClient) CreateImage(ctx context.Context, resourceGroup, name string, image armcompute.Image) (armcompute.Image, error) {
	poller, err := c.images.BeginCreateOrUpdate(ctx, resourceGroup, name, image, nil)
	if err != nil {
		return armcompute.Image{}, err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return armcompute.Image{}, err
	}
	return resp.Image, nil
}

func (c *computeClient) DeleteImage(ctx context.Context, resourceGroup, name string) error {
	poller, err := c.images.BeginDelete(ctx, resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *computeClient) CreateOrUpdateScaleSet(ctx context.Context, resourceGroup, name string, vmss armcompute.VirtualMachineScaleSet) (armcompute.VirtualMachineScaleSet, error) {
	poller, err := c.scaleSets.BeginCreateOrUpdate(ctx, resourceGroup, name, vmss, nil)
	if err != nil {
		return armcompute.VirtualMachineScaleSet{}, err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return armcompute.VirtualMachineScaleSet{}, err
	}
	return resp.VirtualMachineScaleSet, nil
}

func (c *computeClient) GetScaleSet(ctx context.Context, resourceGroup, name string) (armcompute.VirtualMachineScaleSet, error) {
	resp, err := c.scaleSets.Get(ctx, resourceGroup, name, nil)
	if err != nil {
		return armcompute.VirtualMachineScaleSet{}, err
	}
	return resp.VirtualMachineScaleSet, nil
}

func (c *computeClient) DeleteScaleSet(ctx context.Context, resourceGroup, name string) error {
	poller, err := c.scaleSets.BeginDelete(ctx, resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *computeClient) StartScaleSet(ctx context.Context, resourceGroup, name string) error {
	poller, err := c.scaleSets.BeginStart(ctx, resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *computeClient) DeallocateScaleSet(ctx context.Context, resourceGroup, name string) error {
	poller, err := c.scaleSets.BeginDeallocate(ctx, resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *computeClient) RestartScaleSet(ctx context.Context, resourceGroup, name string) error {
	poller, err := c.scaleSets.BeginRestart(ctx, resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *computeClient) ListScaleSetInstanceIDs(ctx context.Context, resourceGroup, name string) ([]string, error) {
	var ids []string
	pager := c.instances.NewListPager(resourceGroup, name, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, vm := range page.Value {
			if vm.InstanceID != nil {
				ids = append(ids, *vm.InstanceID)
			}
		}
	}
	return ids, nil
}

func (c *computeClient) ScaleSetInstanceStatuses(ctx context.Context, resourceGroup, name, instanceID string) ([]string, error) {
	resp, err := c.instances.GetInstanceView(ctx, resourceGroup, name, instanceID, nil)
	if err != nil {
		return nil, err
	}
	var codes []string
	for _, status := range resp.Statuses {
		if status != nil && status.Code != nil {
			codes = append(codes, *status.Code)
		}
	}
	return codes, nil
}

func (c *computeClient) CreateOrUpdateScaleSetExtension(ctx context.Context, resourceGroup, scaleSet, name string, ext armcompute.VirtualMachineScaleSetExtension) error {
	poller, err := c.extensions.BeginCreateOrUpdate(ctx, resourceGroup, scaleSet, name, ext, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *computeClient) UpdateScaleSetInstances(ctx context.Context, resourceGroup, name string, instanceIDs []string) error {
	ids := armcompute.VirtualMachineScaleSetVMInstanceRequiredIDs{InstanceIDs: to.SliceOfPtrs(instanceIDs...)}
	poller, err := c.scaleSets.BeginUpdateInstances(ctx, resourceGroup, name, ids, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}
