package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v6"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v7"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cqnkjsx/htcondor/cloud"
)

// VMResult identifies a created VM.
type VMResult struct {
	VMID string
	// PublicIP is empty when none was requested or allocated.
	PublicIP string
}

// CreateVM provisions a VM and its network stack in a resource group named
// after the VM.
func (o *Orchestrator) CreateVM(ctx context.Context, spec VMSpec) (VMResult, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.CreateVM")
	defer span.End()
	span.SetAttributes(attribute.String("vm.name", spec.VMName()), attribute.String("vm.location", spec.Location))

	rg := spec.ResourceGroup()
	log := o.logger.With().Str("resource_group", rg).Str("vm", spec.VMName()).Logger()

	var subnet armnetwork.Subnet
	freshNetwork := !spec.usesExistingVNet()
	if !freshNetwork {
		// Validated before anything is created so a bad subnet name costs
		// nothing.
		log.Info().Str("vnet", spec.VNetName).Msg("using existing vnet")
		found, _, err := o.existingSubnet(ctx, spec.VNetResourceGroup, spec.VNetName, spec.SubnetName)
		if err != nil {
			return VMResult{}, err
		}
		if found != nil {
			subnet = *found
		} else {
			log.Info().Str("vnet", spec.VNetName).Msg("vnet has no subnets, creating a new vnet")
			freshNetwork = true
		}
	}

	log.Info().Msg("creating resource group")
	if err := o.cloud.Resources.CreateResourceGroup(ctx, rg, spec.Location); err != nil {
		return VMResult{}, fmt.Errorf("create resource group %s: %w", rg, err)
	}

	if freshNetwork {
		var err error
		if subnet, err = o.createNetwork(ctx, rg, spec.Location, spec.vnetName(), spec.defaultSubnetName()); err != nil {
			return VMResult{}, err
		}
	}
	if subnet.ID == nil {
		return VMResult{}, errors.New("subnet has no id")
	}

	var publicIPID string
	if spec.PublicIP {
		if ip := o.createPublicIP(ctx, rg, spec.Location, spec.PublicIPName()); ip != nil && ip.ID != nil {
			publicIPID = *ip.ID
		}
	}

	log.Info().Str("nic", spec.NICName()).Msg("creating nic")
	nic, err := o.cloud.Network.CreateInterface(ctx, rg, spec.NICName(),
		interfaceParameters(spec.Location, spec.IPConfigName(), *subnet.ID, publicIPID))
	if err != nil {
		return VMResult{}, fmt.Errorf("create nic %s: %w", spec.NICName(), err)
	}
	if nic.ID == nil {
		return VMResult{}, errors.New("nic has no id")
	}

	var imageID string
	if spec.Image.IsVHD() {
		if imageID, err = o.stageImage(ctx, spec.MachineSpec); err != nil {
			return VMResult{}, err
		}
	}

	vm, err := o.createVM(ctx, spec, *nic.ID, imageID)
	if imageID != "" {
		if cleanupErr := o.removeImage(ctx, spec.MachineSpec); cleanupErr != nil {
			err = errors.Join(err, cleanupErr)
		}
	}
	if err != nil {
		return VMResult{}, err
	}

	result := VMResult{}
	if vm.Properties != nil && vm.Properties.VMID != nil {
		result.VMID = *vm.Properties.VMID
	}
	if publicIPID != "" {
		// Dynamic addresses are only allocated once the VM is running.
		ip, err := o.cloud.Network.GetPublicIP(ctx, rg, spec.PublicIPName())
		if err != nil {
			log.Warn().Err(err).Msg("public ip lookup failed")
		} else if ip.Properties != nil && ip.Properties.IPAddress != nil {
			result.PublicIP = *ip.Properties.IPAddress
		}
	}
	log.Info().Str("vm_id", result.VMID).Str("public_ip", result.PublicIP).Msg("vm created")
	return result, nil
}

func (o *Orchestrator) createVM(ctx context.Context, spec VMSpec, nicID, imageID string) (armcompute.VirtualMachine, error) {
	params, err := vmParameters(spec, nicID, imageID)
	if err != nil {
		return armcompute.VirtualMachine{}, fmt.Errorf("build vm parameters: %w", err)
	}
	o.logger.Info().Str("vm", spec.VMName()).Str("size", spec.Size).Msg("creating vm")
	vm, err := o.cloud.Compute.CreateOrUpdateVM(ctx, spec.ResourceGroup(), spec.VMName(), params)
	if err != nil {
		return armcompute.VirtualMachine{}, fmt.Errorf("create vm %s: %w", spec.VMName(), err)
	}
	return vm, nil
}

// stageImage creates a managed image from the machine's VHD blob.
func (o *Orchestrator) stageImage(ctx context.Context, m MachineSpec) (string, error) {
	name := m.imageName()
	o.logger.Info().Str("image", name).Msg("creating image from vhd")
	img, err := o.cloud.Compute.CreateImage(ctx, m.ResourceGroup(), name, imageParameters(m.Location, m.OSType, m.Image.VHD))
	if err != nil {
		return "", fmt.Errorf("create image %s: %w", name, err)
	}
	if img.ID == nil {
		return "", fmt.Errorf("create image %s: no id returned", name)
	}
	return *img.ID, nil
}

func (o *Orchestrator) removeImage(ctx context.Context, m MachineSpec) error {
	name := m.imageName()
	o.logger.Info().Str("image", name).Msg("deleting staged image")
	if err := o.cloud.Compute.DeleteImage(ctx, m.ResourceGroup(), name); err != nil {
		return fmt.Errorf("delete image %s: %w", name, err)
	}
	return nil
}

// DeleteVM deletes one VM and then its disks and network resources. With an
// empty name the whole resource group is deleted instead.
func (o *Orchestrator) DeleteVM(ctx context.Context, resourceGroup, name string) error {
	ctx, span := tracer.Start(ctx, "lifecycle.DeleteVM")
	defer span.End()

	if name == "" {
		return o.DeleteResourceGroup(ctx, resourceGroup)
	}

	log := o.logger.With().Str("resource_group", resourceGroup).Str("vm", name).Logger()

	vm, err := o.cloud.Compute.GetVM(ctx, resourceGroup, name, false)
	if err != nil {
		return fmt.Errorf("get vm %s: %w", name, err)
	}

	log.Info().Msg("deleting vm")
	if err := o.cloud.Compute.DeleteVM(ctx, resourceGroup, name); err != nil {
		return fmt.Errorf("delete vm %s: %w", name, err)
	}
	log.Info().Msg("vm deleted")

	o.deleteArtifacts(ctx, resourceGroup, vm)
	return nil
}

// DeleteResourceGroup deletes a resource group and everything in it.
func (o *Orchestrator) DeleteResourceGroup(ctx context.Context, resourceGroup string) error {
	o.logger.Info().Str("resource_group", resourceGroup).Msg("deleting resource group")
	if err := o.cloud.Resources.DeleteResourceGroup(ctx, resourceGroup); err != nil {
		return fmt.Errorf("delete resource group %s: %w", resourceGroup, err)
	}
	o.logger.Info().Str("resource_group", resourceGroup).Msg("resource group deleted")
	return nil
}

// deleteArtifacts removes what a deleted VM left behind. Failures are
// logged; the VM itself is already gone.
func (o *Orchestrator) deleteArtifacts(ctx context.Context, resourceGroup string, vm armcompute.VirtualMachine) {
	if vm.Properties == nil {
		return
	}

	if sp := vm.Properties.StorageProfile; sp != nil {
		if sp.OSDisk != nil && sp.OSDisk.ManagedDisk != nil && sp.OSDisk.Name != nil {
			o.deleteDisk(ctx, resourceGroup, sp.OSDisk.ManagedDisk.ID, *sp.OSDisk.Name)
		} else {
			o.logger.Debug().Msg("os disk is unmanaged, leaving it")
		}
		for _, d := range sp.DataDisks {
			if d != nil && d.ManagedDisk != nil && d.Name != nil {
				o.deleteDisk(ctx, resourceGroup, d.ManagedDisk.ID, *d.Name)
			}
		}
	}

	if vm.Properties.NetworkProfile == nil {
		return
	}
	for _, ref := range vm.Properties.NetworkProfile.NetworkInterfaces {
		if ref != nil && ref.ID != nil {
			o.deleteInterface(ctx, *ref.ID)
		}
	}
}

func (o *Orchestrator) deleteDisk(ctx context.Context, resourceGroup string, id *string, name string) {
	if id != nil {
		if ref, err := cloud.ParseRef(*id); err == nil {
			resourceGroup = ref.ResourceGroup
		}
	}
	if err := o.cloud.Compute.DeleteDisk(ctx, resourceGroup, name); err != nil {
		o.logger.Warn().Err(err).Str("disk", name).Msg("disk deletion failed")
		return
	}
	o.logger.Info().Str("disk", name).Msg("disk deleted")
}

// deleteInterface removes a NIC, its security group, its public IPs and its
// virtual network unless the network is shared.
func (o *Orchestrator) deleteInterface(ctx context.Context, nicID string) {
	nicRef, err := cloud.ParseRef(nicID)
	if err != nil {
		o.logger.Warn().Err(err).Str("nic", nicID).Msg("unparseable nic id")
		return
	}
	nic, err := o.cloud.Network.GetInterface(ctx, nicRef.ResourceGroup, nicRef.Name)
	if err != nil {
		o.logger.Warn().Err(err).Str("nic", nicRef.Name).Msg("nic lookup failed")
		return
	}

	// Sharing is decided before the NIC goes away and drops its own
	// IP configuration from the count.
	vnets := make(map[cloud.Ref]bool)
	var publicIPs []cloud.Ref
	if nic.Properties != nil {
		for _, ipc := range nic.Properties.IPConfigurations {
			if ipc == nil || ipc.Properties == nil {
				continue
			}
			if pip := ipc.Properties.PublicIPAddress; pip != nil && pip.ID != nil {
				if ref, err := cloud.ParseRef(*pip.ID); err == nil {
					publicIPs = append(publicIPs, ref)
				}
			}
			if sn := ipc.Properties.Subnet; sn != nil && sn.ID != nil {
				if ref, err := cloud.ParseRef(*sn.ID); err == nil && ref.Parent != "" {
					vnet := cloud.Ref{SubscriptionID: ref.SubscriptionID, ResourceGroup: ref.ResourceGroup, Name: ref.Parent}
					if _, seen := vnets[vnet]; !seen {
						vnets[vnet] = o.vnetShared(ctx, vnet)
					}
				}
			}
		}
	}

	if err := o.cloud.Network.DeleteInterface(ctx, nicRef.ResourceGroup, nicRef.Name); err != nil {
		o.logger.Warn().Err(err).Str("nic", nicRef.Name).Msg("nic deletion failed")
		return
	}
	o.logger.Info().Str("nic", nicRef.Name).Msg("nic deleted")

	if nic.Properties != nil && nic.Properties.NetworkSecurityGroup != nil && nic.Properties.NetworkSecurityGroup.ID != nil {
		if ref, err := cloud.ParseRef(*nic.Properties.NetworkSecurityGroup.ID); err == nil {
			if err := o.cloud.Network.DeleteSecurityGroup(ctx, ref.ResourceGroup, ref.Name); err != nil {
				o.logger.Warn().Err(err).Str("nsg", ref.Name).Msg("nsg deletion failed")
			}
		}
	}

	for _, ref := range publicIPs {
		if err := o.cloud.Network.DeletePublicIP(ctx, ref.ResourceGroup, ref.Name); err != nil {
			o.logger.Warn().Err(err).Str("public_ip", ref.Name).Msg("public ip deletion failed")
		}
	}

	for vnet, shared := range vnets {
		if shared {
			o.logger.Info().Str("vnet", vnet.Name).Msg("vnet is shared with other resources, not deleting")
			continue
		}
		if err := o.cloud.Network.DeleteVirtualNetwork(ctx, vnet.ResourceGroup, vnet.Name); err != nil {
			o.logger.Warn().Err(err).Str("vnet", vnet.Name).Msg("vnet deletion failed")
		}
	}
}

// vnetShared reports whether more than one IP configuration references the
// network. An unreadable network counts as shared.
func (o *Orchestrator) vnetShared(ctx context.Context, vnet cloud.Ref) bool {
	v, err := o.cloud.Network.GetVirtualNetwork(ctx, vnet.ResourceGroup, vnet.Name)
	if err != nil {
		o.logger.Warn().Err(err).Str("vnet", vnet.Name).Msg("vnet lookup failed")
		return true
	}
	if v.Properties == nil {
		return false
	}
	count := 0
	for _, s := range v.Properties.Subnets {
		if s != nil && s.Properties != nil {
			count += len(s.Properties.IPConfigurations)
		}
	}
	return count > 1
}
