package lifecycle

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v6"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqnkjsx/htcondor/cloud/cloudtest"
)

func linuxVMSpec(t *testing.T) VMSpec {
	t.Helper()
	keyFile := filepath.Join(t.TempDir(), "id_rsa.pub")
	require.NoError(t, os.WriteFile(keyFile, []byte("ssh-rsa AAAAB3Nza test@host\n"), 0o600))
	img, osType, ok := LookupImage("linux-ubuntu-latest")
	require.True(t, ok)
	return VMSpec{
		MachineSpec: MachineSpec{
			Name:          "foo",
			Location:      "eastus",
			Size:          "Standard_D2s_v3",
			Image:         img,
			OSType:        osType,
			AdminUsername: "condor",
			Key:           keyFile,
			CustomData:    "#cloud-config",
			Tag:           "pool1",
			DataDisks:     []int32{10, 20},
		},
		PublicIP: true,
	}
}

func TestCreateVM(t *testing.T) {
	o, fake := newTestOrchestrator(t)

	result, err := o.CreateVM(testContext(t), linuxVMSpec(t))
	require.NoError(t, err)
	assert.Equal(t, "vmid-foovm", result.VMID)
	assert.Equal(t, cloudtest.PublicIP, result.PublicIP)

	assert.Equal(t, "eastus", fake.Groups["foo"])
	require.Contains(t, fake.VNets, cloudtest.Key("foo", "foovnet"))
	require.Contains(t, fake.Interfaces, cloudtest.Key("foo", "foonic"))

	nic := fake.Interfaces[cloudtest.Key("foo", "foonic")]
	ipc := nic.Properties.IPConfigurations[0]
	assert.Equal(t, "fooipconfig", *ipc.Name)
	assert.Equal(t, cloudtest.SubnetID("foo", "foovnet", "foosubnet"), *ipc.Properties.Subnet.ID)
	require.NotNil(t, ipc.Properties.PublicIPAddress)

	vm := fake.VMs[cloudtest.Key("foo", "foovm")]
	osProfile := vm.Properties.OSProfile
	assert.Equal(t, "condor", *osProfile.AdminUsername)
	assert.Nil(t, osProfile.AdminPassword)
	require.NotNil(t, osProfile.LinuxConfiguration)
	key := osProfile.LinuxConfiguration.SSH.PublicKeys[0]
	assert.Equal(t, "/home/condor/.ssh/authorized_keys", *key.Path)
	assert.Equal(t, "ssh-rsa AAAAB3Nza test@host", *key.KeyData)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("#cloud-config")), *osProfile.CustomData)
	assert.Equal(t, "pool1", *vm.Tags["Group"])
	assert.Equal(t, "Canonical", *vm.Properties.StorageProfile.ImageReference.Publisher)

	disks := vm.Properties.StorageProfile.DataDisks
	require.Len(t, disks, 2)
	assert.Equal(t, "datadisk1", *disks[1].Name)
	assert.Equal(t, int32(20), *disks[1].DiskSizeGB)
	assert.Equal(t, int32(1), *disks[1].Lun)
	assert.Equal(t, armcompute.DiskCreateOptionTypesEmpty, *disks[1].CreateOption)
}

func TestCreateVMWithoutTagOmitsTags(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	spec := linuxVMSpec(t)
	spec.Tag = ""
	spec.PublicIP = false

	result, err := o.CreateVM(testContext(t), spec)
	require.NoError(t, err)
	assert.Empty(t, result.PublicIP)
	assert.Nil(t, fake.VMs[cloudtest.Key("foo", "foovm")].Tags)
	assert.Zero(t, fake.CallCount("CreatePublicIP"))
}

func TestCreateVMPublicIPFailureDegrades(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	fake.FailOn("CreatePublicIP", errors.New("quota exceeded"))

	result, err := o.CreateVM(testContext(t), linuxVMSpec(t))
	require.NoError(t, err)
	assert.Empty(t, result.PublicIP)
	assert.Zero(t, fake.CallCount("GetPublicIP"))

	nic := fake.Interfaces[cloudtest.Key("foo", "foonic")]
	assert.Nil(t, nic.Properties.IPConfigurations[0].Properties.PublicIPAddress)
}

func TestCreateVMWindowsUsesPassword(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	img, osType, _ := LookupImage("windows-server-latest")
	spec := linuxVMSpec(t)
	spec.Image = img
	spec.OSType = osType
	spec.Key = "Sup3r!Secret"

	_, err := o.CreateVM(testContext(t), spec)
	require.NoError(t, err)
	profile := fake.VMs[cloudtest.Key("foo", "foovm")].Properties.OSProfile
	assert.Nil(t, profile.LinuxConfiguration)
	assert.Equal(t, "Sup3r!Secret", *profile.AdminPassword)
}

func seedVNet(fake *cloudtest.Fake, resourceGroup, name string, subnets ...string) {
	vnet := armnetwork.VirtualNetwork{
		ID:   to.Ptr(cloudtest.ID(resourceGroup, "Microsoft.Network", "virtualNetworks", name)),
		Name: to.Ptr(name),
		Properties: &armnetwork.VirtualNetworkPropertiesFormat{
			AddressSpace: &armnetwork.AddressSpace{AddressPrefixes: []*string{to.Ptr("10.5.0.0/16")}},
		},
	}
	for _, s := range subnets {
		vnet.Properties.Subnets = append(vnet.Properties.Subnets, &armnetwork.Subnet{
			ID:   to.Ptr(cloudtest.SubnetID(resourceGroup, name, s)),
			Name: to.Ptr(s),
		})
	}
	fake.VNets[cloudtest.Key(resourceGroup, name)] = vnet
}

func TestCreateVMExistingVNet(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	seedVNet(fake, "netrg", "shared", "alpha", "Beta")

	spec := linuxVMSpec(t)
	spec.VNetName = "shared"
	spec.VNetResourceGroup = "netrg"
	spec.SubnetName = "beta"

	_, err := o.CreateVM(testContext(t), spec)
	require.NoError(t, err)
	assert.Zero(t, fake.CallCount("CreateVirtualNetwork"))

	nic := fake.Interfaces[cloudtest.Key("foo", "foonic")]
	assert.Equal(t, cloudtest.SubnetID("netrg", "shared", "Beta"), *nic.Properties.IPConfigurations[0].Properties.Subnet.ID)
}

func TestCreateVMExistingVNetFirstSubnet(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	seedVNet(fake, "netrg", "shared", "alpha", "beta")

	spec := linuxVMSpec(t)
	spec.VNetName = "shared"
	spec.VNetResourceGroup = "netrg"

	_, err := o.CreateVM(testContext(t), spec)
	require.NoError(t, err)
	nic := fake.Interfaces[cloudtest.Key("foo", "foonic")]
	assert.Equal(t, cloudtest.SubnetID("netrg", "shared", "alpha"), *nic.Properties.IPConfigurations[0].Properties.Subnet.ID)
}

func TestCreateVMExistingVNetWithoutSubnets(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	seedVNet(fake, "netrg", "empty")

	spec := linuxVMSpec(t)
	spec.VNetName = "empty"
	spec.VNetResourceGroup = "netrg"

	_, err := o.CreateVM(testContext(t), spec)
	require.NoError(t, err)

	assert.Empty(t, fake.VNets[cloudtest.Key("netrg", "empty")].Properties.Subnets)
	require.Contains(t, fake.VNets, cloudtest.Key("foo", "foovnet"))
	nic := fake.Interfaces[cloudtest.Key("foo", "foonic")]
	assert.Equal(t, cloudtest.SubnetID("foo", "foovnet", "foosubnet"), *nic.Properties.IPConfigurations[0].Properties.Subnet.ID)
}

func TestCreateVMNamedSubnetInEmptyVNetFailsFast(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	seedVNet(fake, "netrg", "empty")

	spec := linuxVMSpec(t)
	spec.VNetName = "empty"
	spec.VNetResourceGroup = "netrg"
	spec.SubnetName = "alpha"

	_, err := o.CreateVM(testContext(t), spec)
	require.ErrorIs(t, err, ErrSubnetNotFound)
	assert.Zero(t, fake.CallCount("CreateResourceGroup"))
	assert.Zero(t, fake.CallCount("CreateSubnet"))
}

func TestCreateVMMissingSubnetFailsFast(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	seedVNet(fake, "netrg", "shared", "alpha")

	spec := linuxVMSpec(t)
	spec.VNetName = "shared"
	spec.VNetResourceGroup = "netrg"
	spec.SubnetName = "gamma"

	_, err := o.CreateVM(testContext(t), spec)
	require.ErrorIs(t, err, ErrSubnetNotFound)
	assert.Contains(t, err.Error(), "'gamma' subnet is not found in 'shared' vnet")
	assert.Zero(t, fake.CallCount("CreateResourceGroup"))
	assert.Zero(t, fake.CallCount("CreateOrUpdateVM"))
}

func TestCreateVMFromVHDRemovesStagedImage(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	spec := linuxVMSpec(t)
	img, _, ok := LookupImage("https://acct.blob.core.windows.net/vhds/base.vhd")
	require.True(t, ok)
	spec.Image = img

	_, err := o.CreateVM(testContext(t), spec)
	require.NoError(t, err)

	calls := fake.Calls()
	assert.Less(t, indexOf(calls, "CreateImage"), indexOf(calls, "CreateOrUpdateVM"))
	assert.Less(t, indexOf(calls, "CreateOrUpdateVM"), indexOf(calls, "DeleteImage"))
	assert.Empty(t, fake.Images)

	ref := fake.VMs[cloudtest.Key("foo", "foovm")].Properties.StorageProfile.ImageReference
	assert.Equal(t, cloudtest.ID("foo", "Microsoft.Compute", "images", "fooimage"), *ref.ID)
	assert.Nil(t, ref.Publisher)
}

func TestCreateVMFromVHDRemovesImageOnFailure(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	fake.FailOn("CreateOrUpdateVM", errors.New("allocation failed"))
	spec := linuxVMSpec(t)
	spec.Image = Image{VHD: "https://acct.blob.core.windows.net/vhds/base.vhd"}

	_, err := o.CreateVM(testContext(t), spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allocation failed")
	assert.Equal(t, 1, fake.CallCount("DeleteImage"))
}

func TestDeleteVMResourceGroupOnly(t *testing.T) {
	o, fake := newTestOrchestrator(t)

	require.NoError(t, o.DeleteVM(testContext(t), "rg1", ""))
	assert.Equal(t, []string{"rg1"}, fake.DeletedGroups)
	assert.Zero(t, fake.CallCount("DeleteVM"))
	assert.Zero(t, fake.CallCount("GetVM"))
}

// seedVMWithNetwork creates rg1/vm1 with a managed OS disk and one NIC whose
// subnet lives in vnet1. ipConfigs sets how many IP configurations the vnet
// reports.
func seedVMWithNetwork(fake *cloudtest.Fake, ipConfigs int) {
	seedVNet(fake, "rg1", "vnet1", "default")
	vnet := fake.VNets[cloudtest.Key("rg1", "vnet1")]
	vnet.Properties.Subnets[0].Properties = &armnetwork.SubnetPropertiesFormat{}
	for i := 0; i < ipConfigs; i++ {
		vnet.Properties.Subnets[0].Properties.IPConfigurations = append(vnet.Properties.Subnets[0].Properties.IPConfigurations, &armnetwork.IPConfiguration{})
	}

	nicID := cloudtest.ID("rg1", "Microsoft.Network", "networkInterfaces", "vm1nic")
	fake.Interfaces[cloudtest.Key("rg1", "vm1nic")] = armnetwork.Interface{
		ID: to.Ptr(nicID),
		Properties: &armnetwork.InterfacePropertiesFormat{
			NetworkSecurityGroup: &armnetwork.SecurityGroup{ID: to.Ptr(cloudtest.ID("rg1", "Microsoft.Network", "networkSecurityGroups", "vm1nsg"))},
			IPConfigurations: []*armnetwork.InterfaceIPConfiguration{{
				Properties: &armnetwork.InterfaceIPConfigurationPropertiesFormat{
					Subnet:          &armnetwork.Subnet{ID: to.Ptr(cloudtest.SubnetID("rg1", "vnet1", "default"))},
					PublicIPAddress: &armnetwork.PublicIPAddress{ID: to.Ptr(cloudtest.ID("rg1", "Microsoft.Network", "publicIPAddresses", "vm1pip"))},
				},
			}},
		},
	}
	fake.PublicIPs[cloudtest.Key("rg1", "vm1pip")] = armnetwork.PublicIPAddress{}
	fake.VMs[cloudtest.Key("rg1", "vm1")] = armcompute.VirtualMachine{
		Properties: &armcompute.VirtualMachineProperties{
			StorageProfile: &armcompute.StorageProfile{
				OSDisk: &armcompute.OSDisk{
					Name:        to.Ptr("vm1osdisk"),
					ManagedDisk: &armcompute.ManagedDiskParameters{ID: to.Ptr(cloudtest.ID("rg1", "Microsoft.Compute", "disks", "vm1osdisk"))},
				},
				DataDisks: []*armcompute.DataDisk{{
					Name:        to.Ptr("datadisk0"),
					ManagedDisk: &armcompute.ManagedDiskParameters{ID: to.Ptr(cloudtest.ID("rg1", "Microsoft.Compute", "disks", "datadisk0"))},
				}},
			},
			NetworkProfile: &armcompute.NetworkProfile{
				NetworkInterfaces: []*armcompute.NetworkInterfaceReference{{ID: to.Ptr(nicID)}},
			},
		},
	}
}

func TestDeleteVMCascade(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	seedVMWithNetwork(fake, 1)

	require.NoError(t, o.DeleteVM(testContext(t), "rg1", "vm1"))

	assert.NotContains(t, fake.VMs, cloudtest.Key("rg1", "vm1"))
	assert.ElementsMatch(t, []string{"rg1/vm1osdisk", "rg1/datadisk0"}, fake.DeletedDisks)
	assert.NotContains(t, fake.Interfaces, cloudtest.Key("rg1", "vm1nic"))
	assert.Equal(t, []string{"rg1/vm1nsg"}, fake.DeletedNSGs)
	assert.NotContains(t, fake.PublicIPs, cloudtest.Key("rg1", "vm1pip"))
	assert.Equal(t, []string{"rg1/vnet1"}, fake.DeletedVNets)
	assert.Empty(t, fake.DeletedGroups)

	calls := fake.Calls()
	assert.Less(t, indexOf(calls, "DeleteVM"), indexOf(calls, "DeleteDisk"))
	assert.Less(t, indexOf(calls, "DeleteInterface"), indexOf(calls, "DeleteVirtualNetwork"))
}

func TestDeleteVMKeepsSharedVNet(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	seedVMWithNetwork(fake, 2)

	require.NoError(t, o.DeleteVM(testContext(t), "rg1", "vm1"))
	assert.Empty(t, fake.DeletedVNets)
	assert.Contains(t, fake.VNets, cloudtest.Key("rg1", "vnet1"))
}

func TestDeleteVMCascadeFailureIsNotFatal(t *testing.T) {
	o, fake := newTestOrchestrator(t)
	seedVMWithNetwork(fake, 1)
	fake.FailOn("DeleteInterface", errors.New("nic in use"))
	fake.FailOn("DeleteDisk", errors.New("disk locked"))

	require.NoError(t, o.DeleteVM(testContext(t), "rg1", "vm1"))
	assert.Empty(t, fake.DeletedVNets)
}

func TestDeleteVMNotFound(t *testing.T) {
	o, fake := newTestOrchestrator(t)

	err := o.DeleteVM(testContext(t), "rg1", "ghost")
	require.Error(t, err)
	assert.Zero(t, fake.CallCount("DeleteVM"))
}

func TestDescribeVM(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	_, err := o.CreateVM(testContext(t), linuxVMSpec(t))
	require.NoError(t, err)

	vmID, ip := o.DescribeVM(testContext(t), "foo", "foovm")
	assert.Equal(t, "vmid-foovm", vmID)
	assert.Equal(t, cloudtest.PublicIP, ip)

	vmID, ip = o.DescribeVM(testContext(t), "foo", "missing")
	assert.Empty(t, vmID)
	assert.Empty(t, ip)
}
