package lifecycle

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v6"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v7"
	"github.com/google/uuid"
)

const (
	DefaultAdminUsername = "superuser"

	defaultVNetPrefix   = "10.0.0.0/16"
	defaultSubnetPrefix = "10.0.0.0/24"

	tagKey = "Group"

	linuxSSHPortStart   = 50000
	linuxSSHPortEnd     = 52000
	windowsRDPPortStart = 52001
	windowsRDPPortEnd   = 54000

	managedIdentityPort = 50342
)

// GeneratePassword returns a random admin password that satisfies the
// platform complexity rules.
func GeneratePassword() string {
	return "Gh!1" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// credential is the resolved form of MachineSpec.Key.
type credential struct {
	value string
	// sshKey marks value as an SSH public key rather than a password.
	sshKey bool
}

// resolveCredential reads key from disk when it names a file. A Linux
// machine gets SSH key auth when the key came from a file or looks like an
// OpenSSH public key; everything else is used as the admin password.
func resolveCredential(key string, osType OSType) (credential, error) {
	if key == "" {
		return credential{}, errors.New("no admin key or password")
	}
	value := key
	fromFile := false
	if info, err := os.Stat(key); err == nil && !info.IsDir() {
		data, err := os.ReadFile(key)
		if err != nil {
			return credential{}, fmt.Errorf("read key file: %w", err)
		}
		value = strings.TrimSpace(string(data))
		fromFile = true
	}
	isSSH := osType == OSLinux && (fromFile || strings.HasPrefix(value, "ssh-"))
	return credential{value: value, sshKey: isSSH}, nil
}

// encodeCustomData base64-encodes data, or the contents of the file it names.
func encodeCustomData(data string) (string, error) {
	if data == "" {
		return "", nil
	}
	raw := []byte(data)
	if info, err := os.Stat(data); err == nil && !info.IsDir() {
		if raw, err = os.ReadFile(data); err != nil {
			return "", fmt.Errorf("read custom data file: %w", err)
		}
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func linuxConfiguration(user, key string) *armcompute.LinuxConfiguration {
	return &armcompute.LinuxConfiguration{
		DisablePasswordAuthentication: to.Ptr(true),
		SSH: &armcompute.SSHConfiguration{
			PublicKeys: []*armcompute.SSHPublicKey{{
				Path:    to.Ptr(fmt.Sprintf("/home/%s/.ssh/authorized_keys", user)),
				KeyData: to.Ptr(key),
			}},
		},
	}
}

func imageReference(img Image, imageID string) *armcompute.ImageReference {
	if imageID != "" {
		return &armcompute.ImageReference{ID: to.Ptr(imageID)}
	}
	return &armcompute.ImageReference{
		Publisher: to.Ptr(img.Publisher),
		Offer:     to.Ptr(img.Offer),
		SKU:       to.Ptr(img.SKU),
		Version:   to.Ptr(img.Version),
	}
}

func tags(tag string) map[string]*string {
	if tag == "" {
		return nil
	}
	return map[string]*string{tagKey: to.Ptr(tag)}
}

func adminUser(m MachineSpec) string {
	if m.AdminUsername == "" {
		return DefaultAdminUsername
	}
	return m.AdminUsername
}

func vmParameters(spec VMSpec, nicID, imageID string) (armcompute.VirtualMachine, error) {
	user := adminUser(spec.MachineSpec)
	cred, err := resolveCredential(spec.Key, spec.OSType)
	if err != nil {
		return armcompute.VirtualMachine{}, err
	}
	customData, err := encodeCustomData(spec.CustomData)
	if err != nil {
		return armcompute.VirtualMachine{}, err
	}

	osProfile := &armcompute.OSProfile{
		ComputerName:  to.Ptr(spec.VMName()),
		AdminUsername: to.Ptr(user),
	}
	if cred.sshKey {
		osProfile.LinuxConfiguration = linuxConfiguration(user, cred.value)
	} else {
		osProfile.AdminPassword = to.Ptr(cred.value)
	}
	if customData != "" {
		osProfile.CustomData = to.Ptr(customData)
	}

	storage := &armcompute.StorageProfile{ImageReference: imageReference(spec.Image, imageID)}
	for i, size := range spec.DataDisks {
		storage.DataDisks = append(storage.DataDisks, &armcompute.DataDisk{
			Name:         to.Ptr(fmt.Sprintf("datadisk%d", i)),
			DiskSizeGB:   to.Ptr(size),
			Lun:          to.Ptr(int32(i)),
			CreateOption: to.Ptr(armcompute.DiskCreateOptionTypesEmpty),
		})
	}

	return armcompute.VirtualMachine{
		Location: to.Ptr(spec.Location),
		Tags:     tags(spec.Tag),
		Properties: &armcompute.VirtualMachineProperties{
			HardwareProfile: &armcompute.HardwareProfile{VMSize: to.Ptr(armcompute.VirtualMachineSizeTypes(spec.Size))},
			OSProfile:       osProfile,
			StorageProfile:  storage,
			NetworkProfile: &armcompute.NetworkProfile{
				NetworkInterfaces: []*armcompute.NetworkInterfaceReference{{ID: to.Ptr(nicID)}},
			},
		},
	}, nil
}

// loadBalancerRefs are the load-balancer sub-resources a scale set binds to.
type loadBalancerRefs struct {
	backendPoolID string
	natPoolIDs    []string
}

func refsFromLoadBalancer(lb armnetwork.LoadBalancer) (loadBalancerRefs, error) {
	var refs loadBalancerRefs
	if lb.Properties == nil || len(lb.Properties.BackendAddressPools) == 0 || lb.Properties.BackendAddressPools[0].ID == nil {
		return refs, errors.New("load balancer has no backend address pool")
	}
	refs.backendPoolID = *lb.Properties.BackendAddressPools[0].ID
	for _, pool := range lb.Properties.InboundNatPools {
		if pool != nil && pool.ID != nil {
			refs.natPoolIDs = append(refs.natPoolIDs, *pool.ID)
		}
	}
	return refs, nil
}

func scaleSetParameters(spec ScaleSetSpec, subnetID string, lb loadBalancerRefs, imageID, scriptURL string) (armcompute.VirtualMachineScaleSet, error) {
	user := adminUser(spec.MachineSpec)
	cred, err := resolveCredential(spec.Key, spec.OSType)
	if err != nil {
		return armcompute.VirtualMachineScaleSet{}, err
	}
	customData, err := encodeCustomData(spec.CustomData)
	if err != nil {
		return armcompute.VirtualMachineScaleSet{}, err
	}

	name := spec.ScaleSetName()
	osProfile := &armcompute.VirtualMachineScaleSetOSProfile{
		ComputerNamePrefix: to.Ptr(name),
		AdminUsername:      to.Ptr(user),
	}
	if cred.sshKey {
		osProfile.LinuxConfiguration = linuxConfiguration(user, cred.value)
	} else {
		osProfile.AdminPassword = to.Ptr(cred.value)
	}
	if customData != "" {
		osProfile.CustomData = to.Ptr(customData)
	}

	storage := &armcompute.VirtualMachineScaleSetStorageProfile{ImageReference: imageReference(spec.Image, imageID)}
	for i, size := range spec.DataDisks {
		storage.DataDisks = append(storage.DataDisks, &armcompute.VirtualMachineScaleSetDataDisk{
			DiskSizeGB:   to.Ptr(size),
			Lun:          to.Ptr(int32(i)),
			CreateOption: to.Ptr(armcompute.DiskCreateOptionTypesEmpty),
		})
	}

	natPools := make([]*armcompute.SubResource, 0, len(lb.natPoolIDs))
	for _, id := range lb.natPoolIDs {
		natPools = append(natPools, &armcompute.SubResource{ID: to.Ptr(id)})
	}

	profile := &armcompute.VirtualMachineScaleSetVMProfile{
		OSProfile:      osProfile,
		StorageProfile: storage,
		NetworkProfile: &armcompute.VirtualMachineScaleSetNetworkProfile{
			NetworkInterfaceConfigurations: []*armcompute.VirtualMachineScaleSetNetworkConfiguration{{
				Name: to.Ptr(name + "nic"),
				Properties: &armcompute.VirtualMachineScaleSetNetworkConfigurationProperties{
					Primary: to.Ptr(true),
					IPConfigurations: []*armcompute.VirtualMachineScaleSetIPConfiguration{{
						Name: to.Ptr(name + "ipconfig"),
						Properties: &armcompute.VirtualMachineScaleSetIPConfigurationProperties{
							Subnet:                          &armcompute.APIEntityReference{ID: to.Ptr(subnetID)},
							LoadBalancerBackendAddressPools: []*armcompute.SubResource{{ID: to.Ptr(lb.backendPoolID)}},
							LoadBalancerInboundNatPools:     natPools,
						},
					}},
				},
			}},
		},
	}
	if spec.wantsSecret(scriptURL) {
		profile.ExtensionProfile = &armcompute.VirtualMachineScaleSetExtensionProfile{
			Extensions: []*armcompute.VirtualMachineScaleSetExtension{{
				Name: to.Ptr(name + "linuxmsiext"),
				Properties: &armcompute.VirtualMachineScaleSetExtensionProperties{
					Publisher:          to.Ptr("Microsoft.ManagedIdentity"),
					Type:               to.Ptr("ManagedIdentityExtensionForLinux"),
					TypeHandlerVersion: to.Ptr("1.0"),
					Settings:           map[string]any{"port": managedIdentityPort},
				},
			}},
		}
	}

	return armcompute.VirtualMachineScaleSet{
		Location: to.Ptr(spec.Location),
		Tags:     tags(spec.Tag),
		SKU: &armcompute.SKU{
			Name:     to.Ptr(spec.Size),
			Tier:     to.Ptr("Standard"),
			Capacity: to.Ptr(spec.NodeCount),
		},
		Identity: &armcompute.VirtualMachineScaleSetIdentity{
			Type: to.Ptr(armcompute.ResourceIdentityTypeSystemAssigned),
		},
		Properties: &armcompute.VirtualMachineScaleSetProperties{
			UpgradePolicy:         &armcompute.UpgradePolicy{Mode: to.Ptr(armcompute.UpgradeModeManual)},
			VirtualMachineProfile: profile,
		},
	}, nil
}

// secretExtension runs the download script on every instance.
func secretExtension(spec ScaleSetSpec, scriptURL, tenantID string) armcompute.VirtualMachineScaleSetExtension {
	script := path.Base(scriptURL)
	if u, err := url.Parse(scriptURL); err == nil && u.Path != "" {
		script = path.Base(u.Path)
	}
	return armcompute.VirtualMachineScaleSetExtension{
		Properties: &armcompute.VirtualMachineScaleSetExtensionProperties{
			Publisher:          to.Ptr("Microsoft.Azure.Extensions"),
			Type:               to.Ptr("CustomScript"),
			TypeHandlerVersion: to.Ptr("2.0"),
			Settings: map[string]any{
				"fileUris": []string{scriptURL},
				"commandToExecute": fmt.Sprintf("bash %s %s %s %s >> script-execution.log",
					script, spec.KeyVaultName, spec.SecretName, tenantID),
			},
		},
	}
}

func imageParameters(location string, osType OSType, blobURI string) armcompute.Image {
	return armcompute.Image{
		Location: to.Ptr(location),
		Properties: &armcompute.ImageProperties{
			StorageProfile: &armcompute.ImageStorageProfile{
				OSDisk: &armcompute.ImageOSDisk{
					OSType:  to.Ptr(armcompute.OperatingSystemTypes(osType)),
					OSState: to.Ptr(armcompute.OperatingSystemStateTypesGeneralized),
					BlobURI: to.Ptr(blobURI),
					Caching: to.Ptr(armcompute.CachingTypesReadWrite),
				},
			},
		},
	}
}

func virtualNetworkParameters(location string) armnetwork.VirtualNetwork {
	return armnetwork.VirtualNetwork{
		Location: to.Ptr(location),
		Properties: &armnetwork.VirtualNetworkPropertiesFormat{
			AddressSpace: &armnetwork.AddressSpace{AddressPrefixes: []*string{to.Ptr(defaultVNetPrefix)}},
		},
	}
}

func subnetParameters(prefix string) armnetwork.Subnet {
	return armnetwork.Subnet{
		Properties: &armnetwork.SubnetPropertiesFormat{AddressPrefix: to.Ptr(prefix)},
	}
}

func publicIPParameters(location string) armnetwork.PublicIPAddress {
	return armnetwork.PublicIPAddress{
		Location: to.Ptr(location),
		Properties: &armnetwork.PublicIPAddressPropertiesFormat{
			PublicIPAllocationMethod: to.Ptr(armnetwork.IPAllocationMethodDynamic),
		},
	}
}

func interfaceParameters(location, ipConfigName, subnetID, publicIPID string) armnetwork.Interface {
	ipConfig := &armnetwork.InterfaceIPConfiguration{
		Name: to.Ptr(ipConfigName),
		Properties: &armnetwork.InterfaceIPConfigurationPropertiesFormat{
			PrivateIPAllocationMethod: to.Ptr(armnetwork.IPAllocationMethodDynamic),
			Subnet:                    &armnetwork.Subnet{ID: to.Ptr(subnetID)},
		},
	}
	if publicIPID != "" {
		ipConfig.Properties.PublicIPAddress = &armnetwork.PublicIPAddress{ID: to.Ptr(publicIPID)}
	}
	return armnetwork.Interface{
		Location: to.Ptr(location),
		Properties: &armnetwork.InterfacePropertiesFormat{
			IPConfigurations: []*armnetwork.InterfaceIPConfiguration{ipConfig},
		},
	}
}

func loadBalancerChildID(subscriptionID, resourceGroup, lbName, kind, name string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Network/loadBalancers/%s/%s/%s",
		subscriptionID, resourceGroup, lbName, kind, name)
}

func loadBalancerParameters(spec ScaleSetSpec, subscriptionID, publicIPID string) armnetwork.LoadBalancer {
	rg := spec.ResourceGroup()
	lbName := spec.LoadBalancerName()
	frontendID := loadBalancerChildID(subscriptionID, rg, lbName, "frontendIPConfigurations", spec.frontendName())
	natPool := func(name string, start, end, backend int32) *armnetwork.InboundNatPool {
		return &armnetwork.InboundNatPool{
			Name: to.Ptr(name),
			Properties: &armnetwork.InboundNatPoolPropertiesFormat{
				Protocol:                to.Ptr(armnetwork.TransportProtocolTCP),
				FrontendPortRangeStart:  to.Ptr(start),
				FrontendPortRangeEnd:    to.Ptr(end),
				BackendPort:             to.Ptr(backend),
				FrontendIPConfiguration: &armnetwork.SubResource{ID: to.Ptr(frontendID)},
			},
		}
	}

	return armnetwork.LoadBalancer{
		Location: to.Ptr(spec.Location),
		Properties: &armnetwork.LoadBalancerPropertiesFormat{
			FrontendIPConfigurations: []*armnetwork.FrontendIPConfiguration{{
				Name: to.Ptr(spec.frontendName()),
				Properties: &armnetwork.FrontendIPConfigurationPropertiesFormat{
					PrivateIPAllocationMethod: to.Ptr(armnetwork.IPAllocationMethodDynamic),
					PublicIPAddress:           &armnetwork.PublicIPAddress{ID: to.Ptr(publicIPID)},
				},
			}},
			BackendAddressPools: []*armnetwork.BackendAddressPool{{Name: to.Ptr(spec.backendPoolName())}},
			Probes: []*armnetwork.Probe{{
				Name: to.Ptr(spec.probeName()),
				Properties: &armnetwork.ProbePropertiesFormat{
					Protocol:          to.Ptr(armnetwork.ProbeProtocolHTTP),
					Port:              to.Ptr[int32](80),
					IntervalInSeconds: to.Ptr[int32](15),
					NumberOfProbes:    to.Ptr[int32](4),
					RequestPath:       to.Ptr("healthprobe.aspx"),
				},
			}},
			InboundNatPools: []*armnetwork.InboundNatPool{
				natPool(spec.linuxNATPoolName(), linuxSSHPortStart, linuxSSHPortEnd, 22),
				natPool(spec.windowsNATPoolName(), windowsRDPPortStart, windowsRDPPortEnd, 3389),
			},
		},
	}
}
