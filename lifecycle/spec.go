package lifecycle

import (
	"fmt"
	"strings"
	"time"
)

// OSType is the guest operating system family.
type OSType string

const (
	OSLinux   OSType = "Linux"
	OSWindows OSType = "Windows"
)

// ParseOSType title-cases s. Anything other than windows is Linux.
func ParseOSType(s string) OSType {
	if strings.EqualFold(s, string(OSWindows)) {
		return OSWindows
	}
	return OSLinux
}

// Image is either a platform marketplace image or a VHD blob to stage as a
// managed image.
type Image struct {
	Publisher string
	Offer     string
	SKU       string
	Version   string
	// VHD is an https blob URL. When set the other fields are empty.
	VHD string
}

// IsVHD reports whether the image must be staged from a blob.
func (i Image) IsVHD() bool { return i.VHD != "" }

var platformImages = map[string]struct {
	image Image
	os    OSType
}{
	"linux-ubuntu-latest": {
		image: Image{Publisher: "Canonical", Offer: "UbuntuServer", SKU: "16.04.0-LTS", Version: "latest"},
		os:    OSLinux,
	},
	"windows-server-latest": {
		image: Image{Publisher: "MicrosoftWindowsServer", Offer: "WindowsServer", SKU: "2012-R2-Datacenter", Version: "latest"},
		os:    OSWindows,
	},
}

// LookupImage resolves an image argument. Platform names carry their OS
// family; a VHD URL returns ok with an empty OSType so the caller decides.
func LookupImage(ref string) (Image, OSType, bool) {
	if p, ok := platformImages[strings.ToLower(ref)]; ok {
		return p.image, p.os, true
	}
	if strings.HasPrefix(strings.ToLower(ref), "https://") {
		return Image{VHD: ref}, "", true
	}
	return Image{}, "", false
}

// MachineSpec holds what a VM and a scale-set instance have in common.
type MachineSpec struct {
	Name          string
	Location      string
	Size          string
	Image         Image
	OSType        OSType
	AdminUsername string
	// Key is an SSH public key file path, a raw key, or a password.
	Key string
	// CustomData is literal text or a local file path.
	CustomData string
	Tag        string
	// DataDisks holds one size in GB per empty data disk.
	DataDisks []int32

	VNetName          string
	VNetResourceGroup string
}

// ResourceGroup is the group every generated resource lives in.
func (m MachineSpec) ResourceGroup() string { return m.Name }

func (m MachineSpec) imageName() string { return m.Name + "image" }
func (m MachineSpec) vnetName() string { return m.Name + "vnet" }

// usesExistingVNet reports whether the caller named a virtual network to
// join instead of creating one.
func (m MachineSpec) usesExistingVNet() bool {
	return m.VNetName != "" && m.VNetResourceGroup != ""
}

// VMSpec describes a single virtual machine.
type VMSpec struct {
	MachineSpec
	SubnetName string
	PublicIP   bool
}

func (s VMSpec) VMName() string { return s.Name + "vm" }
func (s VMSpec) NICName() string { return s.Name + "nic" }
func (s VMSpec) IPConfigName() string { return s.Name + "ipconfig" }
func (s VMSpec) PublicIPName() string { return s.Name + "pip" }
func (s VMSpec) defaultSubnetName() string { return s.Name + "subnet" }

// ScaleSetSpec describes a scale set fronted by a load balancer.
type ScaleSetSpec struct {
	MachineSpec
	NodeCount int64

	// Secret download through a key vault.
	KeyVaultResourceGroup string
	KeyVaultName          string
	SecretName            string

	// DeletionJob schedules deletion of the whole group at Schedule.
	DeletionJob bool
	Schedule    string
}

func (s ScaleSetSpec) ScaleSetName() string { return s.Name + "vmss" }
func (s ScaleSetSpec) SubnetName() string { return s.Name + "subnet" }
func (s ScaleSetSpec) LoadBalancerName() string { return s.Name + "lb" }
func (s ScaleSetSpec) publicIPName() string { return s.Name + "pip" }
func (s ScaleSetSpec) frontendName() string { return s.Name + "lbfrontip" }
func (s ScaleSetSpec) backendPoolName() string { return s.Name + "loadaddrpool" }
func (s ScaleSetSpec) probeName() string { return s.Name + "loadprob" }
func (s ScaleSetSpec) linuxNATPoolName() string { return s.LoadBalancerName() + "natrulelinux" }
func (s ScaleSetSpec) windowsNATPoolName() string { return s.LoadBalancerName() + "natrulewindows" }

// wantsSecret reports whether instances should download a vault secret.
func (s ScaleSetSpec) wantsSecret(scriptURL string) bool {
	return scriptURL != "" && s.KeyVaultName != "" && s.SecretName != ""
}

// DeletionRequest asks the scheduler to delete a resource group, or a scale
// set inside it, at Schedule.
type DeletionRequest struct {
	ResourceGroup string
	ScaleSetName  string
	Location      string
	// Schedule is "now" or a UTC timestamp in YYYYMMDDHHMM form.
	Schedule string
}

const scheduleLayout = "200601021504"

// ParseSchedule resolves a schedule argument against now. "now" yields a
// start time one day in the past and immediate=true so the job is run
// explicitly.
func ParseSchedule(schedule string, now time.Time) (start time.Time, immediate bool, err error) {
	if strings.EqualFold(schedule, "now") {
		return now.Add(-24 * time.Hour), true, nil
	}
	start, err = time.ParseInLocation(scheduleLayout, schedule, time.UTC)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("schedule %q is neither \"now\" nor YYYYMMDDHHMM", schedule)
	}
	return start, false, nil
}
