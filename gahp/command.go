package gahp

import (
	"strings"

	"github.com/cqnkjsx/htcondor/lifecycle"
)

// Kind is a protocol operation name.
type Kind string

const (
	KindPing            Kind = "AZURE_PING"
	KindVMCreate        Kind = "AZURE_VM_CREATE"
	KindVMDelete        Kind = "AZURE_VM_DELETE"
	KindVMList          Kind = "AZURE_VM_LIST"
	KindScaleSetCreate  Kind = "AZURE_VMSS_CREATE"
	KindScaleSetDelete  Kind = "AZURE_VMSS_DELETE"
	KindScaleSetStart   Kind = "AZURE_VMSS_START"
	KindScaleSetStop    Kind = "AZURE_VMSS_STOP"
	KindScaleSetRestart Kind = "AZURE_VMSS_RESTART"
	KindScaleSetScale   Kind = "AZURE_VMSS_SCALE"
)

// Kinds lists every operation in the order COMMANDS reports them.
var Kinds = []Kind{
	KindPing,
	KindVMCreate,
	KindVMDelete,
	KindVMList,
	KindScaleSetCreate,
	KindScaleSetDelete,
	KindScaleSetStart,
	KindScaleSetStop,
	KindScaleSetRestart,
	KindScaleSetScale,
}

// ParseKind matches name case-insensitively.
func ParseKind(name string) (Kind, bool) {
	upper := Kind(strings.ToUpper(name))
	for _, k := range Kinds {
		if k == upper {
			return k, true
		}
	}
	return "", false
}

// Command is one accepted request. It is not modified after parsing.
type Command struct {
	Kind           Kind
	RequestID      string
	CredentialRef  string
	SubscriptionID string
	Params         Params
}

// Params is the operation-specific part of a Command. Each Kind has exactly
// one implementation.
type Params interface {
	params()
}

type PingParams struct{}

type VMCreateParams struct {
	Spec lifecycle.VMSpec
}

// VMDeleteParams deletes one VM, or the whole group when VMName is empty.
type VMDeleteParams struct {
	ResourceGroup string
	VMName        string
}

type VMListParams struct {
	ResourceGroup string
	VMName        string
	Tag           string
}

type ScaleSetCreateParams struct {
	Spec lifecycle.ScaleSetSpec
}

// ScaleSetTargetParams addresses DELETE, START, STOP and RESTART. Name is
// the full scale-set name. When Deletion is set the delete is scheduled
// instead of run.
type ScaleSetTargetParams struct {
	ResourceGroup string
	Name          string
	Deletion      *lifecycle.DeletionRequest
}

type ScaleSetScaleParams struct {
	ResourceGroup string
	Name          string
	NodeCount     int64
	// Requested is the count as given; NodeCount is clamped to at least 1.
	Requested int64
}

func (PingParams) params()           {}
func (VMCreateParams) params()       {}
func (VMDeleteParams) params()       {}
func (VMListParams) params()         {}
func (ScaleSetCreateParams) params() {}
func (ScaleSetTargetParams) params() {}
func (ScaleSetScaleParams) params()  {}
