// Package inventory lists virtual machines with their instance-view status,
// fanning the per-VM lookups out over a bounded number of workers.
package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v6"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/cqnkjsx/htcondor/cloud"
	"github.com/cqnkjsx/htcondor/queue"
)

var tracer = otel.Tracer("github.com/cqnkjsx/htcondor/inventory")

// TagKey is the VM tag matched by Filter.Tag.
const TagKey = "Group"

// Filter selects VMs. ResourceGroup with VMName looks up one VM;
// ResourceGroup alone lists the group; Tag lists the subscription keeping
// VMs tagged Group=Tag; an empty filter lists the subscription.
type Filter struct {
	ResourceGroup string
	VMName        string
	Tag           string
}

// Record is the detail of one VM.
type Record struct {
	ID            string
	Name          string
	ResourceGroup string
	// Statuses are the instance-view status codes in platform order.
	Statuses []string
}

// Item is the outcome of one per-VM lookup: a Record or an error.
type Item struct {
	Name          string
	ResourceGroup string
	Record        *Record
	Err           error
}

// Listing is the result of List.
type Listing struct {
	Items []Item
	// Workers is the number of concurrent workers used.
	Workers int
}

// Records returns the successful lookups.
func (l Listing) Records() []Record {
	var out []Record
	for _, it := range l.Items {
		if it.Record != nil {
			out = append(out, *it.Record)
		}
	}
	return out
}

// Failures returns the failed lookups.
func (l Listing) Failures() []Item {
	var out []Item
	for _, it := range l.Items {
		if it.Err != nil {
			out = append(out, it)
		}
	}
	return out
}

// Lister enumerates VMs through one compute client.
type Lister struct {
	compute   cloud.Compute
	perWorker int
	logger    zerolog.Logger
}

// New returns a Lister that gives each worker at most perWorker VMs.
func New(compute cloud.Compute, perWorker int, logger zerolog.Logger) *Lister {
	if perWorker < 1 {
		perWorker = 1
	}
	return &Lister{compute: compute, perWorker: perWorker, logger: logger}
}

// List returns the VMs matching f. A failure to fetch the candidate list
// fails the whole call, as does ctx ending before every candidate was looked
// up. A failed per-VM lookup becomes an Item with Err set. Items are ordered by resource group and name.
func (l *Lister) List(ctx context.Context, f Filter) (Listing, error) {
	ctx, span := tracer.Start(ctx, "inventory.List")
	defer span.End()

	if f.ResourceGroup != "" && f.VMName != "" {
		return Listing{Items: []Item{l.lookup(ctx, f.ResourceGroup, f.VMName)}, Workers: 1}, nil
	}

	scope := f.ResourceGroup
	if f.Tag != "" {
		scope = ""
	}
	candidates, err := l.compute.ListVMs(ctx, scope)
	if err != nil {
		return Listing{}, fmt.Errorf("list vms: %w", err)
	}

	chunks := Partition(len(candidates), l.perWorker)
	span.SetAttributes(attribute.Int("inventory.candidates", len(candidates)), attribute.Int("inventory.workers", len(chunks)))
	l.logger.Debug().Int("candidates", len(candidates)).Int("workers", len(chunks)).Msg("enumerating vms")

	results := queue.New[Item]()
	var g errgroup.Group
	for _, c := range chunks {
		batch := candidates[c.Start:c.End]
		g.Go(func() error {
			for _, vm := range batch {
				if err := ctx.Err(); err != nil {
					return err
				}
				if f.Tag != "" && !hasTag(vm, f.Tag) {
					continue
				}
				rg, name, ok := identify(vm)
				if !ok {
					continue
				}
				results.Push(l.lookup(ctx, rg, name))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Listing{}, fmt.Errorf("list vms: %w", err)
	}

	items := results.Drain()
	sort.Slice(items, func(i, j int) bool {
		if items[i].ResourceGroup != items[j].ResourceGroup {
			return items[i].ResourceGroup < items[j].ResourceGroup
		}
		return items[i].Name < items[j].Name
	})
	return Listing{Items: items, Workers: len(chunks)}, nil
}

func (l *Lister) lookup(ctx context.Context, resourceGroup, name string) Item {
	item := Item{Name: name, ResourceGroup: resourceGroup}
	vm, err := l.compute.GetVM(ctx, resourceGroup, name, true)
	if err != nil {
		l.logger.Warn().Err(err).Str("resource_group", resourceGroup).Str("vm", name).Msg("vm lookup failed")
		item.Err = err
		return item
	}

	rec := &Record{Name: name, ResourceGroup: resourceGroup}
	if vm.Properties != nil {
		if vm.Properties.VMID != nil {
			rec.ID = *vm.Properties.VMID
		}
		if iv := vm.Properties.InstanceView; iv != nil {
			for _, s := range iv.Statuses {
				if s != nil && s.Code != nil {
					rec.Statuses = append(rec.Statuses, *s.Code)
				}
			}
		}
	}
	item.Record = rec
	return item
}

// identify extracts the resource group and name of a listed VM.
func identify(vm *armcompute.VirtualMachine) (resourceGroup, name string, ok bool) {
	if vm == nil || vm.ID == nil {
		return "", "", false
	}
	ref, err := cloud.ParseRef(*vm.ID)
	if err != nil {
		return "", "", false
	}
	return ref.ResourceGroup, ref.Name, true
}

func hasTag(vm *armcompute.VirtualMachine, tag string) bool {
	if vm == nil {
		return false
	}
	v, ok := vm.Tags[TagKey]
	return ok && v != nil && *v == tag
}
