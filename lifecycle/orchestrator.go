// Package lifecycle sequences the multi-step create and delete operations for
// virtual machines and scale sets.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/cqnkjsx/htcondor/cloud"
)

var tracer = otel.Tracer("github.com/cqnkjsx/htcondor/lifecycle")

// Providers registered before scheduler or key-vault use.
var requiredProviders = []string{"Microsoft.Scheduler", "Microsoft.KeyVault"}

// Options tunes an Orchestrator.
type Options struct {
	Poll PollConfig
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator runs lifecycle operations against one set of cloud clients.
// It holds no state between calls.
type Orchestrator struct {
	cloud  cloud.Clients
	poll   PollConfig
	now    func() time.Time
	logger zerolog.Logger
}

// New returns an Orchestrator over clients.
func New(clients cloud.Clients, opts Options, logger zerolog.Logger) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		cloud:  clients,
		poll:   opts.Poll.withDefaults(),
		now:    now,
		logger: logger,
	}
}

// Ping verifies the credentials by registering the resource providers the
// scale-set workflow depends on.
func (o *Orchestrator) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "lifecycle.Ping")
	defer span.End()
	return o.registerProviders(ctx)
}

func (o *Orchestrator) registerProviders(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, ns := range requiredProviders {
		g.Go(func() error {
			if err := o.cloud.Resources.RegisterProvider(ctx, ns); err != nil {
				return fmt.Errorf("register provider %s: %w", ns, err)
			}
			o.logger.Debug().Str("provider", ns).Msg("provider registered")
			return nil
		})
	}
	return g.Wait()
}

// DescribeVM looks up the provider-assigned id and public IP of a VM. It is
// best-effort: lookups that fail leave the field empty.
func (o *Orchestrator) DescribeVM(ctx context.Context, resourceGroup, name string) (vmID, publicIP string) {
	vm, err := o.cloud.Compute.GetVM(ctx, resourceGroup, name, false)
	if err != nil {
		o.logger.Debug().Err(err).Str("vm", name).Msg("describe: vm lookup failed")
		return "", ""
	}
	if vm.Properties == nil {
		return "", ""
	}
	if vm.Properties.VMID != nil {
		vmID = *vm.Properties.VMID
	}
	if vm.Properties.NetworkProfile == nil {
		return vmID, ""
	}
	for _, ref := range vm.Properties.NetworkProfile.NetworkInterfaces {
		if ref == nil || ref.ID == nil {
			continue
		}
		if ip := o.interfacePublicIP(ctx, *ref.ID); ip != "" {
			return vmID, ip
		}
	}
	return vmID, ""
}

func (o *Orchestrator) interfacePublicIP(ctx context.Context, nicID string) string {
	nicRef, err := cloud.ParseRef(nicID)
	if err != nil {
		return ""
	}
	nic, err := o.cloud.Network.GetInterface(ctx, nicRef.ResourceGroup, nicRef.Name)
	if err != nil || nic.Properties == nil {
		return ""
	}
	for _, ipc := range nic.Properties.IPConfigurations {
		if ipc == nil || ipc.Properties == nil || ipc.Properties.PublicIPAddress == nil || ipc.Properties.PublicIPAddress.ID == nil {
			continue
		}
		ipRef, err := cloud.ParseRef(*ipc.Properties.PublicIPAddress.ID)
		if err != nil {
			continue
		}
		pip, err := o.cloud.Network.GetPublicIP(ctx, ipRef.ResourceGroup, ipRef.Name)
		if err == nil && pip.Properties != nil && pip.Properties.IPAddress != nil {
			return *pip.Properties.IPAddress
		}
	}
	return ""
}
