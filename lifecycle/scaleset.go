package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v7"
	"go.opentelemetry.io/otel/attribute"
)

// ScaleSetConfig carries the credential-file settings scale-set creation
// needs.
type ScaleSetConfig struct {
	Scheduler SchedulerConfig
	// SecretScriptURL is the script instances run to fetch a vault secret.
	SecretScriptURL string
	TenantID        string
}

// CreateScaleSet provisions a load-balanced scale set. When a deletion job is
// requested, deletion of the whole group is scheduled first, and instances are
// given access to a vault secret afterwards.
func (o *Orchestrator) CreateScaleSet(ctx context.Context, spec ScaleSetSpec, cfg ScaleSetConfig) error {
	ctx, span := tracer.Start(ctx, "lifecycle.CreateScaleSet")
	defer span.End()
	span.SetAttributes(
		attribute.String("vmss.name", spec.ScaleSetName()),
		attribute.Int64("vmss.capacity", spec.NodeCount),
	)

	rg := spec.ResourceGroup()
	name := spec.ScaleSetName()
	log := o.logger.With().Str("resource_group", rg).Str("vmss", name).Logger()

	wantsSecret := spec.KeyVaultResourceGroup != "" && spec.wantsSecret(cfg.SecretScriptURL)
	if spec.DeletionJob || wantsSecret {
		if err := o.registerProviders(ctx); err != nil {
			return err
		}
	}

	if spec.DeletionJob {
		err := o.ScheduleDeletion(ctx, DeletionRequest{
			ResourceGroup: rg,
			Location:      spec.Location,
			Schedule:      spec.Schedule,
		}, cfg.Scheduler)
		if err != nil {
			return err
		}
	}

	log.Info().Msg("creating resource group")
	if err := o.cloud.Resources.CreateResourceGroup(ctx, rg, spec.Location); err != nil {
		return fmt.Errorf("create resource group %s: %w", rg, err)
	}

	var subnet armnetwork.Subnet
	var err error
	if spec.usesExistingVNet() {
		log.Info().Str("vnet", spec.VNetName).Msg("using existing vnet")
		var found *armnetwork.Subnet
		var vnet armnetwork.VirtualNetwork
		found, vnet, err = o.existingSubnet(ctx, spec.VNetResourceGroup, spec.VNetName, "")
		switch {
		case err != nil:
		case found != nil:
			subnet = *found
		default:
			subnet, err = o.addSubnet(ctx, spec.VNetResourceGroup, vnet, spec.VNetName, spec.SubnetName())
		}
	} else {
		subnet, err = o.createNetwork(ctx, rg, spec.Location, spec.vnetName(), spec.SubnetName())
	}
	if err != nil {
		return err
	}
	if subnet.ID == nil {
		return errors.New("subnet has no id")
	}

	lb, err := o.createLoadBalancer(ctx, spec)
	if err != nil {
		return err
	}

	// The staged image stays: scale-out needs it after creation.
	var imageID string
	if spec.Image.IsVHD() {
		if imageID, err = o.stageImage(ctx, spec.MachineSpec); err != nil {
			return err
		}
	}

	params, err := scaleSetParameters(spec, *subnet.ID, lb, imageID, cfg.SecretScriptURL)
	if err != nil {
		return fmt.Errorf("build scale set parameters: %w", err)
	}
	log.Info().Int64("capacity", spec.NodeCount).Msg("creating scale set")
	vmss, err := o.cloud.Compute.CreateOrUpdateScaleSet(ctx, rg, name, params)
	if err != nil {
		return fmt.Errorf("create scale set %s: %w", name, err)
	}

	if wantsSecret && vmss.Identity != nil && vmss.Identity.PrincipalID != nil {
		if err := o.installSecret(ctx, spec, cfg, *vmss.Identity.PrincipalID); err != nil {
			return err
		}
	}

	log.Info().Msg("scale set created")
	return nil
}

// installSecret grants the scale set's identity vault access, waits for the
// instances to settle, then rolls the download script out to them.
func (o *Orchestrator) installSecret(ctx context.Context, spec ScaleSetSpec, cfg ScaleSetConfig, principalID string) error {
	rg := spec.ResourceGroup()
	name := spec.ScaleSetName()

	o.logger.Info().Str("vault", spec.KeyVaultName).Msg("adding vault access policy")
	if err := o.cloud.Vaults.GrantAccess(ctx, spec.KeyVaultResourceGroup, spec.KeyVaultName, cfg.TenantID, principalID); err != nil {
		return fmt.Errorf("grant vault access on %s: %w", spec.KeyVaultName, err)
	}

	if err := o.AwaitScaleSetStable(ctx, rg, name); err != nil {
		return err
	}

	extName := name + "_downloadsecret"
	o.logger.Info().Str("extension", extName).Msg("installing secret download extension")
	if err := o.cloud.Compute.CreateOrUpdateScaleSetExtension(ctx, rg, name, extName, secretExtension(spec, cfg.SecretScriptURL, cfg.TenantID)); err != nil {
		return fmt.Errorf("install extension %s: %w", extName, err)
	}

	ids, err := o.cloud.Compute.ListScaleSetInstanceIDs(ctx, rg, name)
	if err != nil {
		return fmt.Errorf("list scale set instances: %w", err)
	}
	o.logger.Info().Int("instances", len(ids)).Msg("updating instances to latest model")
	if err := o.cloud.Compute.UpdateScaleSetInstances(ctx, rg, name, ids); err != nil {
		return fmt.Errorf("update scale set instances: %w", err)
	}
	return nil
}

// DeleteScaleSet deletes one scale set, or the whole resource group when name
// is empty.
func (o *Orchestrator) DeleteScaleSet(ctx context.Context, resourceGroup, name string) error {
	ctx, span := tracer.Start(ctx, "lifecycle.DeleteScaleSet")
	defer span.End()

	if name == "" {
		return o.DeleteResourceGroup(ctx, resourceGroup)
	}
	o.logger.Info().Str("resource_group", resourceGroup).Str("vmss", name).Msg("deleting scale set")
	if err := o.cloud.Compute.DeleteScaleSet(ctx, resourceGroup, name); err != nil {
		return fmt.Errorf("delete scale set %s: %w", name, err)
	}
	return nil
}

// StartScaleSet starts every instance.
func (o *Orchestrator) StartScaleSet(ctx context.Context, resourceGroup, name string) error {
	ctx, span := tracer.Start(ctx, "lifecycle.StartScaleSet")
	defer span.End()

	o.logger.Info().Str("resource_group", resourceGroup).Str("vmss", name).Msg("starting scale set")
	if err := o.cloud.Compute.StartScaleSet(ctx, resourceGroup, name); err != nil {
		return fmt.Errorf("start scale set %s: %w", name, err)
	}
	return nil
}

// StopScaleSet deallocates every instance so compute is no longer billed.
func (o *Orchestrator) StopScaleSet(ctx context.Context, resourceGroup, name string) error {
	ctx, span := tracer.Start(ctx, "lifecycle.StopScaleSet")
	defer span.End()

	o.logger.Info().Str("resource_group", resourceGroup).Str("vmss", name).Msg("stopping scale set")
	if err := o.cloud.Compute.DeallocateScaleSet(ctx, resourceGroup, name); err != nil {
		return fmt.Errorf("stop scale set %s: %w", name, err)
	}
	return nil
}

// RestartScaleSet restarts every instance.
func (o *Orchestrator) RestartScaleSet(ctx context.Context, resourceGroup, name string) error {
	ctx, span := tracer.Start(ctx, "lifecycle.RestartScaleSet")
	defer span.End()

	o.logger.Info().Str("resource_group", resourceGroup).Str("vmss", name).Msg("restarting scale set")
	if err := o.cloud.Compute.RestartScaleSet(ctx, resourceGroup, name); err != nil {
		return fmt.Errorf("restart scale set %s: %w", name, err)
	}
	return nil
}

// ScaleScaleSet sets the instance count of a scale set.
func (o *Orchestrator) ScaleScaleSet(ctx context.Context, resourceGroup, name string, capacity int64) error {
	ctx, span := tracer.Start(ctx, "lifecycle.ScaleScaleSet")
	defer span.End()
	span.SetAttributes(attribute.Int64("vmss.capacity", capacity))

	vmss, err := o.cloud.Compute.GetScaleSet(ctx, resourceGroup, name)
	if err != nil {
		return fmt.Errorf("get scale set %s: %w", name, err)
	}
	if vmss.SKU == nil {
		return fmt.Errorf("scale set %s has no sku", name)
	}
	vmss.SKU.Capacity = to.Ptr(capacity)

	o.logger.Info().Str("resource_group", resourceGroup).Str("vmss", name).Int64("capacity", capacity).Msg("scaling scale set")
	if _, err := o.cloud.Compute.CreateOrUpdateScaleSet(ctx, resourceGroup, name, vmss); err != nil {
		return fmt.Errorf("scale scale set %s: %w", name, err)
	}
	return nil
}
