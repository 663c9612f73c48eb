package azure

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/keyvault/armkeyvault"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
)

type resourcesClient struct {
	groups    *armresources.ResourceGroupsClient
	providers *armresources.ProvidersClient
}

func (c *resourcesClient) CreateResourceGroup(ctx context.Context, name, location string) error {
	_, err := c.groups.CreateOrUpdate(ctx, name, armresources.ResourceGroup{Location: to.Ptr(location)}, nil)
	return err
}

func (c *resourcesClient) DeleteResourceGroup(ctx context.Context, name string) error {
	poller, err := c.groups.BeginDelete(ctx, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *resourcesClient) RegisterProvider(ctx context.Context, namespace string) error {
	_, err := c.providers.Register(ctx, namespace, nil)
	return err
}

type vaultClient struct {
	vaults *armkeyvault.VaultsClient
}

func (c *vaultClient) GrantAccess(ctx context.Context, resourceGroup, vault, tenantID, principalID string) error {
	params := armkeyvault.VaultAccessPolicyParameters{
		Properties: &armkeyvault.VaultAccessPolicyProperties{
			AccessPolicies: []*armkeyvault.AccessPolicyEntry{{
				TenantID: to.Ptr(tenantID),
				ObjectID: to.Ptr(principalID),
				Permissions: &armkeyvault.Permissions{
					Keys:         []*armkeyvault.KeyPermissions{to.Ptr(armkeyvault.KeyPermissionsAll)},
					Secrets:      []*armkeyvault.SecretPermissions{to.Ptr(armkeyvault.SecretPermissionsAll)},
					Certificates: []*armkeyvault.CertificatePermissions{to.Ptr(armkeyvault.CertificatePermissionsAll)},
				},
			}},
		},
	}
	_, err := c.vaults.UpdateAccessPolicy(ctx, resourceGroup, vault, armkeyvault.AccessPolicyUpdateKindAdd, params, nil)
	return err
}
