// Package azure implements the cloud interfaces with the Azure SDK for Go.
package azure

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	azcloud "github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v6"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/keyvault/armkeyvault"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v7"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"

	"github.com/cqnkjsx/htcondor/cloud"
	"github.com/cqnkjsx/htcondor/settings"
)

type fakeCredential struct{}

func (f *fakeCredential) GetToken(_ context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: "fake-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

// NewClients authenticates with the service principal from s and builds
// every management client for subscriptionID.
func NewClients(s *settings.Settings, subscriptionID string) (cloud.Clients, error) {
	var opts *arm.ClientOptions
	if s.ResourceManagerEndpoint != "" {
		opts = endpointOptions(s.ResourceManagerEndpoint)
	}

	var credOpts *azidentity.ClientSecretCredentialOptions
	if opts != nil {
		credOpts = &azidentity.ClientSecretCredentialOptions{ClientOptions: opts.ClientOptions}
	}
	cred, err := azidentity.NewClientSecretCredential(s.TenantID, s.ClientID, s.Secret, credOpts)
	if err != nil {
		return cloud.Clients{}, fmt.Errorf("create credential: %w", err)
	}
	return newClients(subscriptionID, cred, opts)
}

// NewSimulatorClients targets an ARM-compatible endpoint with a static token.
func NewSimulatorClients(subscriptionID, endpointURL string) (cloud.Clients, error) {
	return newClients(subscriptionID, &fakeCredential{}, endpointOptions(endpointURL))
}

func endpointOptions(endpointURL string) *arm.ClientOptions {
	return &arm.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Cloud: azcloud.Configuration{
				ActiveDirectoryAuthorityHost: azcloud.AzurePublic.ActiveDirectoryAuthorityHost,
				Services: map[azcloud.ServiceName]azcloud.ServiceConfiguration{
					azcloud.ResourceManager: {
						Endpoint: endpointURL,
						Audience: "https://management.azure.com/",
					},
				},
			},
			InsecureAllowCredentialWithHTTP: true,
		},
	}
}

func newClients(subscriptionID string, cred azcore.TokenCredential, opts *arm.ClientOptions) (cloud.Clients, error) {
	compute, err := armcompute.NewClientFactory(subscriptionID, cred, opts)
	if err != nil {
		return cloud.Clients{}, err
	}
	network, err := armnetwork.NewClientFactory(subscriptionID, cred, opts)
	if err != nil {
		return cloud.Clients{}, err
	}
	resources, err := armresources.NewClientFactory(subscriptionID, cred, opts)
	if err != nil {
		return cloud.Clients{}, err
	}
	vaults, err := armkeyvault.NewVaultsClient(subscriptionID, cred, opts)
	if err != nil {
		return cloud.Clients{}, err
	}
	scheduler, err := newSchedulerClient(subscriptionID, cred, opts)
	if err != nil {
		return cloud.Clients{}, err
	}

	return cloud.Clients{
		Compute:   newComputeClient(compute),
		Network:   newNetworkClient(network),
		Resources: &resourcesClient{groups: resources.NewResourceGroupsClient(), providers: resources.NewProvidersClient()},
		Vaults:    &vaultClient{vaults: vaults},
		Scheduler: scheduler,
	}, nil
}
