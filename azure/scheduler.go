package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"

	"github.com/cqnkjsx/htcondor/cloud"
)

const (
	schedulerModule     = "github.com/cqnkjsx/htcondor/azure"
	schedulerVersion    = "v1.0.0"
	schedulerAPIVersion = "2016-03-01"
)

// schedulerClient speaks the Microsoft.Scheduler REST API over the ARM
// pipeline. The SDK ships no typed client for it.
type schedulerClient struct {
	internal       *arm.Client
	subscriptionID string
}

func newSchedulerClient(subscriptionID string, cred azcore.TokenCredential, opts *arm.ClientOptions) (*schedulerClient, error) {
	if subscriptionID == "" {
		return nil, errors.New("scheduler: subscription id is required")
	}
	cl, err := arm.NewClient(schedulerModule, schedulerVersion, cred, opts)
	if err != nil {
		return nil, err
	}
	return &schedulerClient{internal: cl, subscriptionID: subscriptionID}, nil
}

func (c *schedulerClient) collectionPath(resourceGroup, collection string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Scheduler/jobCollections/%s",
		url.PathEscape(c.subscriptionID), url.PathEscape(resourceGroup), url.PathEscape(collection))
}

func (c *schedulerClient) CreateJobCollection(ctx context.Context, resourceGroup, name string, collection cloud.JobCollection) error {
	return c.send(ctx, http.MethodPut, c.collectionPath(resourceGroup, name), collection, http.StatusOK, http.StatusCreated)
}

func (c *schedulerClient) CreateJob(ctx context.Context, resourceGroup, collection, name string, job cloud.Job) error {
	path := c.collectionPath(resourceGroup, collection) + "/jobs/" + url.PathEscape(name)
	return c.send(ctx, http.MethodPut, path, job, http.StatusOK, http.StatusCreated)
}

func (c *schedulerClient) RunJob(ctx context.Context, resourceGroup, collection, name string) error {
	path := c.collectionPath(resourceGroup, collection) + "/jobs/" + url.PathEscape(name) + "/run"
	return c.send(ctx, http.MethodPost, path, nil, http.StatusOK, http.StatusAccepted, http.StatusNoContent)
}

func (c *schedulerClient) send(ctx context.Context, method, path string, body any, statusCodes ...int) error {
	req, err := runtime.NewRequest(ctx, method, runtime.JoinPaths(c.internal.Endpoint(), path))
	if err != nil {
		return err
	}
	q := req.Raw().URL.Query()
	q.Set("api-version", schedulerAPIVersion)
	req.Raw().URL.RawQuery = q.Encode()
	req.Raw().Header["Accept"] = []string{"application/json"}
	if body != nil {
		if err := runtime.MarshalAsJSON(req, body); err != nil {
			return err
		}
	}

	resp, err := c.internal.Pipeline().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if !runtime.HasStatusCode(resp, statusCodes...) {
		return runtime.NewResponseError(resp)
	}
	return nil
}
