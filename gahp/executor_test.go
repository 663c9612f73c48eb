package gahp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v6"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqnkjsx/htcondor/cloud"
	"github.com/cqnkjsx/htcondor/cloud/cloudtest"
	"github.com/cqnkjsx/htcondor/lifecycle"
	"github.com/cqnkjsx/htcondor/settings"
)

const baseCredentials = `client_id 11111111-2222-3333-4444-555555555555
secret s3cr3t
tenant_id 99999999-8888-7777-6666-555555555555
max_vm_count_in_thread 2
`

const schedulerCredentials = `webhook_url https://hooks.example.com/delete
clean_job_webhook_url https://hooks.example.com/clean
token tok
jobs_rg jobsrg
job_collection jobs
job_collection_sku standard
job_frequency_type hour
job_interval 1
`

func writeCredentials(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "azure.creds")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestExecutor(t *testing.T) (*Executor, *cloudtest.Fake) {
	t.Helper()
	fake := cloudtest.New()
	factory := func(s *settings.Settings, subscriptionID string) (cloud.Clients, error) {
		return fake.Clients(), nil
	}
	opts := lifecycle.Options{Poll: lifecycle.PollConfig{Interval: time.Millisecond, Timeout: time.Second}}
	return NewExecutor(factory, opts, zerolog.Nop()), fake
}

func run(t *testing.T, e *Executor, line string) Outcome {
	t.Helper()
	cmd, err := Parse(line)
	require.NoError(t, err)
	return e.Execute(testContext(t), cmd)
}

func seedListedVM(fake *cloudtest.Fake, rg, name string, codes ...string) {
	vm := armcompute.VirtualMachine{
		ID:   to.Ptr(cloudtest.ID(rg, "Microsoft.Compute", "virtualMachines", name)),
		Name: to.Ptr(name),
		Properties: &armcompute.VirtualMachineProperties{
			VMID:         to.Ptr("id-" + name),
			InstanceView: &armcompute.VirtualMachineInstanceView{},
		},
	}
	for _, c := range codes {
		vm.Properties.InstanceView.Statuses = append(vm.Properties.InstanceView.Statuses, &armcompute.InstanceViewStatus{Code: to.Ptr(c)})
	}
	fake.VMs[cloudtest.Key(rg, name)] = vm
}

func TestExecutePing(t *testing.T) {
	e, fake := newTestExecutor(t)
	creds := writeCredentials(t, baseCredentials)

	out := run(t, e, "AZURE_PING r1 "+creds+" sub1")
	require.NoError(t, out.Err)
	assert.Equal(t, []string{"NULL"}, out.Lines)
	assert.Len(t, fake.Providers, 2)
}

func TestExecuteUnreadableCredentials(t *testing.T) {
	e, fake := newTestExecutor(t)

	out := run(t, e, "AZURE_PING r1 "+filepath.Join(t.TempDir(), "missing")+" sub1")
	require.Error(t, out.Err)
	require.Len(t, out.Lines, 1)
	assert.True(t, strings.HasPrefix(out.Lines[0], `read\ credentials`), out.Lines[0])
	assert.Empty(t, fake.Calls())
}

func TestExecuteMalformedCredentials(t *testing.T) {
	e, fake := newTestExecutor(t)
	creds := writeCredentials(t, "client_id\nsecret s\ntenant_id t\n")

	out := run(t, e, "AZURE_VM_LIST r1 "+creds+" sub1")
	require.ErrorIs(t, out.Err, settings.ErrMalformed)
	assert.Empty(t, fake.Calls())
}

func TestExecuteClientFactoryFailure(t *testing.T) {
	factory := func(*settings.Settings, string) (cloud.Clients, error) {
		return cloud.Clients{}, errors.New("bad tenant")
	}
	e := NewExecutor(factory, lifecycle.Options{}, zerolog.Nop())
	creds := writeCredentials(t, baseCredentials)

	out := run(t, e, "AZURE_PING r1 "+creds+" sub1")
	require.Error(t, out.Err)
	assert.Equal(t, []string{`create\ clients:\ bad\ tenant`}, out.Lines)
}

func TestExecuteVMCreate(t *testing.T) {
	e, fake := newTestExecutor(t)
	creds := writeCredentials(t, baseCredentials)

	out := run(t, e, "AZURE_VM_CREATE r1 "+creds+" sub1 name=foo location=eastus size=Standard_A1 image=linux-ubuntu-latest")
	require.NoError(t, out.Err)
	assert.Equal(t, []string{"NULL vmid-foovm " + cloudtest.PublicIP}, out.Lines)
	assert.Contains(t, fake.VMs, cloudtest.Key("foo", "foovm"))
}

func TestExecuteVMCreateWithoutPublicIP(t *testing.T) {
	e, _ := newTestExecutor(t)
	creds := writeCredentials(t, baseCredentials)

	out := run(t, e, "AZURE_VM_CREATE r1 "+creds+" sub1 name=foo location=eastus size=Standard_A1 image=linux-ubuntu-latest publicIPAddress=none")
	require.NoError(t, out.Err)
	assert.Equal(t, []string{"NULL vmid-foovm NULL"}, out.Lines)
}

func TestExecuteVMDeleteGroup(t *testing.T) {
	e, fake := newTestExecutor(t)
	creds := writeCredentials(t, baseCredentials)

	out := run(t, e, "AZURE_VM_DELETE r1 "+creds+" sub1 rg1")
	require.NoError(t, out.Err)
	assert.Equal(t, []string{"NULL"}, out.Lines)
	assert.Equal(t, []string{"rg1"}, fake.DeletedGroups)
	assert.Zero(t, fake.CallCount("DeleteVM"))
}

func TestExecuteVMDeleteFailureIsDescribed(t *testing.T) {
	e, fake := newTestExecutor(t)
	creds := writeCredentials(t, baseCredentials)
	seedListedVM(fake, "rg1", "vm1")
	fake.FailOn("DeleteVM", errors.New("conflict: vm is locked"))

	out := run(t, e, "AZURE_VM_DELETE r1 "+creds+" sub1 rg1 vm1")
	require.Error(t, out.Err)
	require.Len(t, out.Lines, 1)
	assert.Equal(t, `id-vm1 NULL delete\ vm\ vm1:\ conflict:\ vm\ is\ locked`, out.Lines[0])
	assert.Empty(t, fake.DeletedGroups)
}

func TestExecuteVMList(t *testing.T) {
	e, fake := newTestExecutor(t)
	creds := writeCredentials(t, baseCredentials)
	seedListedVM(fake, "rg1", "a", "ProvisioningState/succeeded", "PowerState/running")
	seedListedVM(fake, "rg1", "b", "ProvisioningState/updating")
	seedListedVM(fake, "rg1", "c")

	out := run(t, e, "AZURE_VM_LIST r1 "+creds+" sub1 rg1")
	require.NoError(t, out.Err)
	assert.Equal(t, []string{
		"NULL 3 rg1 ProvisioningState/succeeded,PowerState/running rg1 ProvisioningState/updating rg1 ",
	}, out.Lines)
}

func TestExecuteVMListItemFailure(t *testing.T) {
	e, _ := newTestExecutor(t)
	creds := writeCredentials(t, baseCredentials)

	out := run(t, e, "AZURE_VM_LIST r1 "+creds+" sub1 rg1 ghost")
	require.NoError(t, out.Err)
	require.Len(t, out.Lines, 2)
	assert.True(t, strings.HasPrefix(out.Lines[0], "NULL NULL "), out.Lines[0])
	assert.NotContains(t, out.Lines[0], "\n")
	assert.Equal(t, "NULL 0", out.Lines[1])
}

func TestExecuteScaleSetCreate(t *testing.T) {
	e, fake := newTestExecutor(t)
	creds := writeCredentials(t, baseCredentials)

	out := run(t, e, "AZURE_VMSS_CREATE r1 "+creds+" sub1 name=foo location=eastus size=Standard_D2s_v3 image=linux-ubuntu-latest nodecount=3")
	require.NoError(t, out.Err)
	assert.Equal(t, []string{"NULL"}, out.Lines)

	vmss := fake.ScaleSets[cloudtest.Key("foo", "foovmss")]
	require.NotNil(t, vmss.SKU)
	assert.Equal(t, int64(3), *vmss.SKU.Capacity)
}

func TestExecuteScheduledScaleSetDelete(t *testing.T) {
	e, fake := newTestExecutor(t)
	creds := writeCredentials(t, baseCredentials+schedulerCredentials)

	out := run(t, e, "AZURE_VMSS_DELETE r1 "+creds+" sub1 DeletionJob rgName=rg1 vmssName=foovmss location=eastus schedule=now")
	require.NoError(t, out.Err)
	assert.Equal(t, []string{"NULL"}, out.Lines)
	assert.Contains(t, fake.Jobs, cloudtest.Key("jobsrg", "jobs/rg1job"))
	assert.Equal(t, []string{"jobsrg/jobs/rg1job"}, fake.Runs)
	assert.Zero(t, fake.CallCount("DeleteScaleSet"))
	assert.Empty(t, fake.DeletedGroups)
}

func TestExecuteScheduledScaleSetDeleteWithoutToken(t *testing.T) {
	e, fake := newTestExecutor(t)
	creds := writeCredentials(t, baseCredentials+strings.Replace(schedulerCredentials, "token tok\n", "", 1))

	out := run(t, e, "AZURE_VMSS_DELETE r1 "+creds+" sub1 DeletionJob rgName=rg1 vmssName=foovmss location=eastus schedule=now")
	require.Error(t, out.Err)
	require.Len(t, out.Lines, 1)
	assert.Contains(t, out.Lines[0], "token")
	assert.Empty(t, fake.Jobs)
	assert.Empty(t, fake.Calls())
}

func TestExecuteScaleSetActions(t *testing.T) {
	e, fake := newTestExecutor(t)
	creds := writeCredentials(t, baseCredentials)
	fake.ScaleSets[cloudtest.Key("rg1", "foovmss")] = armcompute.VirtualMachineScaleSet{
		SKU: &armcompute.SKU{Name: to.Ptr("Standard_A1"), Capacity: to.Ptr[int64](2)},
	}

	for _, line := range []string{
		"AZURE_VMSS_START r1 " + creds + " sub1 rg1 foovmss",
		"AZURE_VMSS_STOP r2 " + creds + " sub1 rg1 foovmss",
		"AZURE_VMSS_RESTART r3 " + creds + " sub1 rg1 foovmss",
		"AZURE_VMSS_SCALE r4 " + creds + " sub1 rg1 foovmss 0",
	} {
		out := run(t, e, line)
		require.NoError(t, out.Err, line)
		assert.Equal(t, []string{"NULL"}, out.Lines)
	}
	assert.Equal(t, 1, fake.CallCount("StartScaleSet"))
	assert.Equal(t, 1, fake.CallCount("DeallocateScaleSet"))
	assert.Equal(t, 1, fake.CallCount("RestartScaleSet"))
	assert.Equal(t, int64(1), *fake.ScaleSets[cloudtest.Key("rg1", "foovmss")].SKU.Capacity)

	out := run(t, e, "AZURE_VMSS_DELETE r5 "+creds+" sub1 rg1 foovmss")
	require.NoError(t, out.Err)
	assert.Empty(t, fake.DeletedGroups)
}

func TestExecuteScaleSetMissing(t *testing.T) {
	e, _ := newTestExecutor(t)
	creds := writeCredentials(t, baseCredentials)

	out := run(t, e, "AZURE_VMSS_START r1 "+creds+" sub1 rg1 nosuchvmss")
	require.Error(t, out.Err)
	assert.True(t, cloud.IsNotFound(out.Err))
	require.Len(t, out.Lines, 1)
	assert.NotContains(t, out.Lines[0], "\n")
}
