package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validFile = `client_id 11111111-2222-3333-4444-555555555555
secret s3cr3t
tenant_id tenant-1

max_vm_count_in_thread 10
webhook_url https://hooks.example.com/delete
token abc
jobs_rg jobsrg
job_collection jobs
job_collection_sku standard
clean_job_webhook_url https://hooks.example.com/clean
job_frequency_type hour
job_interval 2
custom_key custom_value
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "creds")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	s, err := Load(writeFile(t, validFile))
	require.NoError(t, err)

	assert.Equal(t, "11111111-2222-3333-4444-555555555555", s.ClientID)
	assert.Equal(t, "s3cr3t", s.Secret)
	assert.Equal(t, "tenant-1", s.TenantID)
	assert.Equal(t, 10, s.MaxVMsPerWorker)
	assert.Equal(t, 2, s.CleanerInterval)
	assert.Equal(t, "hour", s.CleanerFrequency)
	assert.True(t, s.CanScheduleDeletion())
}

func TestLoadDefaults(t *testing.T) {
	s, err := Load(writeFile(t, "client_id a\nsecret b\ntenant_id c\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxVMsPerWorker, s.MaxVMsPerWorker)
	assert.False(t, s.CanScheduleDeletion())
}

func TestParseMalformedLine(t *testing.T) {
	_, err := Parse(strings.NewReader("client_id a\nsecret\ntenant_id c\n"))
	require.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "line 2")
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(writeFile(t, "client_id a\nsecret b\ntenant_id\n"))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestLoadBadNumber(t *testing.T) {
	_, err := Load(writeFile(t, "client_id a\nsecret b\ntenant_id c\nmax_vm_count_in_thread many\n"))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(writeFile(t, "client_id a\nsecret b\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TenantID")
}

func TestLoadZeroPerWorker(t *testing.T) {
	_, err := Load(writeFile(t, "client_id a\nsecret b\ntenant_id c\nmax_vm_count_in_thread 0\n"))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}
