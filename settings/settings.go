// Package settings reads the per-command credentials file: one "key value"
// pair per line.
package settings

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrMalformed is returned when any non-blank line does not hold a key and a
// value.
var ErrMalformed = errors.New("malformed settings file")

// DefaultMaxVMsPerWorker is the enumeration chunk size when the file does not
// set max_vm_count_in_thread.
const DefaultMaxVMsPerWorker = 5

// Settings holds the recognized keys of a credentials file.
type Settings struct {
	ClientID string `validate:"required"`
	Secret   string `validate:"required"`
	TenantID string `validate:"required"`

	MaxVMsPerWorker int `validate:"gte=1"`

	// Scheduled deletion.
	WebhookURL        string `validate:"omitempty,url"`
	Token             string
	JobsResourceGroup string
	JobCollection     string
	JobCollectionSKU  string
	CleanerWebhookURL string `validate:"omitempty,url"`
	CleanerFrequency  string
	CleanerInterval   int `validate:"gte=0"`

	KeyVaultScriptURL string `validate:"omitempty,url"`

	// ResourceManagerEndpoint overrides the public-cloud ARM endpoint.
	ResourceManagerEndpoint string `validate:"omitempty,url"`
}

var validate = validator.New()

// Load reads and validates the settings file at path. The file is read on
// every call.
func Load(path string) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open settings %s: %w", path, err)
	}
	defer f.Close()

	pairs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return FromMap(pairs)
}

// Parse splits r into key/value pairs. Blank lines are skipped. A line with
// fewer than two tokens invalidates the whole input.
func Parse(r io.Reader) (map[string]string, error) {
	pairs := make(map[string]string)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: line %d", ErrMalformed, lineNo)
		}
		pairs[fields[0]] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// FromMap builds typed settings from parsed pairs.
func FromMap(pairs map[string]string) (*Settings, error) {
	s := &Settings{
		ClientID:                pairs["client_id"],
		Secret:                  pairs["secret"],
		TenantID:                pairs["tenant_id"],
		MaxVMsPerWorker:         DefaultMaxVMsPerWorker,
		WebhookURL:              pairs["webhook_url"],
		Token:                   pairs["token"],
		JobsResourceGroup:       pairs["jobs_rg"],
		JobCollection:           pairs["job_collection"],
		JobCollectionSKU:        pairs["job_collection_sku"],
		CleanerWebhookURL:       pairs["clean_job_webhook_url"],
		CleanerFrequency:        pairs["job_frequency_type"],
		KeyVaultScriptURL:       pairs["key_vault_setup_script_url"],
		ResourceManagerEndpoint: pairs["resource_manager_endpoint"],
	}

	var err error
	if v, ok := pairs["max_vm_count_in_thread"]; ok {
		if s.MaxVMsPerWorker, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("%w: max_vm_count_in_thread %q is not a number", ErrMalformed, v)
		}
	}
	if v, ok := pairs["job_interval"]; ok {
		if s.CleanerInterval, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("%w: job_interval %q is not a number", ErrMalformed, v)
		}
	}

	if err := validate.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// CanScheduleDeletion reports whether the scheduler keys are all present.
func (s *Settings) CanScheduleDeletion() bool {
	return s.WebhookURL != "" && s.Token != "" && s.JobsResourceGroup != "" &&
		s.JobCollection != "" && s.CleanerWebhookURL != ""
}
