package gahp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cqnkjsx/htcondor/lifecycle"
)

// Validation errors. A line that fails with one of these is never queued.
var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrMissingParameter = errors.New("missing parameter")
	ErrInvalidParameter = errors.New("invalid parameter")
)

const deletionJobFlag = "deletionjob"

// Parameter names accepted by the create operations, keyed by their
// lower-cased form.
var (
	vmCreateKeys = keySet("name", "location", "image", "size", "dataDisks", "adminUsername",
		"key", "vnetName", "vnetRGName", "publicIPAddress", "customData", "tag", "ostype", "subnetName")
	scaleSetCreateKeys = keySet("name", "location", "image", "size", "dataDisks", "adminUsername",
		"key", "vnetName", "vnetRGName", "publicIPAddress", "customData", "tag", "ostype",
		"nodecount", "schedule", "keyvaultrg", "keyvaultname", "vaultkey")
	deletionJobKeys = keySet("rgName", "vmssName", "location", "schedule")
)

func keySet(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[strings.ToLower(n)] = true
	}
	return m
}

// Parse turns one protocol line into a Command.
func Parse(line string) (Command, error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return Command{}, fmt.Errorf("%w: empty line", ErrUnknownCommand)
	}
	kind, ok := ParseKind(tokens[0])
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, tokens[0])
	}
	if len(tokens) < 4 {
		return Command{}, fmt.Errorf("%w: %s needs REQUEST_ID CRED_FILE SUBSCRIPTION_ID", ErrMissingParameter, kind)
	}

	cmd := Command{
		Kind:           kind,
		RequestID:      tokens[1],
		CredentialRef:  tokens[2],
		SubscriptionID: tokens[3],
	}
	args := tokens[4:]

	var err error
	switch kind {
	case KindPing:
		cmd.Params = PingParams{}
	case KindVMCreate:
		cmd.Params, err = parseVMCreate(args)
	case KindVMDelete:
		cmd.Params, err = parseVMDelete(args)
	case KindVMList:
		cmd.Params, err = parseVMList(args)
	case KindScaleSetCreate:
		cmd.Params, err = parseScaleSetCreate(args)
	case KindScaleSetDelete, KindScaleSetStart, KindScaleSetStop, KindScaleSetRestart:
		cmd.Params, err = parseScaleSetTarget(kind, args)
	case KindScaleSetScale:
		cmd.Params, err = parseScaleSetScale(args)
	}
	if err != nil {
		return Command{}, fmt.Errorf("%s: %w", kind, err)
	}
	return cmd, nil
}

// keyValues splits key=value arguments on the first '='. Keys are matched
// case-insensitively against allowed and returned lower-cased.
func keyValues(args []string, allowed map[string]bool) (map[string]string, error) {
	kv := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, found := strings.Cut(arg, "=")
		if !found || k == "" {
			return nil, fmt.Errorf("%w: malformed argument %q", ErrInvalidParameter, arg)
		}
		k = strings.ToLower(k)
		if !allowed[k] {
			return nil, fmt.Errorf("%w: unrecognized parameter %q", ErrInvalidParameter, k)
		}
		kv[k] = v
	}
	return kv, nil
}

func parseMachine(kv map[string]string) (lifecycle.MachineSpec, error) {
	for _, k := range []string{"name", "location", "size", "image"} {
		if kv[k] == "" {
			return lifecycle.MachineSpec{}, fmt.Errorf("%w: %s", ErrMissingParameter, k)
		}
	}
	img, osType, ok := lifecycle.LookupImage(kv["image"])
	if !ok {
		return lifecycle.MachineSpec{}, fmt.Errorf("%w: unrecognized image %q", ErrInvalidParameter, kv["image"])
	}
	if osType == "" {
		osType = lifecycle.ParseOSType(kv["ostype"])
	}
	disks, err := parseDataDisks(kv["datadisks"])
	if err != nil {
		return lifecycle.MachineSpec{}, err
	}

	m := lifecycle.MachineSpec{
		Name:              kv["name"],
		Location:          kv["location"],
		Size:              kv["size"],
		Image:             img,
		OSType:            osType,
		AdminUsername:     kv["adminusername"],
		Key:               kv["key"],
		CustomData:        kv["customdata"],
		Tag:               kv["tag"],
		DataDisks:         disks,
		VNetName:          kv["vnetname"],
		VNetResourceGroup: kv["vnetrgname"],
	}
	if m.AdminUsername == "" {
		m.AdminUsername = lifecycle.DefaultAdminUsername
	}
	if m.Key == "" {
		m.Key = lifecycle.GeneratePassword()
	}
	return m, nil
}

func parseDataDisks(s string) ([]int32, error) {
	if s == "" {
		return nil, nil
	}
	var sizes []int32
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 32)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: data disk size %q", ErrInvalidParameter, part)
		}
		sizes = append(sizes, int32(n))
	}
	return sizes, nil
}

func wantsPublicIP(v string) bool {
	switch strings.ToLower(v) {
	case "false", "no", "none":
		return false
	}
	return true
}

func parseVMCreate(args []string) (Params, error) {
	kv, err := keyValues(args, vmCreateKeys)
	if err != nil {
		return nil, err
	}
	m, err := parseMachine(kv)
	if err != nil {
		return nil, err
	}
	return VMCreateParams{Spec: lifecycle.VMSpec{
		MachineSpec: m,
		SubnetName:  kv["subnetname"],
		PublicIP:    wantsPublicIP(kv["publicipaddress"]),
	}}, nil
}

func parseScaleSetCreate(args []string) (Params, error) {
	deletionJob := false
	rest := make([]string, 0, len(args))
	for _, a := range args {
		if strings.EqualFold(a, deletionJobFlag) {
			deletionJob = true
			continue
		}
		rest = append(rest, a)
	}
	kv, err := keyValues(rest, scaleSetCreateKeys)
	if err != nil {
		return nil, err
	}
	m, err := parseMachine(kv)
	if err != nil {
		return nil, err
	}

	spec := lifecycle.ScaleSetSpec{
		MachineSpec:           m,
		NodeCount:             1,
		KeyVaultResourceGroup: kv["keyvaultrg"],
		KeyVaultName:          kv["keyvaultname"],
		SecretName:            kv["vaultkey"],
		DeletionJob:           deletionJob,
	}
	if v, ok := kv["nodecount"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: nodecount %q", ErrInvalidParameter, v)
		}
		spec.NodeCount = n
	}
	if deletionJob {
		spec.Schedule = kv["schedule"]
		if spec.Schedule == "" {
			return nil, fmt.Errorf("%w: DeletionJob needs schedule=now or schedule=YYYYMMDDHHMM", ErrMissingParameter)
		}
		if err := checkSchedule(spec.Schedule); err != nil {
			return nil, err
		}
	}
	return ScaleSetCreateParams{Spec: spec}, nil
}

func parseVMDelete(args []string) (Params, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: resource group", ErrMissingParameter)
	}
	p := VMDeleteParams{ResourceGroup: args[0]}
	if len(args) > 1 {
		p.VMName = args[1]
	}
	return p, nil
}

func parseVMList(args []string) (Params, error) {
	switch {
	case len(args) >= 2:
		return VMListParams{ResourceGroup: args[0], VMName: args[1]}, nil
	case len(args) == 1:
		k, v, found := strings.Cut(args[0], "=")
		if !found {
			return VMListParams{ResourceGroup: args[0]}, nil
		}
		if !strings.EqualFold(k, "tag") || v == "" {
			return nil, fmt.Errorf("%w: %q, want tag=VALUE", ErrInvalidParameter, args[0])
		}
		return VMListParams{Tag: v}, nil
	}
	return VMListParams{}, nil
}

func parseScaleSetTarget(kind Kind, args []string) (Params, error) {
	if len(args) > 0 && strings.EqualFold(args[0], deletionJobFlag) {
		if kind != KindScaleSetDelete {
			return nil, fmt.Errorf("%w: DeletionJob only applies to %s", ErrInvalidParameter, KindScaleSetDelete)
		}
		return parseDeletionJob(args[1:])
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: resource group", ErrMissingParameter)
	}
	p := ScaleSetTargetParams{ResourceGroup: args[0]}
	if len(args) > 1 {
		p.Name = args[1]
	}
	if p.Name == "" && kind != KindScaleSetDelete {
		return nil, fmt.Errorf("%w: scale set name", ErrMissingParameter)
	}
	return p, nil
}

func parseDeletionJob(args []string) (Params, error) {
	kv, err := keyValues(args, deletionJobKeys)
	if err != nil {
		return nil, err
	}
	for _, k := range []string{"rgname", "location", "schedule"} {
		if kv[k] == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingParameter, k)
		}
	}
	if err := checkSchedule(kv["schedule"]); err != nil {
		return nil, err
	}
	req := &lifecycle.DeletionRequest{
		ResourceGroup: kv["rgname"],
		ScaleSetName:  kv["vmssname"],
		Location:      kv["location"],
		Schedule:      kv["schedule"],
	}
	return ScaleSetTargetParams{ResourceGroup: req.ResourceGroup, Name: req.ScaleSetName, Deletion: req}, nil
}

func checkSchedule(s string) error {
	if _, _, err := lifecycle.ParseSchedule(s, time.Now()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	return nil
}

func parseScaleSetScale(args []string) (Params, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("%w: want RESOURCE_GROUP NAME COUNT", ErrMissingParameter)
	}
	n, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: node count %q", ErrInvalidParameter, args[2])
	}
	p := ScaleSetScaleParams{ResourceGroup: args[0], Name: args[1], NodeCount: n, Requested: n}
	if p.NodeCount < 1 {
		p.NodeCount = 1
	}
	return p, nil
}
