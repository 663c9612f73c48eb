package gahp

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cqnkjsx/htcondor/cloud"
	"github.com/cqnkjsx/htcondor/inventory"
	"github.com/cqnkjsx/htcondor/lifecycle"
	"github.com/cqnkjsx/htcondor/settings"
)

var tracer = otel.Tracer("github.com/cqnkjsx/htcondor/gahp")

const null = "NULL"

// ClientFactory builds cloud clients for one command from its settings.
type ClientFactory func(s *settings.Settings, subscriptionID string) (cloud.Clients, error)

// Outcome is what one executed command reports. Lines are result payloads
// without the request id; Err is the failure, if any, for logging and
// metrics.
type Outcome struct {
	Lines []string
	Err   error
}

// Runner executes a parsed command to completion.
type Runner interface {
	Execute(ctx context.Context, cmd Command) Outcome
}

// Executor runs commands against the cloud. Settings and clients are built
// fresh for every command.
type Executor struct {
	factory ClientFactory
	opts    lifecycle.Options
	logger  zerolog.Logger
}

// NewExecutor returns an Executor that builds clients with factory.
func NewExecutor(factory ClientFactory, opts lifecycle.Options, logger zerolog.Logger) *Executor {
	return &Executor{factory: factory, opts: opts, logger: logger}
}

// Execute runs cmd. Every failure is folded into the outcome's lines.
func (e *Executor) Execute(ctx context.Context, cmd Command) Outcome {
	ctx, span := tracer.Start(ctx, "gahp.execute", trace.WithAttributes(
		attribute.String("gahp.command", string(cmd.Kind)),
		attribute.String("gahp.request_id", cmd.RequestID),
	))
	defer span.End()

	log := e.logger.With().Str("request_id", cmd.RequestID).Str("command", string(cmd.Kind)).Logger()
	log.Info().Msg("executing")

	out := e.execute(ctx, cmd, log)
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
		log.Error().Err(out.Err).Msg("command failed")
	} else {
		log.Info().Msg("command completed")
	}
	return out
}

func (e *Executor) execute(ctx context.Context, cmd Command, log zerolog.Logger) Outcome {
	s, err := settings.Load(cmd.CredentialRef)
	if err != nil {
		return failed(fmt.Errorf("read credentials: %w", err))
	}
	clients, err := e.factory(s, cmd.SubscriptionID)
	if err != nil {
		return failed(fmt.Errorf("create clients: %w", err))
	}
	orch := lifecycle.New(clients, e.opts, log)

	switch p := cmd.Params.(type) {
	case PingParams:
		return done(orch.Ping(ctx))

	case VMCreateParams:
		res, err := orch.CreateVM(ctx, p.Spec)
		if err != nil {
			return failed(err)
		}
		return Outcome{Lines: []string{null + " " + Escape(orNull(res.VMID)) + " " + Escape(orNull(res.PublicIP))}}

	case VMDeleteParams:
		err := orch.DeleteVM(ctx, p.ResourceGroup, p.VMName)
		if err != nil && p.VMName != "" {
			return Outcome{Lines: []string{describedError(ctx, orch, p.ResourceGroup, p.VMName, err)}, Err: err}
		}
		return done(err)

	case VMListParams:
		lister := inventory.New(clients.Compute, s.MaxVMsPerWorker, log)
		listing, err := lister.List(ctx, inventory.Filter{
			ResourceGroup: p.ResourceGroup,
			VMName:        p.VMName,
			Tag:           p.Tag,
		})
		if err != nil {
			return failed(err)
		}
		return listOutcome(ctx, orch, listing)

	case ScaleSetCreateParams:
		return done(orch.CreateScaleSet(ctx, p.Spec, lifecycle.ScaleSetConfig{
			Scheduler:       schedulerConfig(s),
			SecretScriptURL: s.KeyVaultScriptURL,
			TenantID:        s.TenantID,
		}))

	case ScaleSetTargetParams:
		if p.Deletion != nil {
			return done(orch.ScheduleDeletion(ctx, *p.Deletion, schedulerConfig(s)))
		}
		switch cmd.Kind {
		case KindScaleSetDelete:
			return done(orch.DeleteScaleSet(ctx, p.ResourceGroup, p.Name))
		case KindScaleSetStart:
			return done(orch.StartScaleSet(ctx, p.ResourceGroup, p.Name))
		case KindScaleSetStop:
			return done(orch.StopScaleSet(ctx, p.ResourceGroup, p.Name))
		case KindScaleSetRestart:
			return done(orch.RestartScaleSet(ctx, p.ResourceGroup, p.Name))
		}

	case ScaleSetScaleParams:
		if p.Requested != p.NodeCount {
			log.Warn().Int64("requested", p.Requested).Int64("node_count", p.NodeCount).Msg("invalid node count, scaling to 1")
		}
		return done(orch.ScaleScaleSet(ctx, p.ResourceGroup, p.Name, p.NodeCount))
	}
	return failed(fmt.Errorf("no handler for %s", cmd.Kind))
}

func done(err error) Outcome {
	if err != nil {
		return failed(err)
	}
	return Outcome{Lines: []string{null}}
}

func failed(err error) Outcome {
	return Outcome{Lines: []string{escapeText(err.Error())}, Err: err}
}

func orNull(s string) string {
	if s == "" {
		return null
	}
	return s
}

// describedError prefixes err with the VM's id and public IP, looked up
// best-effort.
func describedError(ctx context.Context, orch *lifecycle.Orchestrator, resourceGroup, name string, err error) string {
	vmID, ip := orch.DescribeVM(ctx, resourceGroup, name)
	return Escape(orNull(vmID)) + " " + Escape(orNull(ip)) + " " + escapeText(err.Error())
}

// listOutcome reports each failed lookup as its own line, followed by the
// listing line "NULL <n>" with one " <group> <codes>" fragment per VM.
func listOutcome(ctx context.Context, orch *lifecycle.Orchestrator, listing inventory.Listing) Outcome {
	var out Outcome
	for _, f := range listing.Failures() {
		out.Lines = append(out.Lines, describedError(ctx, orch, f.ResourceGroup, f.Name, f.Err))
	}

	records := listing.Records()
	var b strings.Builder
	b.WriteString(null)
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(len(records)))
	for _, r := range records {
		b.WriteByte(' ')
		b.WriteString(Escape(r.ResourceGroup))
		b.WriteByte(' ')
		b.WriteString(Escape(strings.Join(r.Statuses, ",")))
	}
	out.Lines = append(out.Lines, b.String())
	return out
}

// schedulerConfig is empty unless the credentials file carries every
// scheduler key.
func schedulerConfig(s *settings.Settings) lifecycle.SchedulerConfig {
	if !s.CanScheduleDeletion() {
		return lifecycle.SchedulerConfig{}
	}
	return lifecycle.SchedulerConfig{
		WebhookURL:        s.WebhookURL,
		CleanerWebhookURL: s.CleanerWebhookURL,
		Token:             s.Token,
		ResourceGroup:     s.JobsResourceGroup,
		Collection:        s.JobCollection,
		CollectionSKU:     s.JobCollectionSKU,
		CleanerFrequency:  s.CleanerFrequency,
		CleanerInterval:   s.CleanerInterval,
	}
}
