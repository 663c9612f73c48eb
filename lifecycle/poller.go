package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultPollTimeout  = 45 * time.Minute
)

// PollConfig bounds AwaitScaleSetStable.
type PollConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultPollTimeout
	}
	return c
}

// AwaitScaleSetStable polls the scale set's instances every interval until
// every instance-view status code reports success or running. The first
// check happens one interval after the call.
func (o *Orchestrator) AwaitScaleSetStable(ctx context.Context, resourceGroup, name string) error {
	ctx, span := tracer.Start(ctx, "lifecycle.AwaitScaleSetStable")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.poll.Timeout)
	defer cancel()

	ticker := time.NewTicker(o.poll.Interval)
	defer ticker.Stop()

	log := o.logger.With().Str("resource_group", resourceGroup).Str("vmss", name).Logger()
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return o.pollErr(ctx, name)
		case <-ticker.C:
		}

		pending, err := o.pendingInstances(ctx, resourceGroup, name)
		if err != nil {
			if ctx.Err() != nil {
				return o.pollErr(ctx, name)
			}
			return fmt.Errorf("poll scale set %s: %w", name, err)
		}
		if pending == 0 {
			log.Info().Int("attempts", attempt).Msg("scale set instances settled")
			return nil
		}
		log.Debug().Int("attempt", attempt).Int("pending", pending).Msg("waiting for scale set instances")
	}
}

func (o *Orchestrator) pollErr(ctx context.Context, name string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w %s after %s", ErrPollTimeout, name, o.poll.Timeout)
	}
	return ctx.Err()
}

// pendingInstances counts instances with at least one unsettled status.
func (o *Orchestrator) pendingInstances(ctx context.Context, resourceGroup, name string) (int, error) {
	ids, err := o.cloud.Compute.ListScaleSetInstanceIDs(ctx, resourceGroup, name)
	if err != nil {
		return 0, err
	}
	pending := 0
	for _, id := range ids {
		codes, err := o.cloud.Compute.ScaleSetInstanceStatuses(ctx, resourceGroup, name, id)
		if err != nil {
			return 0, err
		}
		for _, code := range codes {
			if !settled(code) {
				pending++
				break
			}
		}
	}
	return pending, nil
}

func settled(code string) bool {
	c := strings.ToUpper(code)
	return strings.Contains(c, "SUCCEEDED") || strings.Contains(c, "RUNNING")
}
