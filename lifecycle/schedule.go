package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cqnkjsx/htcondor/cloud"
)

const (
	cleanerJobName  = "CleanerJob"
	cleanerJobDelay = 5 * time.Minute
)

// SchedulerConfig names the job collection and webhooks used for deferred
// deletion.
type SchedulerConfig struct {
	WebhookURL        string
	CleanerWebhookURL string
	Token             string
	ResourceGroup     string
	Collection        string
	CollectionSKU     string
	CleanerFrequency  string
	CleanerInterval   int
}

func (c SchedulerConfig) validate() error {
	if c.WebhookURL == "" || c.CleanerWebhookURL == "" || c.Token == "" || c.ResourceGroup == "" || c.Collection == "" {
		return errors.New("scheduled deletion needs webhook_url, clean_job_webhook_url, token, jobs_rg and job_collection in the credentials file")
	}
	return nil
}

// ScheduleDeletion registers a job that calls the deletion webhook at the
// requested time, alongside a recurring cleaner job that prunes expired
// jobs. A "now" schedule runs the job immediately.
func (o *Orchestrator) ScheduleDeletion(ctx context.Context, req DeletionRequest, cfg SchedulerConfig) error {
	ctx, span := tracer.Start(ctx, "lifecycle.ScheduleDeletion")
	defer span.End()

	if err := cfg.validate(); err != nil {
		return err
	}
	now := o.now().UTC()
	start, immediate, err := ParseSchedule(req.Schedule, now)
	if err != nil {
		return err
	}

	log := o.logger.With().Str("job_collection", cfg.Collection).Str("target", req.ResourceGroup).Logger()

	log.Info().Str("resource_group", cfg.ResourceGroup).Msg("creating jobs resource group")
	if err := o.cloud.Resources.CreateResourceGroup(ctx, cfg.ResourceGroup, req.Location); err != nil {
		return fmt.Errorf("create resource group %s: %w", cfg.ResourceGroup, err)
	}

	log.Info().Msg("creating job collection")
	collection := cloud.JobCollection{
		Location: req.Location,
		Properties: cloud.JobCollectionProperties{
			SKU:   cloud.JobCollectionSKU{Name: cloud.ParseCollectionSKU(cfg.CollectionSKU)},
			State: "Enabled",
		},
	}
	if err := o.cloud.Scheduler.CreateJobCollection(ctx, cfg.ResourceGroup, cfg.Collection, collection); err != nil {
		return fmt.Errorf("create job collection %s: %w", cfg.Collection, err)
	}

	cleanerBody, err := json.Marshal(map[string]string{
		"ResourceGroupName": cfg.ResourceGroup,
		"JobCollection":     cfg.Collection,
		"SecureToken":       cfg.Token,
	})
	if err != nil {
		return err
	}
	cleaner := webhookJob(now.Add(cleanerJobDelay), cfg.CleanerWebhookURL, cleanerBody)
	cleaner.Properties.Recurrence = &cloud.JobRecurrence{
		Frequency: cloud.ParseFrequency(cfg.CleanerFrequency),
		Interval:  cfg.CleanerInterval,
	}
	if err := o.cloud.Scheduler.CreateJob(ctx, cfg.ResourceGroup, cfg.Collection, cleanerJobName, cleaner); err != nil {
		return fmt.Errorf("create job %s: %w", cleanerJobName, err)
	}

	jobName := req.ResourceGroup + "job"
	deletionBody, err := json.Marshal(map[string]string{
		"ResourceGroupName": req.ResourceGroup,
		"VmssName":          req.ScaleSetName,
		"SecureToken":       cfg.Token,
	})
	if err != nil {
		return err
	}
	log.Info().Str("job", jobName).Time("start", start).Msg("creating deletion job")
	if err := o.cloud.Scheduler.CreateJob(ctx, cfg.ResourceGroup, cfg.Collection, jobName, webhookJob(start, cfg.WebhookURL, deletionBody)); err != nil {
		return fmt.Errorf("create job %s: %w", jobName, err)
	}

	if immediate {
		if err := o.cloud.Scheduler.RunJob(ctx, cfg.ResourceGroup, cfg.Collection, jobName); err != nil {
			return fmt.Errorf("run job %s: %w", jobName, err)
		}
		log.Info().Str("job", jobName).Msg("deletion job started")
	}
	return nil
}

func webhookJob(start time.Time, uri string, body []byte) cloud.Job {
	return cloud.Job{
		Properties: cloud.JobProperties{
			StartTime: start,
			Action: cloud.JobAction{
				Type: "Https",
				Request: cloud.JobRequest{
					Method:  http.MethodPost,
					URI:     uri,
					Headers: map[string]string{"content-type": "text/plain"},
					Body:    string(body),
				},
			},
		},
	}
}
