package crontab

import (
	"context"
	"fmt"

	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/gofrs/uuid"
	"github.com/robfig/cron/v3"
)

type (
	CronTaskFunc func(ctx context.Context)
	// Job is a named task with its cron schedule.
	Job struct {
		Name string
		Spec string
		Fn   CronTaskFunc
	}
)

// NewCron constructs a cron instance running the given jobs. Jobs with an invalid
// schedule are skipped with a warning.
func NewCron(l logging.Logger, jobs ...Job) *cron.Cron {
	l.Info("Initialize crontab jobs...")
	c := cron.New()

	for _, job := range jobs {
		if _, err := c.AddFunc(job.Spec, taskWrapper(l, job)); err != nil {
			l.Warning("Failed to start crontab job %q with config %q: %s", job.Name, job.Spec, err)
		}
	}

	return c
}

func taskWrapper(l logging.Logger, job Job) func() {
	l.Info("Cron task %s started with config %q", job.Name, job.Spec)
	return func() {
		cid := uuid.Must(uuid.NewV4())
		l.Debug("Executing Cron task %q with Cid %q", job.Name, cid)
		ctx, _ := logging.WithCorrelation(context.Background(), l.CopyWithPrefix(fmt.Sprintf("[Cron: %s]", job.Name)), cid)
		job.Fn(ctx)
	}
}
