package lifecycle

import (
	"context"
	"fmt"
	"io"

	"shotty/internal/filter"
	"shotty/pkg/cloud"
	"shotty/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Commands issues bulk start and stop requests. Unlike the snapshot workflow
// they do not wait for instances to reach the requested state.
type Commands struct {
	provider cloud.CloudProvider
	filter   *filter.Filter
	out      io.Writer
	logger   *logrus.Logger
}

// NewCommands creates lifecycle commands writing status lines to out
func NewCommands(provider cloud.CloudProvider, out io.Writer, logger *logrus.Logger) *Commands {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if out == nil {
		out = io.Discard
	}
	return &Commands{
		provider: provider,
		filter:   filter.NewFilter(provider, logger),
		out:      out,
		logger:   logger,
	}
}

// StopAll requests every selected instance to stop
func (c *Commands) StopAll(ctx context.Context, project string) (*models.SummaryReport, error) {
	return c.batch(ctx, project, models.OperationStop, models.InstanceStateStopped, c.provider.StopInstance)
}

// StartAll requests every selected instance to start
func (c *Commands) StartAll(ctx context.Context, project string) (*models.SummaryReport, error) {
	return c.batch(ctx, project, models.OperationStart, models.InstanceStateRunning, c.provider.StartInstance)
}

func (c *Commands) batch(ctx context.Context, project string, op models.Operation, target models.InstanceState, request func(context.Context, string) error) (*models.SummaryReport, error) {
	instances, err := c.filter.SelectInstances(ctx, project)
	if err != nil {
		return nil, err
	}

	verb, gerund := "start", "Starting"
	if op == models.OperationStop {
		verb, gerund = "stop", "Stopping"
	}

	report := models.NewSummaryReport(uuid.NewString(), op, project)
	for _, inst := range instances {
		if err := ctx.Err(); err != nil {
			report.Finish()
			return report, err
		}

		fmt.Fprintf(c.out, "%s %s...\n", gerund, inst.ID)
		result := models.InstanceResult{InstanceID: inst.ID, Status: models.StatusSucceeded}

		if err := request(ctx, inst.ID); err != nil {
			terr := &cloud.StateTransitionError{InstanceID: inst.ID, Target: target, Err: err}
			fmt.Fprintf(c.out, "Could not %s %s. %v\n", verb, inst.ID, err)
			c.logger.WithFields(logrus.Fields{
				"instance_id": inst.ID,
				"operation":   op,
			}).WithError(err).Warn("Instance request rejected, continuing with the rest")
			result.Fail(terr)
		}

		report.Add(result)
	}
	report.Finish()

	c.logger.WithFields(logrus.Fields{
		"run_id":    report.ID,
		"operation": op,
		"instances": len(report.Instances),
		"failed":    len(report.FailedInstances()),
	}).Info("Batch request finished")

	return report, nil
}
