package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"shotty/internal/filter"
	"shotty/pkg/cloud"
	"shotty/pkg/config"
	"shotty/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// CreatedByTag marks snapshots requested by this tool
const CreatedByTag = "CreatedBy"

// StateWaiter blocks until an instance reaches a state
type StateWaiter interface {
	WaitForState(ctx context.Context, instanceID string, target models.InstanceState) error
}

// Options configures an Orchestrator
type Options struct {
	// Description is written on every snapshot
	Description string
	// CreatedBy is the value of the CreatedBy tag
	CreatedBy string
	// VolumeConcurrency bounds concurrent snapshot requests within one
	// instance. Instances are always processed one at a time.
	VolumeConcurrency int
	// Out receives the per-item status lines
	Out io.Writer
}

// Orchestrator runs stop, snapshot and start for each selected instance
type Orchestrator struct {
	provider cloud.CloudProvider
	filter   *filter.Filter
	checker  *StatusChecker
	waiter   StateWaiter
	opts     Options
	logger   *logrus.Logger

	outMu sync.Mutex
}

// NewOrchestrator wires an orchestrator around a provider and a state waiter
func NewOrchestrator(provider cloud.CloudProvider, waiter StateWaiter, opts Options, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.VolumeConcurrency < 1 {
		opts.VolumeConcurrency = 1
	}
	if opts.Description == "" {
		opts.Description = config.DefaultDescription
	}
	if opts.CreatedBy == "" {
		opts.CreatedBy = "shotty"
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}

	return &Orchestrator{
		provider: provider,
		filter:   filter.NewFilter(provider, logger),
		checker:  NewStatusChecker(provider),
		waiter:   waiter,
		opts:     opts,
		logger:   logger,
	}
}

// Run snapshots every volume of every instance in the project. Only a failure
// to select instances or a cancelled context is returned as an error;
// per-instance and per-volume failures are recorded in the report. After a
// cancellation no new snapshot is requested, the current instance is still
// restarted, and the partial report is returned with ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, project string) (*models.SummaryReport, error) {
	instances, err := o.filter.SelectInstances(ctx, project)
	if err != nil {
		return nil, err
	}

	report := models.NewSummaryReport(uuid.NewString(), models.OperationSnapshot, project)
	o.logger.WithFields(logrus.Fields{
		"run_id":         report.ID,
		"project":        project,
		"instance_count": len(instances),
	}).Info("Starting snapshot run")

	for _, inst := range instances {
		if err := ctx.Err(); err != nil {
			report.Finish()
			o.logger.WithField("run_id", report.ID).WithError(err).Warn("Snapshot run interrupted")
			return report, err
		}
		report.Add(o.snapshotInstance(ctx, inst))
	}

	report.Finish()
	if err := ctx.Err(); err != nil {
		o.logger.WithField("run_id", report.ID).WithError(err).Warn("Snapshot run interrupted")
		return report, err
	}
	o.printf("Job's done!\n")

	counts := report.Counts()
	o.logger.WithFields(logrus.Fields{
		"run_id":            report.ID,
		"instances":         counts.Instances,
		"failed_instances":  counts.FailedInstances,
		"snapshots_created": counts.SnapshotsCreated,
		"volumes_skipped":   counts.VolumesSkipped,
		"volumes_failed":    counts.VolumesFailed,
	}).Info("Snapshot run finished")

	return report, nil
}

// snapshotInstance never starts an instance it failed to stop, and never
// starts one before every volume attempt has returned. Once the stop was
// accepted the restart runs detached from ctx.
func (o *Orchestrator) snapshotInstance(ctx context.Context, inst *models.Instance) models.InstanceResult {
	result := models.InstanceResult{
		InstanceID: inst.ID,
		Status:     models.StatusSucceeded,
	}
	logger := o.logger.WithField("instance_id", inst.ID)

	o.printf("Stopping %s...\n", inst.ID)
	stopped, err := o.stop(ctx, inst.ID)
	if err != nil {
		o.printf("Could not stop %s. %v\n", inst.ID, err)
		result.Fail(err)
		if !stopped {
			logger.WithError(err).Error("Failed to stop instance, leaving its volumes untouched")
			return result
		}
		logger.WithError(err).Warn("Interrupted while stopping, restarting without snapshots")
	} else {
		volumes, err := o.provider.ListVolumes(ctx, inst.ID)
		if err != nil {
			o.printf("Could not list volumes of %s. %v\n", inst.ID, err)
			logger.WithError(err).Error("Failed to list volumes")
			result.Fail(fmt.Errorf("failed to list volumes: %w", err))
		} else {
			result.Volumes = o.snapshotVolumes(ctx, inst, volumes)
		}
	}

	o.printf("Starting %s...\n", inst.ID)
	restartCtx := context.WithoutCancel(ctx)
	if err := o.transition(restartCtx, inst.ID, models.InstanceStateRunning, o.provider.StartInstance); err != nil {
		o.printf("Could not start %s. %v\n", inst.ID, err)
		logger.WithError(err).Error("Failed to restart instance")
		if result.Err != nil {
			err = errors.Join(result.Err, err)
		}
		result.Fail(err)
	}

	return result
}

// stop requests the stop and waits for it. stopped reports whether the
// instance ended up stopped and must be restarted. An interrupt after the
// request was accepted still waits for the stop to settle, and returns the
// interrupt as the error.
func (o *Orchestrator) stop(ctx context.Context, instanceID string) (stopped bool, err error) {
	target := models.InstanceStateStopped
	if err := o.provider.StopInstance(ctx, instanceID); err != nil {
		return false, &cloud.StateTransitionError{InstanceID: instanceID, Target: target, Err: err}
	}

	err = o.waiter.WaitForState(ctx, instanceID, target)
	if err == nil {
		return true, nil
	}
	if ctx.Err() == nil {
		return false, &cloud.StateTransitionError{InstanceID: instanceID, Target: target, Err: err}
	}

	if werr := o.waiter.WaitForState(context.WithoutCancel(ctx), instanceID, target); werr != nil {
		return false, &cloud.StateTransitionError{InstanceID: instanceID, Target: target, Err: errors.Join(err, werr)}
	}
	return true, &cloud.StateTransitionError{InstanceID: instanceID, Target: target, Err: err}
}

func (o *Orchestrator) transition(ctx context.Context, instanceID string, target models.InstanceState, request func(context.Context, string) error) error {
	if err := request(ctx, instanceID); err != nil {
		return &cloud.StateTransitionError{InstanceID: instanceID, Target: target, Err: err}
	}
	if err := o.waiter.WaitForState(ctx, instanceID, target); err != nil {
		return &cloud.StateTransitionError{InstanceID: instanceID, Target: target, Err: err}
	}
	return nil
}

// snapshotVolumes keeps results in volume order regardless of concurrency
func (o *Orchestrator) snapshotVolumes(ctx context.Context, inst *models.Instance, volumes []*models.Volume) []models.VolumeResult {
	results := make([]models.VolumeResult, len(volumes))

	var g errgroup.Group
	g.SetLimit(o.opts.VolumeConcurrency)
	for i, vol := range volumes {
		i, vol := i, vol
		g.Go(func() error {
			results[i] = o.snapshotVolume(ctx, inst, vol)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (o *Orchestrator) snapshotVolume(ctx context.Context, inst *models.Instance, vol *models.Volume) models.VolumeResult {
	result := models.VolumeResult{VolumeID: vol.ID}
	logger := o.logger.WithFields(logrus.Fields{
		"instance_id": inst.ID,
		"volume_id":   vol.ID,
	})

	if err := ctx.Err(); err != nil {
		o.printf(" Skipping %s, run interrupted\n", vol.ID)
		logger.WithError(err).Warn("Run interrupted, not snapshotting volume")
		result.Status = models.StatusSkipped
		result.Err = err
		result.Error = err.Error()
		return result
	}

	status, err := o.checker.HasPendingSnapshot(ctx, vol)
	switch {
	case err != nil:
		o.printf(" Skipping %s, could not check for pending snapshots. %v\n", vol.ID, err)
		logger.WithError(err).Warn("Pending snapshot check failed, not creating a snapshot")
		result.Status = models.StatusFailed
		result.Err = err
		result.Error = err.Error()
		return result
	case status == Pending:
		o.printf(" Skipping %s, snapshot already in progress\n", vol.ID)
		logger.Info("Snapshot already in progress, skipping volume")
		result.Status = models.StatusSkipped
		return result
	}

	o.printf("Creating snapshot of %s\n", vol.ID)
	snap, err := o.provider.CreateSnapshot(ctx, vol.ID, o.snapshotInput(inst))
	if err != nil {
		serr := &cloud.SnapshotCreationError{VolumeID: vol.ID, Err: err}
		o.printf("Could not snapshot %s. %v\n", vol.ID, err)
		logger.WithError(err).Error("Failed to create snapshot")
		result.Status = models.StatusFailed
		result.Err = serr
		result.Error = serr.Error()
		return result
	}

	logger.WithField("snapshot_id", snap.ID).Info("Snapshot requested")
	result.Status = models.StatusCreated
	result.SnapshotID = snap.ID
	return result
}

func (o *Orchestrator) snapshotInput(inst *models.Instance) cloud.SnapshotInput {
	tags := []models.Tag{
		{Key: CreatedByTag, Value: o.opts.CreatedBy},
		{Key: "SourceInstance", Value: inst.ID},
	}
	if project, ok := inst.Project(); ok {
		tags = append(tags, models.Tag{Key: models.ProjectTagKey, Value: project})
	}
	return cloud.SnapshotInput{
		Description: o.opts.Description,
		Tags:        tags,
	}
}

func (o *Orchestrator) printf(format string, args ...interface{}) {
	o.outMu.Lock()
	defer o.outMu.Unlock()
	fmt.Fprintf(o.opts.Out, format, args...)
}
