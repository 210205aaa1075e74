package listing

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"shotty/internal/filter"
	"shotty/internal/utils"
	"shotty/pkg/cloud"
	"shotty/pkg/models"

	"github.com/sirupsen/logrus"
)

// NoProject is shown for instances without a Project tag
const NoProject = "<no project>"

// Lister prints comma-separated listings of instances, volumes and snapshots
type Lister struct {
	provider cloud.CloudProvider
	filter   *filter.Filter
	out      io.Writer
}

// NewLister creates a lister writing to out
func NewLister(provider cloud.CloudProvider, out io.Writer, logger *logrus.Logger) *Lister {
	return &Lister{
		provider: provider,
		filter:   filter.NewFilter(provider, logger),
		out:      out,
	}
}

// Instances prints one line per instance
func (l *Lister) Instances(ctx context.Context, project string) error {
	instances, err := l.filter.SelectInstances(ctx, project)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		fmt.Fprintln(l.out, InstanceLine(inst))
	}
	return nil
}

// Volumes prints one line per volume of every selected instance
func (l *Lister) Volumes(ctx context.Context, project string) error {
	instances, err := l.filter.SelectInstances(ctx, project)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		volumes, err := l.provider.ListVolumes(ctx, inst.ID)
		if err != nil {
			return err
		}
		for _, vol := range volumes {
			fmt.Fprintln(l.out, VolumeLine(vol, inst.ID))
		}
	}
	return nil
}

// Snapshots prints snapshots per volume, newest first. Unless all is set it
// stops at the first completed snapshot of each volume, so only in-flight
// snapshots and the latest good one are shown.
func (l *Lister) Snapshots(ctx context.Context, project string, all bool) error {
	instances, err := l.filter.SelectInstances(ctx, project)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		volumes, err := l.provider.ListVolumes(ctx, inst.ID)
		if err != nil {
			return err
		}
		for _, vol := range volumes {
			snapshots, err := l.provider.ListSnapshots(ctx, vol.ID)
			if err != nil {
				return err
			}
			for _, snap := range snapshots {
				fmt.Fprintln(l.out, SnapshotLine(snap, vol.ID, inst.ID))
				if snap.State == models.SnapshotStateCompleted && !all {
					break
				}
			}
		}
	}
	return nil
}

// InstanceLine renders id,type,zone,state,dns,project
func InstanceLine(inst *models.Instance) string {
	project, ok := inst.Project()
	if !ok {
		project = NoProject
	}
	return strings.Join([]string{
		inst.ID,
		inst.InstanceType,
		inst.AvailabilityZone,
		string(inst.State),
		inst.PublicDNSName,
		project,
	}, ",")
}

// VolumeLine renders id,instance,state,size,encryption
func VolumeLine(vol *models.Volume, instanceID string) string {
	encryption := "Not Encrypted"
	if vol.Encrypted {
		encryption = "Encrypted"
	}
	return strings.Join([]string{
		vol.ID,
		instanceID,
		vol.State,
		strconv.FormatInt(vol.SizeGiB, 10) + "GiB",
		encryption,
	}, ",")
}

// SnapshotLine renders id,volume,instance,state,progress,start
func SnapshotLine(snap *models.Snapshot, volumeID, instanceID string) string {
	return strings.Join([]string{
		snap.ID,
		volumeID,
		instanceID,
		string(snap.State),
		snap.Progress,
		snap.StartTime.Local().Format(time.ANSIC),
	}, ",")
}

// PrintReport writes the final summary of a batch run
func PrintReport(w io.Writer, report *models.SummaryReport) {
	counts := report.Counts()
	fmt.Fprintf(w, "\nRun %s (%s", report.ID, report.Operation)
	if report.Project != "" {
		fmt.Fprintf(w, ", project %s", report.Project)
	}
	fmt.Fprintf(w, ") finished in %s\n", utils.FormatDuration(report.Duration()))
	fmt.Fprintf(w, "  Instances: %d (%d failed)\n", counts.Instances, counts.FailedInstances)
	if report.Operation == models.OperationSnapshot {
		fmt.Fprintf(w, "  Snapshots created: %d, skipped: %d, failed: %d\n",
			counts.SnapshotsCreated, counts.VolumesSkipped, counts.VolumesFailed)
	}

	for _, inst := range report.Instances {
		if inst.Status == models.StatusFailed {
			fmt.Fprintf(w, "  FAILED %s: %s\n", inst.InstanceID, inst.Error)
		}
		for _, vol := range inst.Volumes {
			if vol.Status == models.StatusFailed {
				fmt.Fprintf(w, "  FAILED %s/%s: %s\n", inst.InstanceID, vol.VolumeID, vol.Error)
			}
		}
	}
}

// PrintReportDetail writes every instance and volume outcome of a run
func PrintReportDetail(w io.Writer, report *models.SummaryReport) {
	PrintReport(w, report)
	fmt.Fprintln(w)
	for _, inst := range report.Instances {
		fmt.Fprintf(w, "%s,%s\n", inst.InstanceID, inst.Status)
		for _, vol := range inst.Volumes {
			fmt.Fprintf(w, "  %s,%s,%s\n", vol.VolumeID, vol.Status, vol.SnapshotID)
		}
	}
}

// ReportLine renders one run in the history listing
func ReportLine(report *models.SummaryReport) string {
	project := report.Project
	if project == "" {
		project = "<all>"
	}
	counts := report.Counts()
	return strings.Join([]string{
		report.ID,
		string(report.Operation),
		project,
		report.StartedAt.Local().Format(time.ANSIC),
		fmt.Sprintf("%d instances", counts.Instances),
		fmt.Sprintf("%d failed", counts.FailedInstances),
	}, ",")
}
