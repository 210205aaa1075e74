package filter

import (
	"context"

	"shotty/pkg/cloud"
	"shotty/pkg/models"

	"github.com/sirupsen/logrus"
)

// InstanceLister is the part of the cloud provider the filter queries
type InstanceLister interface {
	ListInstances(ctx context.Context, project string) ([]*models.Instance, error)
}

// Filter resolves the working set of instances for a command
type Filter struct {
	provider InstanceLister
	logger   *logrus.Logger
}

// NewFilter creates a filter over the given provider
func NewFilter(provider InstanceLister, logger *logrus.Logger) *Filter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Filter{
		provider: provider,
		logger:   logger,
	}
}

// SelectInstances returns every visible instance when project is empty, and
// otherwise only instances whose Project tag equals project exactly. Failures
// are returned as *cloud.ResourceFilterError.
func (f *Filter) SelectInstances(ctx context.Context, project string) ([]*models.Instance, error) {
	instances, err := f.provider.ListInstances(ctx, project)
	if err != nil {
		return nil, &cloud.ResourceFilterError{Project: project, Err: err}
	}

	if project == "" {
		f.logger.WithField("instance_count", len(instances)).Debug("Selected all instances")
		return instances, nil
	}

	selected := make([]*models.Instance, 0, len(instances))
	for _, inst := range instances {
		if !inst.InProject(project) {
			f.logger.WithFields(logrus.Fields{
				"instance_id": inst.ID,
				"project":     project,
			}).Debug("Dropping instance outside project")
			continue
		}
		selected = append(selected, inst)
	}

	f.logger.WithFields(logrus.Fields{
		"project":        project,
		"instance_count": len(selected),
	}).Debug("Selected project instances")

	return selected, nil
}
