package aws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"shotty/pkg/cloud"
	"shotty/pkg/config"
	"shotty/pkg/models"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
)

// Provider implements the CloudProvider interface for AWS
type Provider struct {
	ec2Client ec2iface.EC2API
	region    string
}

var _ cloud.CloudProvider = (*Provider)(nil)

// NewProvider creates a new AWS provider instance. Static keys are used when
// both are configured, otherwise the named shared-config profile.
func NewProvider(cfg config.AWSConfig) (*Provider, error) {
	if cfg.Region == "" {
		return nil, errors.New("region is required")
	}

	sess, err := newSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewProviderWithClient(ec2.New(sess), cfg.Region), nil
}

// NewProviderWithClient wraps an existing EC2 client
func NewProviderWithClient(client ec2iface.EC2API, region string) *Provider {
	return &Provider{
		ec2Client: client,
		region:    region,
	}
}

func newSession(cfg config.AWSConfig) (*session.Session, error) {
	awsCfg := aws.Config{Region: aws.String(cfg.Region)}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
		return session.NewSession(&awsCfg)
	}

	return session.NewSessionWithOptions(session.Options{
		Config:            awsCfg,
		Profile:           cfg.Profile,
		SharedConfigState: session.SharedConfigEnable,
	})
}

// Region returns the region the provider talks to
func (p *Provider) Region() string {
	return p.region
}

// ValidateCredentials checks if AWS credentials are valid
func (p *Provider) ValidateCredentials(ctx context.Context) error {
	_, err := p.ec2Client.DescribeRegionsWithContext(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return fmt.Errorf("invalid AWS credentials: %w", err)
	}
	return nil
}

// ListInstances lists every instance, optionally narrowed by the Project tag
func (p *Provider) ListInstances(ctx context.Context, project string) ([]*models.Instance, error) {
	input := &ec2.DescribeInstancesInput{}
	if project != "" {
		input.Filters = []*ec2.Filter{
			{
				Name:   aws.String("tag:" + models.ProjectTagKey),
				Values: []*string{aws.String(escapeFilterValue(project))},
			},
		}
	}

	var instances []*models.Instance
	err := p.ec2Client.DescribeInstancesPagesWithContext(ctx, input,
		func(page *ec2.DescribeInstancesOutput, lastPage bool) bool {
			for _, reservation := range page.Reservations {
				for _, instance := range reservation.Instances {
					instances = append(instances, convertInstance(instance))
				}
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	return instances, nil
}

// GetInstanceState retrieves the current state of an instance
func (p *Provider) GetInstanceState(ctx context.Context, instanceID string) (models.InstanceState, error) {
	result, err := p.ec2Client.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []*string{aws.String(instanceID)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe instance: %w", err)
	}

	if len(result.Reservations) == 0 || len(result.Reservations[0].Instances) == 0 {
		return "", fmt.Errorf("instance %s not found", instanceID)
	}

	instance := result.Reservations[0].Instances[0]
	if instance.State == nil {
		return "", fmt.Errorf("instance %s has no state", instanceID)
	}
	return models.InstanceState(aws.StringValue(instance.State.Name)), nil
}

// StartInstance starts a stopped EC2 instance
func (p *Provider) StartInstance(ctx context.Context, instanceID string) error {
	_, err := p.ec2Client.StartInstancesWithContext(ctx, &ec2.StartInstancesInput{
		InstanceIds: []*string{aws.String(instanceID)},
	})
	if err != nil {
		return fmt.Errorf("failed to start instance: %w", err)
	}
	return nil
}

// StopInstance stops a running EC2 instance
func (p *Provider) StopInstance(ctx context.Context, instanceID string) error {
	_, err := p.ec2Client.StopInstancesWithContext(ctx, &ec2.StopInstancesInput{
		InstanceIds: []*string{aws.String(instanceID)},
	})
	if err != nil {
		return fmt.Errorf("failed to stop instance: %w", err)
	}
	return nil
}

// ListVolumes lists the EBS volumes attached to an instance
func (p *Provider) ListVolumes(ctx context.Context, instanceID string) ([]*models.Volume, error) {
	input := &ec2.DescribeVolumesInput{
		Filters: []*ec2.Filter{
			{
				Name:   aws.String("attachment.instance-id"),
				Values: []*string{aws.String(instanceID)},
			},
		},
	}

	var volumes []*models.Volume
	err := p.ec2Client.DescribeVolumesPagesWithContext(ctx, input,
		func(page *ec2.DescribeVolumesOutput, lastPage bool) bool {
			for _, volume := range page.Volumes {
				volumes = append(volumes, convertVolume(volume, instanceID))
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes for %s: %w", instanceID, err)
	}

	return volumes, nil
}

// ListSnapshots lists the snapshots of a volume owned by this account, newest first
func (p *Provider) ListSnapshots(ctx context.Context, volumeID string) ([]*models.Snapshot, error) {
	input := &ec2.DescribeSnapshotsInput{
		OwnerIds: []*string{aws.String("self")},
		Filters: []*ec2.Filter{
			{
				Name:   aws.String("volume-id"),
				Values: []*string{aws.String(volumeID)},
			},
		},
	}

	var snapshots []*models.Snapshot
	err := p.ec2Client.DescribeSnapshotsPagesWithContext(ctx, input,
		func(page *ec2.DescribeSnapshotsOutput, lastPage bool) bool {
			for _, snap := range page.Snapshots {
				snapshots = append(snapshots, convertSnapshot(snap))
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots for %s: %w", volumeID, err)
	}

	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].StartTime.After(snapshots[j].StartTime)
	})

	return snapshots, nil
}

// CreateSnapshot requests a snapshot of the volume
func (p *Provider) CreateSnapshot(ctx context.Context, volumeID string, input cloud.SnapshotInput) (*models.Snapshot, error) {
	req := &ec2.CreateSnapshotInput{
		VolumeId:    aws.String(volumeID),
		Description: aws.String(input.Description),
	}

	if len(input.Tags) > 0 {
		tags := make([]*ec2.Tag, 0, len(input.Tags))
		for _, t := range input.Tags {
			tags = append(tags, &ec2.Tag{Key: aws.String(t.Key), Value: aws.String(t.Value)})
		}
		req.TagSpecifications = []*ec2.TagSpecification{
			{
				ResourceType: aws.String(ec2.ResourceTypeSnapshot),
				Tags:         tags,
			},
		}
	}

	snap, err := p.ec2Client.CreateSnapshotWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot: %w", err)
	}

	return convertSnapshot(snap), nil
}

// filterEscaper makes EC2 filter values match literally; unescaped * and ?
// are wildcards
var filterEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`)

func escapeFilterValue(value string) string {
	return filterEscaper.Replace(value)
}

func convertInstance(instance *ec2.Instance) *models.Instance {
	inst := &models.Instance{
		ID:            aws.StringValue(instance.InstanceId),
		InstanceType:  aws.StringValue(instance.InstanceType),
		PublicDNSName: aws.StringValue(instance.PublicDnsName),
	}

	if instance.State != nil {
		inst.State = models.InstanceState(aws.StringValue(instance.State.Name))
	}
	if instance.Placement != nil {
		inst.AvailabilityZone = aws.StringValue(instance.Placement.AvailabilityZone)
	}

	for _, tag := range instance.Tags {
		inst.Tags = append(inst.Tags, models.Tag{
			Key:   aws.StringValue(tag.Key),
			Value: aws.StringValue(tag.Value),
		})
	}

	return inst
}

func convertVolume(volume *ec2.Volume, instanceID string) *models.Volume {
	return &models.Volume{
		ID:         aws.StringValue(volume.VolumeId),
		InstanceID: instanceID,
		SizeGiB:    aws.Int64Value(volume.Size),
		Encrypted:  aws.BoolValue(volume.Encrypted),
		State:      aws.StringValue(volume.State),
	}
}

func convertSnapshot(snap *ec2.Snapshot) *models.Snapshot {
	return &models.Snapshot{
		ID:          aws.StringValue(snap.SnapshotId),
		VolumeID:    aws.StringValue(snap.VolumeId),
		State:       models.SnapshotState(aws.StringValue(snap.State)),
		Progress:    aws.StringValue(snap.Progress),
		StartTime:   aws.TimeValue(snap.StartTime),
		Description: aws.StringValue(snap.Description),
	}
}
