package aws_test

import (
	"context"
	"errors"
	"testing"
	"time"

	shottyaws "shotty/pkg/aws"
	"shotty/pkg/cloud"
	"shotty/pkg/config"
	"shotty/pkg/models"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEC2 overrides the handful of EC2 calls the provider makes
type fakeEC2 struct {
	ec2iface.EC2API

	instancePages  []*ec2.DescribeInstancesOutput
	describeOutput *ec2.DescribeInstancesOutput
	volumePages    []*ec2.DescribeVolumesOutput
	snapshotPages  []*ec2.DescribeSnapshotsOutput
	stopErr        error

	instancesInput *ec2.DescribeInstancesInput
	volumesInput   *ec2.DescribeVolumesInput
	snapshotsInput *ec2.DescribeSnapshotsInput
	createInput    *ec2.CreateSnapshotInput
	stopped        []string
	started        []string
}

func (f *fakeEC2) DescribeInstancesPagesWithContext(ctx aws.Context, in *ec2.DescribeInstancesInput, fn func(*ec2.DescribeInstancesOutput, bool) bool, opts ...request.Option) error {
	f.instancesInput = in
	for i, page := range f.instancePages {
		if !fn(page, i == len(f.instancePages)-1) {
			break
		}
	}
	return nil
}

func (f *fakeEC2) DescribeInstancesWithContext(ctx aws.Context, in *ec2.DescribeInstancesInput, opts ...request.Option) (*ec2.DescribeInstancesOutput, error) {
	return f.describeOutput, nil
}

func (f *fakeEC2) DescribeVolumesPagesWithContext(ctx aws.Context, in *ec2.DescribeVolumesInput, fn func(*ec2.DescribeVolumesOutput, bool) bool, opts ...request.Option) error {
	f.volumesInput = in
	for i, page := range f.volumePages {
		if !fn(page, i == len(f.volumePages)-1) {
			break
		}
	}
	return nil
}

func (f *fakeEC2) DescribeSnapshotsPagesWithContext(ctx aws.Context, in *ec2.DescribeSnapshotsInput, fn func(*ec2.DescribeSnapshotsOutput, bool) bool, opts ...request.Option) error {
	f.snapshotsInput = in
	for i, page := range f.snapshotPages {
		if !fn(page, i == len(f.snapshotPages)-1) {
			break
		}
	}
	return nil
}

func (f *fakeEC2) CreateSnapshotWithContext(ctx aws.Context, in *ec2.CreateSnapshotInput, opts ...request.Option) (*ec2.Snapshot, error) {
	f.createInput = in
	return &ec2.Snapshot{
		SnapshotId: aws.String("snap-new"),
		VolumeId:   in.VolumeId,
		State:      aws.String(ec2.SnapshotStatePending),
		Progress:   aws.String(""),
		StartTime:  aws.Time(time.Now()),
	}, nil
}

func (f *fakeEC2) StopInstancesWithContext(ctx aws.Context, in *ec2.StopInstancesInput, opts ...request.Option) (*ec2.StopInstancesOutput, error) {
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	f.stopped = append(f.stopped, aws.StringValue(in.InstanceIds[0]))
	return &ec2.StopInstancesOutput{}, nil
}

func (f *fakeEC2) StartInstancesWithContext(ctx aws.Context, in *ec2.StartInstancesInput, opts ...request.Option) (*ec2.StartInstancesOutput, error) {
	f.started = append(f.started, aws.StringValue(in.InstanceIds[0]))
	return &ec2.StartInstancesOutput{}, nil
}

func ec2Instance(id, state string, tags map[string]string) *ec2.Instance {
	inst := &ec2.Instance{
		InstanceId:    aws.String(id),
		InstanceType:  aws.String("t2.micro"),
		Placement:     &ec2.Placement{AvailabilityZone: aws.String("us-east-1a")},
		State:         &ec2.InstanceState{Name: aws.String(state)},
		PublicDnsName: aws.String(""),
	}
	for k, v := range tags {
		inst.Tags = append(inst.Tags, &ec2.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return inst
}

func TestNewProvider_RequiresRegion(t *testing.T) {
	_, err := shottyaws.NewProvider(config.AWSConfig{Profile: "shotty"})
	assert.Error(t, err)
}

func TestProvider_ListInstances(t *testing.T) {
	client := &fakeEC2{
		instancePages: []*ec2.DescribeInstancesOutput{
			{Reservations: []*ec2.Reservation{{Instances: []*ec2.Instance{
				ec2Instance("i-1", "running", map[string]string{"Project": "web"}),
			}}}},
			{Reservations: []*ec2.Reservation{{Instances: []*ec2.Instance{
				ec2Instance("i-2", "stopped", nil),
			}}}},
		},
	}
	provider := shottyaws.NewProviderWithClient(client, "us-east-1")

	t.Run("no project lists everything", func(t *testing.T) {
		instances, err := provider.ListInstances(context.Background(), "")
		require.NoError(t, err)
		require.Len(t, instances, 2)
		assert.Empty(t, client.instancesInput.Filters)

		assert.Equal(t, "i-1", instances[0].ID)
		assert.Equal(t, "t2.micro", instances[0].InstanceType)
		assert.Equal(t, "us-east-1a", instances[0].AvailabilityZone)
		assert.Equal(t, models.InstanceStateRunning, instances[0].State)
		project, ok := instances[0].Project()
		assert.True(t, ok)
		assert.Equal(t, "web", project)

		assert.Equal(t, models.InstanceStateStopped, instances[1].State)
	})

	t.Run("project adds tag filter", func(t *testing.T) {
		_, err := provider.ListInstances(context.Background(), "web")
		require.NoError(t, err)
		require.Len(t, client.instancesInput.Filters, 1)
		assert.Equal(t, "tag:Project", aws.StringValue(client.instancesInput.Filters[0].Name))
		assert.Equal(t, []string{"web"}, aws.StringValueSlice(client.instancesInput.Filters[0].Values))
	})

	t.Run("wildcards in project are escaped", func(t *testing.T) {
		tests := []struct {
			project  string
			expected string
		}{
			{project: "web*", expected: `web\*`},
			{project: "we?", expected: `we\?`},
			{project: `a\b*`, expected: `a\\b\*`},
		}
		for _, tt := range tests {
			_, err := provider.ListInstances(context.Background(), tt.project)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.expected}, aws.StringValueSlice(client.instancesInput.Filters[0].Values), tt.project)
		}
	})
}

func TestProvider_GetInstanceState(t *testing.T) {
	client := &fakeEC2{
		describeOutput: &ec2.DescribeInstancesOutput{Reservations: []*ec2.Reservation{{Instances: []*ec2.Instance{
			ec2Instance("i-1", "stopping", nil),
		}}}},
	}
	provider := shottyaws.NewProviderWithClient(client, "us-east-1")

	state, err := provider.GetInstanceState(context.Background(), "i-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStateStopping, state)

	client.describeOutput = &ec2.DescribeInstancesOutput{}
	_, err = provider.GetInstanceState(context.Background(), "i-1")
	assert.Error(t, err)
}

func TestProvider_ListVolumes(t *testing.T) {
	client := &fakeEC2{
		volumePages: []*ec2.DescribeVolumesOutput{{Volumes: []*ec2.Volume{
			{VolumeId: aws.String("vol-1"), Size: aws.Int64(8), Encrypted: aws.Bool(true), State: aws.String("in-use")},
			{VolumeId: aws.String("vol-2"), Size: aws.Int64(100), Encrypted: aws.Bool(false), State: aws.String("in-use")},
		}}},
	}
	provider := shottyaws.NewProviderWithClient(client, "us-east-1")

	volumes, err := provider.ListVolumes(context.Background(), "i-1")
	require.NoError(t, err)
	require.Len(t, volumes, 2)
	assert.Equal(t, "attachment.instance-id", aws.StringValue(client.volumesInput.Filters[0].Name))
	assert.Equal(t, &models.Volume{ID: "vol-1", InstanceID: "i-1", SizeGiB: 8, Encrypted: true, State: "in-use"}, volumes[0])
	assert.False(t, volumes[1].Encrypted)
}

func TestProvider_ListSnapshotsNewestFirst(t *testing.T) {
	now := time.Now()
	client := &fakeEC2{
		snapshotPages: []*ec2.DescribeSnapshotsOutput{
			{Snapshots: []*ec2.Snapshot{
				{SnapshotId: aws.String("snap-old"), VolumeId: aws.String("vol-1"), State: aws.String("completed"), StartTime: aws.Time(now.Add(-48 * time.Hour))},
			}},
			{Snapshots: []*ec2.Snapshot{
				{SnapshotId: aws.String("snap-new"), VolumeId: aws.String("vol-1"), State: aws.String("pending"), Progress: aws.String("12%"), StartTime: aws.Time(now)},
			}},
		},
	}
	provider := shottyaws.NewProviderWithClient(client, "us-east-1")

	snapshots, err := provider.ListSnapshots(context.Background(), "vol-1")
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, "snap-new", snapshots[0].ID)
	assert.Equal(t, models.SnapshotStatePending, snapshots[0].State)
	assert.Equal(t, "12%", snapshots[0].Progress)
	assert.Equal(t, "snap-old", snapshots[1].ID)
	assert.Equal(t, []string{"self"}, aws.StringValueSlice(client.snapshotsInput.OwnerIds))
}

func TestProvider_CreateSnapshot(t *testing.T) {
	client := &fakeEC2{}
	provider := shottyaws.NewProviderWithClient(client, "us-east-1")

	snap, err := provider.CreateSnapshot(context.Background(), "vol-1", cloud.SnapshotInput{
		Description: "Created by SnapshotAlyzer 30000",
		Tags:        []models.Tag{{Key: "CreatedBy", Value: "shotty"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "snap-new", snap.ID)
	assert.True(t, snap.IsPending())

	assert.Equal(t, "vol-1", aws.StringValue(client.createInput.VolumeId))
	assert.Equal(t, "Created by SnapshotAlyzer 30000", aws.StringValue(client.createInput.Description))
	require.Len(t, client.createInput.TagSpecifications, 1)
	spec := client.createInput.TagSpecifications[0]
	assert.Equal(t, ec2.ResourceTypeSnapshot, aws.StringValue(spec.ResourceType))
	assert.Equal(t, "CreatedBy", aws.StringValue(spec.Tags[0].Key))
}

func TestProvider_StopInstanceWrapsAWSError(t *testing.T) {
	awsErr := awserr.New("IncorrectInstanceState", "instance is not in a state from which it can be stopped", nil)
	client := &fakeEC2{stopErr: awsErr}
	provider := shottyaws.NewProviderWithClient(client, "us-east-1")

	err := provider.StopInstance(context.Background(), "i-1")
	require.Error(t, err)

	var aerr awserr.Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "IncorrectInstanceState", aerr.Code())

	client.stopErr = nil
	require.NoError(t, provider.StopInstance(context.Background(), "i-1"))
	require.NoError(t, provider.StartInstance(context.Background(), "i-1"))
	assert.Equal(t, []string{"i-1"}, client.stopped)
	assert.Equal(t, []string{"i-1"}, client.started)
}
