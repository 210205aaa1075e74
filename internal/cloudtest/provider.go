// Package cloudtest provides an in-memory CloudProvider for tests.
package cloudtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"shotty/pkg/cloud"
	"shotty/pkg/models"
)

// Provider is an in-memory cloud that records every call in order.
// Stop and start requests take effect on the next state poll. Like the SDK's
// WithContext calls, every method fails without effect on a done context.
type Provider struct {
	mu sync.Mutex

	order     []string
	instances map[string]*models.Instance
	volumes   map[string][]*models.Volume
	snapshots map[string][]*models.Snapshot
	targets   map[string]models.InstanceState
	inputs    map[string]cloud.SnapshotInput
	events    []string
	nextSnap  int

	// ListErr fails ListInstances
	ListErr error
	// StopErr, StartErr fail the request for an instance
	StopErr  map[string]error
	StartErr map[string]error
	// ListVolumesErr fails volume listing for an instance
	ListVolumesErr map[string]error
	// ListSnapshotsErr fails snapshot listing for a volume
	ListSnapshotsErr map[string]error
	// CreateErr fails snapshot creation for a volume
	CreateErr map[string]error
	// Stuck instances accept requests but never change state
	Stuck map[string]bool
	// IgnoreServerFilter makes ListInstances ignore the project, like an
	// EC2 filter value that matched more widely than intended
	IgnoreServerFilter bool

	// AfterStop and AfterCreate run once the request was accepted, e.g. to
	// cancel the caller's context mid-run. They must not call the provider.
	AfterStop   func(instanceID string)
	AfterCreate func(volumeID string)
}

var _ cloud.CloudProvider = (*Provider)(nil)

// NewProvider creates an empty fake cloud
func NewProvider() *Provider {
	return &Provider{
		instances:        make(map[string]*models.Instance),
		volumes:          make(map[string][]*models.Volume),
		snapshots:        make(map[string][]*models.Snapshot),
		targets:          make(map[string]models.InstanceState),
		inputs:           make(map[string]cloud.SnapshotInput),
		StopErr:          make(map[string]error),
		StartErr:         make(map[string]error),
		ListVolumesErr:   make(map[string]error),
		ListSnapshotsErr: make(map[string]error),
		CreateErr:        make(map[string]error),
		Stuck:            make(map[string]bool),
	}
}

// AddInstance registers a running instance with an optional project tag
func (p *Provider) AddInstance(id, project string) *models.Instance {
	p.mu.Lock()
	defer p.mu.Unlock()

	inst := &models.Instance{
		ID:               id,
		InstanceType:     "t2.micro",
		AvailabilityZone: "us-east-1a",
		State:            models.InstanceStateRunning,
		PublicDNSName:    fmt.Sprintf("%s.compute.example.com", id),
	}
	if project != "" {
		inst.Tags = append(inst.Tags, models.Tag{Key: models.ProjectTagKey, Value: project})
	}
	p.order = append(p.order, id)
	p.instances[id] = inst
	return inst
}

// AddVolume attaches a volume to an instance
func (p *Provider) AddVolume(instanceID, volumeID string, sizeGiB int64, encrypted bool) *models.Volume {
	p.mu.Lock()
	defer p.mu.Unlock()

	vol := &models.Volume{
		ID:         volumeID,
		InstanceID: instanceID,
		SizeGiB:    sizeGiB,
		Encrypted:  encrypted,
		State:      "in-use",
	}
	p.volumes[instanceID] = append(p.volumes[instanceID], vol)
	return vol
}

// AddSnapshot records an existing snapshot on a volume
func (p *Provider) AddSnapshot(volumeID, snapshotID string, state models.SnapshotState, startTime time.Time) *models.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := &models.Snapshot{
		ID:        snapshotID,
		VolumeID:  volumeID,
		State:     state,
		Progress:  progressFor(state),
		StartTime: startTime,
	}
	p.snapshots[volumeID] = append(p.snapshots[volumeID], snap)
	return snap
}

// CompleteSnapshots marks every pending snapshot as completed
func (p *Provider) CompleteSnapshots() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, snaps := range p.snapshots {
		for _, s := range snaps {
			if s.State == models.SnapshotStatePending {
				s.State = models.SnapshotStateCompleted
				s.Progress = "100%"
			}
		}
	}
}

// SetState forces an instance state
func (p *Provider) SetState(instanceID string, state models.InstanceState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instances[instanceID].State = state
	delete(p.targets, instanceID)
}

// State returns the current state of an instance without polling it
func (p *Provider) State(instanceID string) models.InstanceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.instances[instanceID].State
}

// Snapshots returns the snapshots of a volume as stored
func (p *Provider) Snapshots(volumeID string) []*models.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.Snapshot(nil), p.snapshots[volumeID]...)
}

// LastInput returns the provenance of the latest snapshot request for a volume
func (p *Provider) LastInput(volumeID string) (cloud.SnapshotInput, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.inputs[volumeID]
	return in, ok
}

// Events returns the ordered call log, e.g. "stop:i-1", "state:i-1=stopped",
// "snapshot:vol-1", "start:i-1"
func (p *Provider) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// EventsFor returns only the events mentioning the given resource id
func (p *Provider) EventsFor(ids ...string) []string {
	var out []string
	for _, e := range p.Events() {
		for _, id := range ids {
			if containsID(e, id) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func (p *Provider) record(format string, args ...interface{}) {
	p.events = append(p.events, fmt.Sprintf(format, args...))
}

func (p *Provider) ListInstances(ctx context.Context, project string) ([]*models.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.record("list:%s", project)
	if p.ListErr != nil {
		return nil, p.ListErr
	}

	var out []*models.Instance
	for _, id := range p.order {
		inst := p.instances[id]
		if project != "" && !p.IgnoreServerFilter && !inst.InProject(project) {
			continue
		}
		cp := *inst
		out = append(out, &cp)
	}
	return out, nil
}

func (p *Provider) GetInstanceState(ctx context.Context, instanceID string) (models.InstanceState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	inst, ok := p.instances[instanceID]
	if !ok {
		return "", fmt.Errorf("instance %s not found", instanceID)
	}
	if target, ok := p.targets[instanceID]; ok && !p.Stuck[instanceID] {
		inst.State = target
		delete(p.targets, instanceID)
	}
	p.record("state:%s=%s", instanceID, inst.State)
	return inst.State, nil
}

func (p *Provider) StartInstance(ctx context.Context, instanceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	p.record("start:%s", instanceID)
	if err := p.StartErr[instanceID]; err != nil {
		return err
	}
	inst, ok := p.instances[instanceID]
	if !ok {
		return fmt.Errorf("instance %s not found", instanceID)
	}
	if !p.Stuck[instanceID] {
		inst.State = models.InstanceStatePending
	}
	p.targets[instanceID] = models.InstanceStateRunning
	return nil
}

func (p *Provider) StopInstance(ctx context.Context, instanceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	p.record("stop:%s", instanceID)
	if err := p.StopErr[instanceID]; err != nil {
		return err
	}
	inst, ok := p.instances[instanceID]
	if !ok {
		return fmt.Errorf("instance %s not found", instanceID)
	}
	if !p.Stuck[instanceID] {
		inst.State = models.InstanceStateStopping
	}
	p.targets[instanceID] = models.InstanceStateStopped
	if p.AfterStop != nil {
		p.AfterStop(instanceID)
	}
	return nil
}

func (p *Provider) ListVolumes(ctx context.Context, instanceID string) ([]*models.Volume, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.record("volumes:%s", instanceID)
	if err := p.ListVolumesErr[instanceID]; err != nil {
		return nil, err
	}

	var out []*models.Volume
	for _, v := range p.volumes[instanceID] {
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

func (p *Provider) ListSnapshots(ctx context.Context, volumeID string) ([]*models.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.record("check:%s", volumeID)
	if err := p.ListSnapshotsErr[volumeID]; err != nil {
		return nil, err
	}

	var out []*models.Snapshot
	for _, s := range p.snapshots[volumeID] {
		cp := *s
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out, nil
}

func (p *Provider) CreateSnapshot(ctx context.Context, volumeID string, input cloud.SnapshotInput) (*models.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.record("snapshot:%s", volumeID)
	if err := p.CreateErr[volumeID]; err != nil {
		return nil, err
	}

	p.inputs[volumeID] = input
	p.nextSnap++
	snap := &models.Snapshot{
		ID:          fmt.Sprintf("snap-%04d", p.nextSnap),
		VolumeID:    volumeID,
		State:       models.SnapshotStatePending,
		Progress:    "0%",
		StartTime:   time.Now(),
		Description: input.Description,
	}
	p.snapshots[volumeID] = append(p.snapshots[volumeID], snap)
	if p.AfterCreate != nil {
		p.AfterCreate(volumeID)
	}
	cp := *snap
	return &cp, nil
}

func (p *Provider) ValidateCredentials(ctx context.Context) error {
	return ctx.Err()
}

func progressFor(state models.SnapshotState) string {
	if state == models.SnapshotStateCompleted {
		return "100%"
	}
	return "0%"
}

// containsID matches an id as a whole token after ':' and before '=' or end
func containsID(event, id string) bool {
	for i := 0; i+len(id) <= len(event); i++ {
		if event[i:i+len(id)] != id {
			continue
		}
		if i > 0 && event[i-1] != ':' {
			continue
		}
		end := i + len(id)
		if end == len(event) || event[end] == '=' {
			return true
		}
	}
	return false
}
