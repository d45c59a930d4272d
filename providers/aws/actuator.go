package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/arclabs561/runctl/providers"
	"github.com/arclabs561/runctl/types"
)

// AttachVolume attaches a volume to an instance at the given device.
// An already-attached volume is reported as a state conflict, not retried.
func (p *Provider) AttachVolume(ctx context.Context, volumeID, instanceID, device string) error {
	vol, err := p.DescribeVolume(ctx, volumeID)
	if err != nil {
		return err
	}
	if vol.AttachedTo != "" && vol.AttachedTo != instanceID {
		return &types.StateConflictError{
			ResourceID: volumeID,
			Msg:        fmt.Sprintf("already attached to %s", vol.AttachedTo),
		}
	}
	if vol.AttachedTo == instanceID {
		return nil
	}

	_, err = p.ec2Client.AttachVolume(ctx, &ec2.AttachVolumeInput{
		VolumeId:   awssdk.String(volumeID),
		InstanceId: awssdk.String(instanceID),
		Device:     awssdk.String(device),
	})
	if err != nil {
		return p.classifyError(err)
	}
	return nil
}

// DetachVolume detaches a volume. Detaching an already-free volume is a no-op.
func (p *Provider) DetachVolume(ctx context.Context, volumeID, instanceID string, force bool) error {
	vol, err := p.DescribeVolume(ctx, volumeID)
	if err != nil {
		return err
	}
	if vol.AttachedTo == "" {
		return nil
	}

	input := &ec2.DetachVolumeInput{
		VolumeId: awssdk.String(volumeID),
		Force:    awssdk.Bool(force),
	}
	if instanceID != "" {
		input.InstanceId = awssdk.String(instanceID)
	}

	if _, err := p.ec2Client.DetachVolume(ctx, input); err != nil {
		return p.classifyError(err)
	}
	return nil
}

// CreateSnapshot requests a snapshot of a volume and returns its ID.
func (p *Provider) CreateSnapshot(ctx context.Context, volumeID, description string, tags map[string]string) (string, error) {
	input := &ec2.CreateSnapshotInput{
		VolumeId:    awssdk.String(volumeID),
		Description: awssdk.String(description),
	}
	if len(tags) > 0 {
		input.TagSpecifications = []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeSnapshot,
			Tags:         toEC2Tags(tags),
		}}
	}

	output, err := p.ec2Client.CreateSnapshot(ctx, input)
	if err != nil {
		return "", p.classifyError(err)
	}
	return str(output.SnapshotId), nil
}

// DescribeSnapshot fetches the current state of one snapshot.
func (p *Provider) DescribeSnapshot(ctx context.Context, snapshotID string) (providers.RawSnapshot, error) {
	output, err := p.ec2Client.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{
		SnapshotIds: []string{snapshotID},
	})
	if err != nil {
		return providers.RawSnapshot{}, p.classifyError(err)
	}
	if len(output.Snapshots) == 0 {
		return providers.RawSnapshot{}, types.NewValidationError("snapshot_id", "snapshot "+snapshotID+" not found")
	}
	return p.rawSnapshot(output.Snapshots[0]), nil
}

// DescribeVolume fetches the current state of one volume.
func (p *Provider) DescribeVolume(ctx context.Context, volumeID string) (providers.RawVolume, error) {
	output, err := p.ec2Client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
		VolumeIds: []string{volumeID},
	})
	if err != nil {
		return providers.RawVolume{}, p.classifyError(err)
	}
	if len(output.Volumes) == 0 {
		return providers.RawVolume{}, types.NewValidationError("volume_id", "volume "+volumeID+" not found")
	}
	return p.rawVolume(output.Volumes[0]), nil
}

// DeleteVolume deletes an unattached volume.
func (p *Provider) DeleteVolume(ctx context.Context, volumeID string) error {
	vol, err := p.DescribeVolume(ctx, volumeID)
	if err != nil {
		return err
	}
	if vol.AttachedTo != "" {
		return &types.StateConflictError{
			ResourceID: volumeID,
			Msg:        fmt.Sprintf("attached to %s, detach first", vol.AttachedTo),
		}
	}

	if _, err := p.ec2Client.DeleteVolume(ctx, &ec2.DeleteVolumeInput{
		VolumeId: awssdk.String(volumeID),
	}); err != nil {
		return p.classifyError(err)
	}
	return nil
}

// DeleteSnapshot deletes a snapshot by ID.
func (p *Provider) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	if _, err := p.ec2Client.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{
		SnapshotId: awssdk.String(snapshotID),
	}); err != nil {
		return p.classifyError(err)
	}
	return nil
}
