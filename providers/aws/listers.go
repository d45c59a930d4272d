package aws

import (
	"context"
	"strconv"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/arclabs561/runctl/providers"
)

// ListInstances enumerates EC2 instances in the region.
func (p *Provider) ListInstances(ctx context.Context) ([]providers.RawInstance, error) {
	var raws []providers.RawInstance
	paginator := ec2.NewDescribeInstancesPaginator(p.ec2Client, &ec2.DescribeInstancesInput{})

	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, p.classifyError(err)
		}
		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				raws = append(raws, p.rawInstance(ctx, instance))
			}
		}
	}

	return raws, nil
}

func (p *Provider) rawInstance(ctx context.Context, instance ec2types.Instance) providers.RawInstance {
	tags := convertEC2Tags(instance.Tags)

	raw := providers.RawInstance{
		ID:           str(instance.InstanceId),
		Name:         tags["Name"],
		Region:       p.region,
		State:        string(stateName(instance.State)),
		InstanceType: string(instance.InstanceType),
		PublicIP:     str(instance.PublicIpAddress),
		Spot:         instance.InstanceLifecycle == ec2types.InstanceLifecycleTypeSpot,
		Tags:         tags,
		LaunchedAt:   awssdk.ToTime(instance.LaunchTime),
	}

	for _, mapping := range instance.BlockDeviceMappings {
		if mapping.Ebs != nil {
			raw.AttachedVolumes = append(raw.AttachedVolumes, str(mapping.Ebs.VolumeId))
		}
	}

	if raw.Spot {
		// Best effort. A missing spot price degrades to an on-demand
		// estimate downstream, never an error.
		if price, ok := p.spotPrice(ctx, raw.InstanceType, availabilityZone(instance)); ok {
			raw.SpotPrice = price
		}
	}

	return raw
}

// ListVolumes enumerates EBS volumes in the region.
func (p *Provider) ListVolumes(ctx context.Context) ([]providers.RawVolume, error) {
	var raws []providers.RawVolume
	paginator := ec2.NewDescribeVolumesPaginator(p.ec2Client, &ec2.DescribeVolumesInput{})

	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, p.classifyError(err)
		}
		for _, volume := range output.Volumes {
			raws = append(raws, p.rawVolume(volume))
		}
	}

	return raws, nil
}

func (p *Provider) rawVolume(volume ec2types.Volume) providers.RawVolume {
	tags := convertEC2Tags(volume.Tags)

	raw := providers.RawVolume{
		ID:         str(volume.VolumeId),
		Name:       tags["Name"],
		Region:     p.region,
		State:      string(volume.State),
		SizeGB:     awssdk.ToInt32(volume.Size),
		VolumeType: string(volume.VolumeType),
		IOPS:       awssdk.ToInt32(volume.Iops),
		Throughput: awssdk.ToInt32(volume.Throughput),
		Tags:       tags,
		CreatedAt:  awssdk.ToTime(volume.CreateTime),
	}

	for _, att := range volume.Attachments {
		if att.State == ec2types.VolumeAttachmentStateAttached ||
			att.State == ec2types.VolumeAttachmentStateAttaching {
			raw.AttachedTo = str(att.InstanceId)
			break
		}
	}

	return raw
}

// ListSnapshots enumerates snapshots owned by this account.
func (p *Provider) ListSnapshots(ctx context.Context) ([]providers.RawSnapshot, error) {
	var raws []providers.RawSnapshot
	paginator := ec2.NewDescribeSnapshotsPaginator(p.ec2Client, &ec2.DescribeSnapshotsInput{
		OwnerIds: []string{"self"},
	})

	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, p.classifyError(err)
		}
		for _, snapshot := range output.Snapshots {
			raws = append(raws, p.rawSnapshot(snapshot))
		}
	}

	return raws, nil
}

func (p *Provider) rawSnapshot(snapshot ec2types.Snapshot) providers.RawSnapshot {
	tags := convertEC2Tags(snapshot.Tags)

	return providers.RawSnapshot{
		ID:             str(snapshot.SnapshotId),
		Name:           tags["Name"],
		Region:         p.region,
		State:          string(snapshot.State),
		SourceVolumeID: str(snapshot.VolumeId),
		SizeGB:         awssdk.ToInt32(snapshot.VolumeSize),
		Tags:           tags,
		CreatedAt:      awssdk.ToTime(snapshot.StartTime),
	}
}

// spotPrice returns the most recent spot price for an instance type.
func (p *Provider) spotPrice(ctx context.Context, instanceType, az string) (float64, bool) {
	input := &ec2.DescribeSpotPriceHistoryInput{
		InstanceTypes:       []ec2types.InstanceType{ec2types.InstanceType(instanceType)},
		ProductDescriptions: []string{"Linux/UNIX"},
		StartTime:           awssdk.Time(time.Now().Add(-time.Hour)),
		MaxResults:          awssdk.Int32(1),
	}
	if az != "" {
		input.AvailabilityZone = awssdk.String(az)
	}

	output, err := p.ec2Client.DescribeSpotPriceHistory(ctx, input)
	if err != nil || len(output.SpotPriceHistory) == 0 {
		return 0, false
	}

	price, err := strconv.ParseFloat(str(output.SpotPriceHistory[0].SpotPrice), 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

func stateName(state *ec2types.InstanceState) ec2types.InstanceStateName {
	if state == nil {
		return ""
	}
	return state.Name
}

func availabilityZone(instance ec2types.Instance) string {
	if instance.Placement == nil {
		return ""
	}
	return str(instance.Placement.AvailabilityZone)
}
