package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/arclabs561/runctl/types"
)

// bootstrapInstanceType is deliberately small and cheap; the bootstrap
// only shovels bytes from object storage onto the volume.
const bootstrapInstanceType = ec2types.InstanceTypeT3Micro

// LaunchBootstrap starts a helper instance in the volume's AZ.
func (p *Provider) LaunchBootstrap(ctx context.Context, availabilityZone string, tags map[string]string) (string, error) {
	if p.bootstrapAMI == "" {
		return "", types.NewValidationError("bootstrap_ami", "no bootstrap AMI configured")
	}

	input := &ec2.RunInstancesInput{
		ImageId:      awssdk.String(p.bootstrapAMI),
		InstanceType: bootstrapInstanceType,
		MinCount:     awssdk.Int32(1),
		MaxCount:     awssdk.Int32(1),
		Placement: &ec2types.Placement{
			AvailabilityZone: awssdk.String(availabilityZone),
		},
	}
	if len(tags) > 0 {
		input.TagSpecifications = []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeInstance,
			Tags:         toEC2Tags(tags),
		}}
	}

	output, err := p.ec2Client.RunInstances(ctx, input)
	if err != nil {
		return "", p.classifyError(err)
	}
	if len(output.Instances) == 0 {
		return "", &types.ProviderUnavailableError{Provider: "aws", Err: fmt.Errorf("RunInstances returned no instances")}
	}

	instanceID := str(output.Instances[0].InstanceId)

	if err := p.waitInstanceRunning(ctx, instanceID); err != nil {
		return instanceID, err
	}
	return instanceID, nil
}

// instanceState returns the current state name of one instance, or ""
// when the instance is not in the listing.
func (p *Provider) instanceState(ctx context.Context, instanceID string) (ec2types.InstanceStateName, error) {
	output, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return "", p.classifyError(err)
	}

	for _, reservation := range output.Reservations {
		for _, instance := range reservation.Instances {
			return stateName(instance.State), nil
		}
	}
	return "", nil
}

// InstanceAlive reports whether an instance still exists and is usable.
// Used on resume to decide between re-using and abandoning a bootstrap;
// a still-booting instance counts as alive here.
func (p *Provider) InstanceAlive(ctx context.Context, instanceID string) (bool, error) {
	state, err := p.instanceState(ctx, instanceID)
	if err != nil {
		// A vanished instance ID is a definite "not alive", not a failure.
		if strings.Contains(err.Error(), "InvalidInstanceID") {
			return false, nil
		}
		return false, err
	}
	return state == ec2types.InstanceStateNameRunning || state == ec2types.InstanceStateNamePending, nil
}

// TerminateInstance terminates an instance by ID.
func (p *Provider) TerminateInstance(ctx context.Context, instanceID string) error {
	_, err := p.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return p.classifyError(err)
	}
	return nil
}

// ObjectSourceExists checks that an s3://bucket/prefix source has at
// least one object before a bootstrap instance is paid for.
func (p *Provider) ObjectSourceExists(ctx context.Context, source string) (bool, error) {
	bucket, prefix, err := splitObjectSource(source)
	if err != nil {
		return false, err
	}

	output, err := p.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  awssdk.String(bucket),
		Prefix:  awssdk.String(prefix),
		MaxKeys: awssdk.Int32(1),
	})
	if err != nil {
		return false, p.classifyError(err)
	}
	return awssdk.ToInt32(output.KeyCount) > 0, nil
}

func splitObjectSource(source string) (bucket, prefix string, err error) {
	trimmed, ok := strings.CutPrefix(source, "s3://")
	if !ok || trimmed == "" {
		return "", "", types.NewValidationError("source", "must be an s3://bucket[/prefix] URI")
	}
	bucket, prefix, _ = strings.Cut(trimmed, "/")
	return bucket, prefix, nil
}

// mountAndSyncScript mirrors the original pre-warm script: find the
// attached device, format if blank, mount, then sync from object
// storage with s5cmd when present.
const mountAndSyncScript = `set -e
DEVICE=""
for dev in /dev/nvme1n1 /dev/xvdf /dev/sdf; do
    if [ -b "$dev" ] && [ "$(lsblk -o MOUNTPOINT -n $dev)" = "" ]; then
        DEVICE="$dev"
        break
    fi
done
if [ -z "$DEVICE" ]; then
    echo "ERROR: no unmounted device found"
    exit 1
fi
if ! blkid $DEVICE > /dev/null 2>&1; then
    sudo mkfs -t xfs $DEVICE
fi
sudo mkdir -p %[1]s
sudo mount $DEVICE %[1]s
if command -v s5cmd > /dev/null 2>&1; then
    s5cmd cp --recursive %[2]s %[1]s/
else
    aws s3 sync %[2]s %[1]s/
fi
du -sh %[1]s
sudo umount %[1]s
`

// RunSync executes the mount-and-sync script on the bootstrap instance
// via SSM and waits for the invocation to finish.
func (p *Provider) RunSync(ctx context.Context, instanceID, objectSource, mountPoint string) error {
	if mountPoint == "" {
		mountPoint = "/mnt/data"
	}
	script := fmt.Sprintf(mountAndSyncScript, mountPoint, objectSource)

	sendOutput, err := p.ssmClient.SendCommand(ctx, &ssm.SendCommandInput{
		InstanceIds:  []string{instanceID},
		DocumentName: awssdk.String("AWS-RunShellScript"),
		Parameters: map[string][]string{
			"commands": {script},
		},
	})
	if err != nil {
		return p.classifyError(err)
	}

	commandID := str(sendOutput.Command.CommandId)
	return p.waitCommand(ctx, commandID, instanceID)
}

// verifyDeviceScript checks that an attached volume is visible as a
// block device. Nitro instances renumber devices, so the requested
// name and the nvme fallbacks are all accepted.
const verifyDeviceScript = `for dev in %[1]s /dev/nvme1n1 /dev/nvme2n1; do
    if [ -b "$dev" ]; then
        exit 0
    fi
done
echo "ERROR: no block device found for %[1]s"
exit 1
`

// VerifyMount runs the device presence check on the instance over SSM.
func (p *Provider) VerifyMount(ctx context.Context, instanceID, device string) error {
	script := fmt.Sprintf(verifyDeviceScript, device)

	sendOutput, err := p.ssmClient.SendCommand(ctx, &ssm.SendCommandInput{
		InstanceIds:  []string{instanceID},
		DocumentName: awssdk.String("AWS-RunShellScript"),
		Parameters: map[string][]string{
			"commands": {script},
		},
	})
	if err != nil {
		return p.classifyError(err)
	}
	return p.waitCommand(ctx, str(sendOutput.Command.CommandId), instanceID)
}

func (p *Provider) waitCommand(ctx context.Context, commandID, instanceID string) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 60), ctx)

	return backoff.Retry(func() error {
		output, err := p.ssmClient.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
			CommandId:  awssdk.String(commandID),
			InstanceId: awssdk.String(instanceID),
		})
		if err != nil {
			return err
		}
		switch output.Status {
		case ssmtypes.CommandInvocationStatusSuccess:
			return nil
		case ssmtypes.CommandInvocationStatusFailed,
			ssmtypes.CommandInvocationStatusCancelled,
			ssmtypes.CommandInvocationStatusTimedOut:
			return backoff.Permanent(fmt.Errorf("sync command %s: %s", commandID, output.Status))
		}
		return fmt.Errorf("sync command %s still %s", commandID, output.Status)
	}, policy)
}

// waitInstanceRunning blocks until the instance reaches running.
// Pending is not enough: the SSM agent the sync step depends on only
// comes up once the instance is actually running.
func (p *Provider) waitInstanceRunning(ctx context.Context, instanceID string) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(p.launchPoll())), 30), ctx)

	return backoff.Retry(func() error {
		state, err := p.instanceState(ctx, instanceID)
		if err != nil {
			return backoff.Permanent(err)
		}
		switch state {
		case ec2types.InstanceStateNameRunning:
			return nil
		case ec2types.InstanceStateNameShuttingDown,
			ec2types.InstanceStateNameTerminated,
			ec2types.InstanceStateNameStopping,
			ec2types.InstanceStateNameStopped:
			return backoff.Permanent(fmt.Errorf("instance %s went %s while waiting for running", instanceID, state))
		}
		return fmt.Errorf("instance %s still %s", instanceID, orPending(state))
	}, policy)
}

// orPending names the not-yet-listed window right after RunInstances.
func orPending(state ec2types.InstanceStateName) ec2types.InstanceStateName {
	if state == "" {
		return ec2types.InstanceStateNamePending
	}
	return state
}

func (p *Provider) launchPoll() time.Duration {
	if p.launchPollInterval > 0 {
		return p.launchPollInterval
	}
	return 2 * time.Second
}
