package aws

import (
	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

func convertEC2Tags(tags []ec2types.Tag) map[string]string {
	converted := make(map[string]string, len(tags))
	for _, tag := range tags {
		converted[str(tag.Key)] = str(tag.Value)
	}
	return converted
}

func toEC2Tags(tags map[string]string) []ec2types.Tag {
	converted := make([]ec2types.Tag, 0, len(tags))
	for key, value := range tags {
		converted = append(converted, ec2types.Tag{
			Key:   awssdk.String(key),
			Value: awssdk.String(value),
		})
	}
	return converted
}
