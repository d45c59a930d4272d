// Package aws adapts AWS EC2, S3, and SSM into the runctl provider
// interface. All SDK shapes are converted to typed raw descriptors at
// this boundary; nothing upstream sees an SDK type.
package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"

	"github.com/arclabs561/runctl/providers"
	"github.com/arclabs561/runctl/types"
)

func init() {
	providers.Register("aws", func(ctx context.Context, cfg providers.Config) (providers.Provider, error) {
		return NewProvider(ctx, cfg)
	})
}

// Provider implements providers.Provider on the AWS SDK v2.
type Provider struct {
	ec2Client    EC2API
	ssmClient    SSMAPI
	s3Client     S3API
	region       string
	ownerTag     string
	bootstrapAMI string

	// launchPollInterval overrides the bootstrap-launch poll cadence,
	// set only by tests.
	launchPollInterval time.Duration
}

// NewProvider builds a provider from the default AWS config chain.
func NewProvider(ctx context.Context, cfg providers.Config) (*Provider, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Provider{
		ec2Client:    ec2.NewFromConfig(awsCfg),
		ssmClient:    ssm.NewFromConfig(awsCfg),
		s3Client:     s3.NewFromConfig(awsCfg),
		region:       cfg.Region,
		ownerTag:     cfg.OwnerTag,
		bootstrapAMI: cfg.BootstrapAMI,
	}, nil
}

// NewProviderWithClients wires explicit clients, used by tests.
func NewProviderWithClients(ec2Client EC2API, ssmClient SSMAPI, s3Client S3API, region string) *Provider {
	return &Provider{
		ec2Client: ec2Client,
		ssmClient: ssmClient,
		s3Client:  s3Client,
		region:    region,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return "aws" }

// Region returns the configured region.
func (p *Provider) Region() string { return p.region }

// classifyError maps SDK failures onto the runctl error taxonomy so the
// collector can distinguish transient outages from denied access.
func (p *Provider) classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case strings.Contains(code, "Unauthorized"),
			strings.Contains(code, "AccessDenied"),
			code == "AuthFailure",
			code == "UnauthorizedOperation":
			return &types.ProviderDeniedError{Provider: "aws", Err: err}
		case code == "RequestLimitExceeded",
			code == "Throttling",
			code == "ThrottlingException",
			code == "ServiceUnavailable",
			code == "InternalError":
			return &types.ProviderUnavailableError{Provider: "aws", Err: err}
		}
		return err
	}

	// Connection-level failures have no API error code.
	return &types.ProviderUnavailableError{Provider: "aws", Err: err}
}

var _ providers.Provider = (*Provider)(nil)

// helper for optional SDK strings
func str(s *string) string { return awssdk.ToString(s) }
