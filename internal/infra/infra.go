// Package infra reports the AWS resources behind configured environments:
// EC2 instances, ECS clusters and services, RDS instances and load balancer
// target health. It only reads from AWS.
package infra

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/rs/zerolog"
)

// Instance is the subset of an EC2 instance the CLI shows.
type Instance struct {
	ID         string    `json:"instance_id"`
	Name       string    `json:"name"`
	State      string    `json:"state"`
	Type       string    `json:"instance_type"`
	PublicIP   string    `json:"public_ip,omitempty"`
	PrivateIP  string    `json:"private_ip,omitempty"`
	PublicDNS  string    `json:"public_dns,omitempty"`
	PrivateDNS string    `json:"private_dns,omitempty"`
	LaunchedAt time.Time `json:"launched_at,omitempty"`
}

// EC2API is the part of the EC2 client used here.
type EC2API interface {
	DescribeInstances(ctx context.Context, input *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// APIs holds the service clients. A nil API leaves its section out of Status.
type APIs struct {
	EC2 EC2API
	ECS ECSAPI
	RDS RDSAPI
	ELB ELBAPI
}

// Client queries AWS in one region.
type Client struct {
	apis   APIs
	region string
	logger zerolog.Logger
}

// NewClient loads the shared AWS configuration for profile and region.
func NewClient(ctx context.Context, region, profile string, logger zerolog.Logger) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewClientWithAPIs(APIs{
		EC2: ec2.NewFromConfig(cfg),
		ECS: ecs.NewFromConfig(cfg),
		RDS: rds.NewFromConfig(cfg),
		ELB: elbv2.NewFromConfig(cfg),
	}, region, logger), nil
}

// NewClientWithAPIs wraps existing service clients.
func NewClientWithAPIs(apis APIs, region string, logger zerolog.Logger) *Client {
	return &Client{apis: apis, region: region, logger: logger}
}

// Region returns the region queried.
func (c *Client) Region() string {
	return c.region
}

// Instances lists every instance in the region, sorted by name then ID.
func (c *Client) Instances(ctx context.Context) ([]Instance, error) {
	if c.apis.EC2 == nil {
		return nil, errNoClient("ec2")
	}
	var instances []Instance
	pages := 0
	paginator := ec2.NewDescribeInstancesPaginator(c.apis.EC2, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe instances in %s: %w", c.region, err)
		}
		pages++
		for _, reservation := range page.Reservations {
			for _, instance := range reservation.Instances {
				instances = append(instances, fromEC2(instance))
			}
		}
	}
	sort.Slice(instances, func(i, j int) bool {
		if instances[i].Name != instances[j].Name {
			return instances[i].Name < instances[j].Name
		}
		return instances[i].ID < instances[j].ID
	})
	c.logger.Debug().Str("region", c.region).Int("pages", pages).Int("instances", len(instances)).Msg("listed ec2 instances")
	return instances, nil
}

func fromEC2(instance ec2types.Instance) Instance {
	out := Instance{
		ID:         aws.ToString(instance.InstanceId),
		Type:       string(instance.InstanceType),
		PublicIP:   aws.ToString(instance.PublicIpAddress),
		PrivateIP:  aws.ToString(instance.PrivateIpAddress),
		PublicDNS:  aws.ToString(instance.PublicDnsName),
		PrivateDNS: aws.ToString(instance.PrivateDnsName),
		LaunchedAt: aws.ToTime(instance.LaunchTime),
	}
	if instance.State != nil {
		out.State = string(instance.State.Name)
	}
	for _, tag := range instance.Tags {
		if aws.ToString(tag.Key) == "Name" {
			out.Name = aws.ToString(tag.Value)
			break
		}
	}
	return out
}

// MatchHost returns the instance reachable at host, by DNS name or IP.
func MatchHost(instances []Instance, host string) (Instance, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return Instance{}, false
	}
	for _, instance := range instances {
		for _, candidate := range []string{instance.PublicDNS, instance.PrivateDNS, instance.PublicIP, instance.PrivateIP} {
			if candidate != "" && strings.ToLower(candidate) == host {
				return instance, true
			}
		}
	}
	return Instance{}, false
}
