package infra

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
)

// ELBAPI is the part of the Elastic Load Balancing v2 client used here.
type ELBAPI interface {
	DescribeLoadBalancers(ctx context.Context, input *elbv2.DescribeLoadBalancersInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeLoadBalancersOutput, error)
	DescribeTargetGroups(ctx context.Context, input *elbv2.DescribeTargetGroupsInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeTargetGroupsOutput, error)
	DescribeTargetHealth(ctx context.Context, input *elbv2.DescribeTargetHealthInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeTargetHealthOutput, error)
}

// LoadBalancer is one ALB or NLB and the health of its target groups.
type LoadBalancer struct {
	Name         string        `json:"name"`
	DNSName      string        `json:"dns_name"`
	Type         string        `json:"type"`
	Scheme       string        `json:"scheme,omitempty"`
	State        string        `json:"state"`
	TargetGroups []TargetGroup `json:"target_groups"`
}

// TargetGroup counts registered targets by health.
type TargetGroup struct {
	Name      string `json:"name"`
	Protocol  string `json:"protocol,omitempty"`
	Healthy   int    `json:"healthy_count"`
	Unhealthy int    `json:"unhealthy_count"`
}

// LoadBalancers lists every load balancer in the region with target health.
func (c *Client) LoadBalancers(ctx context.Context) ([]LoadBalancer, error) {
	if c.apis.ELB == nil {
		return nil, errNoClient("elb")
	}

	var balancers []LoadBalancer
	paginator := elbv2.NewDescribeLoadBalancersPaginator(c.apis.ELB, &elbv2.DescribeLoadBalancersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe load balancers in %s: %w", c.region, err)
		}
		for _, lb := range page.LoadBalancers {
			balancer := LoadBalancer{
				Name:    aws.ToString(lb.LoadBalancerName),
				DNSName: aws.ToString(lb.DNSName),
				Type:    string(lb.Type),
				Scheme:  string(lb.Scheme),
				State:   "unknown",
			}
			if lb.State != nil {
				balancer.State = string(lb.State.Code)
			}
			groups, err := c.targetGroups(ctx, lb)
			if err != nil {
				return nil, err
			}
			balancer.TargetGroups = groups
			balancers = append(balancers, balancer)
		}
	}
	sort.Slice(balancers, func(i, j int) bool { return balancers[i].Name < balancers[j].Name })
	return balancers, nil
}

func (c *Client) targetGroups(ctx context.Context, lb elbv2types.LoadBalancer) ([]TargetGroup, error) {
	name := aws.ToString(lb.LoadBalancerName)

	groups := []TargetGroup{}
	paginator := elbv2.NewDescribeTargetGroupsPaginator(c.apis.ELB, &elbv2.DescribeTargetGroupsInput{LoadBalancerArn: lb.LoadBalancerArn})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe target groups of %s: %w", name, err)
		}
		for _, tg := range page.TargetGroups {
			health, err := c.apis.ELB.DescribeTargetHealth(ctx, &elbv2.DescribeTargetHealthInput{TargetGroupArn: tg.TargetGroupArn})
			if err != nil {
				return nil, fmt.Errorf("describe target health of %s: %w", aws.ToString(tg.TargetGroupName), err)
			}
			group := TargetGroup{
				Name:     aws.ToString(tg.TargetGroupName),
				Protocol: string(tg.Protocol),
			}
			for _, desc := range health.TargetHealthDescriptions {
				if desc.TargetHealth != nil && desc.TargetHealth.State == elbv2types.TargetHealthStateEnumHealthy {
					group.Healthy++
				} else {
					group.Unhealthy++
				}
			}
			groups = append(groups, group)
		}
	}
	return groups, nil
}
