package infra

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
)

// DescribeClusters and DescribeServices accept at most this many names.
const (
	maxDescribeClusters = 100
	maxDescribeServices = 10
)

// ECSAPI is the part of the ECS client used here.
type ECSAPI interface {
	ListClusters(ctx context.Context, input *ecs.ListClustersInput, optFns ...func(*ecs.Options)) (*ecs.ListClustersOutput, error)
	DescribeClusters(ctx context.Context, input *ecs.DescribeClustersInput, optFns ...func(*ecs.Options)) (*ecs.DescribeClustersOutput, error)
	ListServices(ctx context.Context, input *ecs.ListServicesInput, optFns ...func(*ecs.Options)) (*ecs.ListServicesOutput, error)
	DescribeServices(ctx context.Context, input *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
}

// ECSCluster is one ECS cluster and its task counts.
type ECSCluster struct {
	Name               string `json:"cluster_name"`
	Status             string `json:"status"`
	RunningTasks       int32  `json:"running_tasks"`
	PendingTasks       int32  `json:"pending_tasks"`
	ContainerInstances int32  `json:"registered_container_instances"`
	ActiveServices     int32  `json:"active_services"`
}

// ECSService is one ECS service's deployment counts.
type ECSService struct {
	Name    string `json:"service_name"`
	Cluster string `json:"cluster"`
	Status  string `json:"status"`
	Desired int32  `json:"desired_count"`
	Running int32  `json:"running_count"`
	Pending int32  `json:"pending_count"`
}

// Healthy reports whether every desired task is running.
func (s ECSService) Healthy() bool {
	return s.Running >= s.Desired && s.Pending == 0
}

// ECS lists every cluster in the region and the services in each.
func (c *Client) ECS(ctx context.Context) ([]ECSCluster, []ECSService, error) {
	if c.apis.ECS == nil {
		return nil, nil, errNoClient("ecs")
	}

	var arns []string
	paginator := ecs.NewListClustersPaginator(c.apis.ECS, &ecs.ListClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("list ecs clusters in %s: %w", c.region, err)
		}
		arns = append(arns, page.ClusterArns...)
	}

	var (
		clusters []ECSCluster
		services []ECSService
	)
	for _, batch := range chunk(arns, maxDescribeClusters) {
		out, err := c.apis.ECS.DescribeClusters(ctx, &ecs.DescribeClustersInput{Clusters: batch})
		if err != nil {
			return nil, nil, fmt.Errorf("describe ecs clusters in %s: %w", c.region, err)
		}
		for _, cluster := range out.Clusters {
			clusters = append(clusters, fromECSCluster(cluster))
			clusterServices, err := c.ecsServices(ctx, cluster)
			if err != nil {
				return nil, nil, err
			}
			services = append(services, clusterServices...)
		}
	}

	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Name < clusters[j].Name })
	sort.SliceStable(services, func(i, j int) bool {
		if services[i].Cluster != services[j].Cluster {
			return services[i].Cluster < services[j].Cluster
		}
		return services[i].Name < services[j].Name
	})
	c.logger.Debug().Str("region", c.region).Int("clusters", len(clusters)).Int("services", len(services)).Msg("listed ecs clusters")
	return clusters, services, nil
}

func (c *Client) ecsServices(ctx context.Context, cluster ecstypes.Cluster) ([]ECSService, error) {
	name := aws.ToString(cluster.ClusterName)

	var arns []string
	paginator := ecs.NewListServicesPaginator(c.apis.ECS, &ecs.ListServicesInput{Cluster: cluster.ClusterArn})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list services in ecs cluster %s: %w", name, err)
		}
		arns = append(arns, page.ServiceArns...)
	}

	var services []ECSService
	for _, batch := range chunk(arns, maxDescribeServices) {
		out, err := c.apis.ECS.DescribeServices(ctx, &ecs.DescribeServicesInput{Cluster: cluster.ClusterArn, Services: batch})
		if err != nil {
			return nil, fmt.Errorf("describe services in ecs cluster %s: %w", name, err)
		}
		for _, svc := range out.Services {
			services = append(services, ECSService{
				Name:    aws.ToString(svc.ServiceName),
				Cluster: name,
				Status:  aws.ToString(svc.Status),
				Desired: svc.DesiredCount,
				Running: svc.RunningCount,
				Pending: svc.PendingCount,
			})
		}
	}
	return services, nil
}

func fromECSCluster(cluster ecstypes.Cluster) ECSCluster {
	return ECSCluster{
		Name:               aws.ToString(cluster.ClusterName),
		Status:             aws.ToString(cluster.Status),
		RunningTasks:       cluster.RunningTasksCount,
		PendingTasks:       cluster.PendingTasksCount,
		ContainerInstances: cluster.RegisteredContainerInstancesCount,
		ActiveServices:     cluster.ActiveServicesCount,
	}
}

func chunk(values []string, size int) [][]string {
	var batches [][]string
	for len(values) > size {
		batches = append(batches, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		batches = append(batches, values)
	}
	return batches
}
