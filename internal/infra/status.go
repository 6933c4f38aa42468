package infra

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is a snapshot of every AWS resource the client can see. A section
// that failed is empty and its error is kept under its name in Errors.
type Status struct {
	Region        string            `json:"region"`
	Instances     []Instance        `json:"ec2_instances"`
	ECSClusters   []ECSCluster      `json:"ecs_clusters"`
	ECSServices   []ECSService      `json:"ecs_services"`
	Databases     []Database        `json:"rds_instances"`
	LoadBalancers []LoadBalancer    `json:"load_balancers"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Errors        map[string]string `json:"errors,omitempty"`
}

func errNoClient(service string) error {
	return fmt.Errorf("no %s client configured", service)
}

// Status queries every configured service concurrently. It fails only when
// no section could be read.
func (c *Client) Status(ctx context.Context) (Status, error) {
	status := Status{
		Region:        c.region,
		Instances:     []Instance{},
		ECSClusters:   []ECSCluster{},
		ECSServices:   []ECSService{},
		Databases:     []Database{},
		LoadBalancers: []LoadBalancer{},
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures = map[string]error{}
		sections = 0
	)
	run := func(name string, fetch func() error) {
		sections++
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fetch(); err != nil {
				mu.Lock()
				failures[name] = err
				mu.Unlock()
			}
		}()
	}

	if c.apis.EC2 != nil {
		run("ec2", func() error {
			instances, err := c.Instances(ctx)
			if err == nil {
				mu.Lock()
				status.Instances = instances
				mu.Unlock()
			}
			return err
		})
	}
	if c.apis.ECS != nil {
		run("ecs", func() error {
			clusters, services, err := c.ECS(ctx)
			if err == nil {
				mu.Lock()
				status.ECSClusters = clusters
				status.ECSServices = services
				mu.Unlock()
			}
			return err
		})
	}
	if c.apis.RDS != nil {
		run("rds", func() error {
			databases, err := c.Databases(ctx)
			if err == nil {
				mu.Lock()
				status.Databases = databases
				mu.Unlock()
			}
			return err
		})
	}
	if c.apis.ELB != nil {
		run("elb", func() error {
			balancers, err := c.LoadBalancers(ctx)
			if err == nil {
				mu.Lock()
				status.LoadBalancers = balancers
				mu.Unlock()
			}
			return err
		})
	}
	wg.Wait()
	status.UpdatedAt = time.Now().UTC()

	if sections == 0 {
		return status, errors.New("no aws clients configured")
	}
	if len(failures) == 0 {
		return status, nil
	}

	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)
	status.Errors = make(map[string]string, len(failures))
	errs := make([]error, 0, len(failures))
	for _, name := range names {
		status.Errors[name] = failures[name].Error()
		errs = append(errs, failures[name])
		c.logger.Warn().Err(failures[name]).Str("region", c.region).Str("section", name).Msg("aws inventory section failed")
	}
	if len(failures) == sections {
		return status, errors.Join(errs...)
	}
	return status, nil
}
