package infra

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
)

// RDSAPI is the part of the RDS client used here.
type RDSAPI interface {
	DescribeDBInstances(ctx context.Context, input *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
}

// Database is one RDS instance.
type Database struct {
	Identifier    string `json:"identifier"`
	Engine        string `json:"engine"`
	EngineVersion string `json:"engine_version,omitempty"`
	Status        string `json:"status"`
	Class         string `json:"instance_class"`
	Endpoint      string `json:"endpoint,omitempty"`
}

// Databases lists every RDS instance in the region, sorted by identifier.
func (c *Client) Databases(ctx context.Context) ([]Database, error) {
	if c.apis.RDS == nil {
		return nil, errNoClient("rds")
	}

	var databases []Database
	paginator := rds.NewDescribeDBInstancesPaginator(c.apis.RDS, &rds.DescribeDBInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe db instances in %s: %w", c.region, err)
		}
		for _, db := range page.DBInstances {
			databases = append(databases, fromRDS(db))
		}
	}
	sort.Slice(databases, func(i, j int) bool { return databases[i].Identifier < databases[j].Identifier })
	return databases, nil
}

func fromRDS(db rdstypes.DBInstance) Database {
	out := Database{
		Identifier:    aws.ToString(db.DBInstanceIdentifier),
		Engine:        aws.ToString(db.Engine),
		EngineVersion: aws.ToString(db.EngineVersion),
		Status:        aws.ToString(db.DBInstanceStatus),
		Class:         aws.ToString(db.DBInstanceClass),
	}
	if db.Endpoint != nil {
		out.Endpoint = aws.ToString(db.Endpoint.Address)
	}
	return out
}
