package graphsink

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"niemgraph/internal/pipeline/report"
)

// Neo4jSink commits statement sequences to a Neo4j server. One Commit call
// maps to one managed write transaction; the driver retries transient
// failures internally, and a statement error rolls the whole file back.
type Neo4jSink struct {
	driver   neo4j.DriverWithContext
	database string
}

// OpenNeo4j connects to the given bolt endpoint and verifies connectivity.
func OpenNeo4j(ctx context.Context, uri, user, password, database string) (*Neo4jSink, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Neo4jSink{driver: driver, database: database}, nil
}

func (s *Neo4jSink) Commit(ctx context.Context, stmts []Statement) (Counts, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	res, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var counts Counts
		for i, st := range stmts {
			run, err := tx.Run(ctx, st.Text, st.Params)
			if err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			sum, err := run.Consume(ctx)
			if err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			counts.NodesCreated += sum.Counters().NodesCreated()
			counts.EdgesCreated += sum.Counters().RelationshipsCreated()
		}
		return counts, nil
	})
	if err != nil {
		return Counts{}, &report.SinkError{Sink: "graph", Err: err}
	}
	return res.(Counts), nil
}

// Close releases the underlying driver.
func (s *Neo4jSink) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
