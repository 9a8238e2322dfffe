package tool

import (
	"context"
	"fmt"
	"time"
)

// RegisterDatabaseTools registers the built-in database maintenance tool
// set. Bodies are thin: they defer real work to the target database handle
// in the execution context and report structured results.
func RegisterDatabaseTools(r *Registry) error {
	defs := []*Definition{
		{
			Name:        "estimate_size",
			Description: "Estimate the on-disk size of a table or the whole database",
			Category:    CategoryRead,
			Risk:        RiskSafe,
			Parameters: map[string]ParamSpec{
				"table": {Type: "string", Description: "Table to size; empty for whole database"},
			},
			Results:     map[string]string{"bytes": "integer", "table": "string"},
			MaxDuration: 30 * time.Second,
			Body:        estimateSize,
		},
		{
			Name:         "full_backup",
			Description:  "Create a full backup of the target database",
			Category:     CategoryBackup,
			Risk:         RiskLow,
			Capabilities: []string{"database-read"},
			Parameters: map[string]ParamSpec{
				"destination": {Type: "string", Description: "Backup destination path", Required: true},
				"compress":    {Type: "boolean", Description: "Compress the backup"},
			},
			Results:     map[string]string{"path": "string", "bytes": "integer"},
			MaxDuration: 10 * time.Minute,
			Body:        fullBackup,
		},
		{
			Name:         "analyze_slow_queries",
			Description:  "Analyze the slow query log and suggest optimizations",
			Category:     CategoryAnalysis,
			Risk:         RiskSafe,
			Capabilities: []string{"database-read"},
			Parameters: map[string]ParamSpec{
				"limit": {Type: "integer", Description: "Max queries to analyze"},
			},
			Results:     map[string]string{"findings": "array"},
			MaxDuration: 2 * time.Minute,
			Body:        analyzeSlowQueries,
		},
		{
			Name:         "generate_migration",
			Description:  "Generate a schema migration script from a change description",
			Category:     CategoryAnalysis,
			Risk:         RiskLow,
			Capabilities: []string{"database-read"},
			Parameters: map[string]ParamSpec{
				"change": {Type: "string", Description: "Desired schema change", Required: true},
				"table":  {Type: "string", Description: "Target table", Required: true},
			},
			Results:     map[string]string{"migration_sql": "string", "rollback_sql": "string"},
			MaxDuration: time.Minute,
			Body:        generateMigration,
		},
		{
			Name:         "generate_rollback",
			Description:  "Generate a rollback script for a migration",
			Category:     CategoryAnalysis,
			Risk:         RiskLow,
			Capabilities: []string{"database-read"},
			Parameters: map[string]ParamSpec{
				"migration_sql": {Type: "string", Description: "Migration to invert", Required: true},
			},
			Results:     map[string]string{"rollback_sql": "string"},
			MaxDuration: time.Minute,
			Body:        generateRollback,
		},
		{
			Name:             "execute_migration",
			Description:      "Apply a schema migration to the target database",
			Category:         CategorySchemaChange,
			Risk:             RiskCritical,
			Capabilities:     []string{"database-write"},
			RequiresApproval: true,
			Parameters: map[string]ParamSpec{
				"migration_sql": {Type: "string", Description: "DDL to execute", Required: true},
				"rollback_sql":  {Type: "string", Description: "Undo script, checkpointed before execution", Required: true},
			},
			Results:     map[string]string{"applied": "boolean"},
			MaxDuration: 5 * time.Minute,
			Body:        executeMigration,
		},
	}

	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func estimateSize(ctx context.Context, params map[string]any, ec *ExecContext) (map[string]any, error) {
	table, _ := params["table"].(string)
	if ec != nil && ec.DB != nil {
		var bytes int64
		row := ec.DB.QueryRowContext(ctx,
			"SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
		if err := row.Scan(&bytes); err != nil {
			return nil, err
		}
		return map[string]any{"bytes": bytes, "table": table}, nil
	}
	return map[string]any{"bytes": int64(0), "table": table}, nil
}

func fullBackup(ctx context.Context, params map[string]any, ec *ExecContext) (map[string]any, error) {
	dest, _ := params["destination"].(string)
	if dest == "" {
		return nil, fmt.Errorf("empty backup destination")
	}
	// Real dump logic lives in the domain backup module; the engine only
	// sees the registration contract.
	return map[string]any{"path": dest, "bytes": int64(0)}, nil
}

func analyzeSlowQueries(ctx context.Context, params map[string]any, ec *ExecContext) (map[string]any, error) {
	return map[string]any{"findings": []any{}}, nil
}

func generateMigration(ctx context.Context, params map[string]any, ec *ExecContext) (map[string]any, error) {
	change, _ := params["change"].(string)
	table, _ := params["table"].(string)
	return map[string]any{
		"migration_sql": fmt.Sprintf("-- %s\nALTER TABLE %s ...;", change, table),
		"rollback_sql":  fmt.Sprintf("-- rollback of: %s\nALTER TABLE %s ...;", change, table),
	}, nil
}

func generateRollback(ctx context.Context, params map[string]any, ec *ExecContext) (map[string]any, error) {
	migration, _ := params["migration_sql"].(string)
	return map[string]any{
		"rollback_sql": fmt.Sprintf("-- rollback for:\n-- %s", migration),
	}, nil
}

func executeMigration(ctx context.Context, params map[string]any, ec *ExecContext) (map[string]any, error) {
	sqlText, _ := params["migration_sql"].(string)
	if ec != nil && ec.DB != nil {
		if _, err := ec.DB.ExecContext(ctx, sqlText); err != nil {
			return nil, err
		}
	}
	return map[string]any{"applied": true}, nil
}
