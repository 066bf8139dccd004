// cleanup-orphan-schemas drops tenant schemas that have no tenant registry row.
//
// Orphans are left behind when a provisioning run fails and its compensation
// also fails (the ProvisioningError lists the compensation errors). Registry
// rows whose schema no longer exists are reported but never touched.
//
// Usage: go run ./scripts/cleanup-orphan-schemas [-dry-run=false] [schema...]
//
// With no schema arguments every orphan is considered. Database connection
// settings come from config.yaml and PG* environment variables, the same as the
// server.
//
// Flags:
//
//	-dry-run   Show what would be dropped without actually dropping (default: true)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/chemforge-inc/chemforge-engine/pkg/config"
	"github.com/chemforge-inc/chemforge-engine/pkg/tenancy"
)

func main() {
	dryRun := flag.Bool("dry-run", true, "Show what would be dropped without actually dropping")
	flag.Parse()

	cfg, err := config.Load("cleanup")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	conn, err := pgx.Connect(ctx, cfg.Database.ConnectionURL())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close(ctx)

	orphans, err := findOrphanSchemas(ctx, conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list orphan schemas: %v\n", err)
		os.Exit(1)
	}
	if only := flag.Args(); len(only) > 0 {
		orphans = slices.DeleteFunc(orphans, func(s string) bool { return !slices.Contains(only, s) })
	}

	if *dryRun {
		fmt.Println("DRY RUN - no changes will be made")
		fmt.Println("Run with -dry-run=false to actually drop schemas")
		fmt.Println()
	}

	dropped := 0
	for _, schema := range orphans {
		if *dryRun {
			fmt.Printf("  would drop %s\n", schema)
			dropped++
			continue
		}
		if _, err := conn.Exec(ctx, "DROP SCHEMA IF EXISTS "+tenancy.QuoteIdent(schema)+" CASCADE"); err != nil {
			fmt.Fprintf(os.Stderr, "Error dropping %s: %v\n", schema, err)
			os.Exit(1)
		}
		fmt.Printf("Dropped %s\n", schema)
		dropped++
	}
	if len(orphans) == 0 {
		fmt.Println("  No orphan schemas")
	}

	missing, err := findMissingSchemas(ctx, conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to check registry rows: %v\n", err)
		os.Exit(1)
	}
	for _, tenantID := range missing {
		fmt.Printf("  WARNING: tenant %s is registered but its schema is missing\n", tenantID)
	}

	if *dryRun {
		fmt.Printf("\nTotal schemas that would be dropped: %d\n", dropped)
	} else {
		fmt.Printf("\nTotal schemas dropped: %d\n", dropped)
	}
}

// findOrphanSchemas lists tenant-prefixed schemas absent from the registry.
func findOrphanSchemas(ctx context.Context, conn *pgx.Conn) ([]string, error) {
	rows, err := conn.Query(ctx, `
		SELECT n.nspname
		FROM pg_namespace n
		WHERE n.nspname LIKE $1
		  AND NOT EXISTS (SELECT 1 FROM tenants t WHERE t.schema_name = n.nspname)
		ORDER BY n.nspname
	`, likePrefix(tenancy.SchemaPrefix))
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// findMissingSchemas lists registered tenants whose schema does not exist.
func findMissingSchemas(ctx context.Context, conn *pgx.Conn) ([]string, error) {
	rows, err := conn.Query(ctx, `
		SELECT t.tenant_id
		FROM tenants t
		WHERE NOT EXISTS (SELECT 1 FROM pg_namespace n WHERE n.nspname = t.schema_name)
		ORDER BY t.tenant_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// likePrefix escapes LIKE wildcards in prefix and appends %.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
