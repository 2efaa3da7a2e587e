// Package seed provisions a development tenant populated with a minimal,
// working set of domain objects, for exercising the broker without a real
// GitOps pipeline behind it.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colliery-io/brokkr-sub000/pkg/agent"
	"github.com/colliery-io/brokkr-sub000/pkg/generator"
	"github.com/colliery-io/brokkr-sub000/pkg/stack"
	"github.com/colliery-io/brokkr-sub000/pkg/tenant"
	"github.com/colliery-io/brokkr-sub000/pkg/template"
)

// DemoTenantSlug is the slug of the tenant Run provisions.
const DemoTenantSlug = "acme"

// Run provisions the demo tenant and populates it with a generator, a
// stack, a template, and an agent. It is idempotent: if the tenant already
// exists it logs a message and returns nil.
func Run(ctx context.Context, pool *pgxpool.Pool, databaseURL, migrationsDir string, logger *slog.Logger) error {
	var existing string
	err := pool.QueryRow(ctx, "SELECT slug FROM public.tenants WHERE slug = $1", DemoTenantSlug).Scan(&existing)
	if err == nil {
		logger.Info("seed: tenant already exists, skipping", "slug", DemoTenantSlug)
		return nil
	}

	prov := &tenant.Provisioner{
		DB:            pool,
		DatabaseURL:   databaseURL,
		MigrationsDir: migrationsDir,
		Logger:        logger,
	}

	info, err := prov.Provision(ctx, "Acme Corp", DemoTenantSlug, json.RawMessage(`{}`))
	if err != nil {
		return fmt.Errorf("provisioning seed tenant: %w", err)
	}
	logger.Info("seed: provisioned tenant", "tenant_id", info.ID, "slug", info.Slug)

	conn, err := tenant.AcquireConn(ctx, pool, info.Schema)
	if err != nil {
		return fmt.Errorf("acquiring tenant connection: %w", err)
	}
	defer conn.Release()

	genResp, err := generator.NewService(conn, info.Slug, logger).Create(ctx, generator.CreateRequest{
		Name:        "demo-generator",
		Description: "Seed generator for local development",
	})
	if err != nil {
		return fmt.Errorf("seeding generator: %w", err)
	}
	logger.Info("seed: created generator", "id", genResp.ID, "pak", genResp.PAK)

	stackResp, err := stack.NewService(conn, logger).Create(ctx, stack.CreateRequest{
		Name:        "demo-stack",
		Description: "Seed stack for local development",
		GeneratorID: genResp.ID,
		Labels:      []string{"env:dev"},
	})
	if err != nil {
		return fmt.Errorf("seeding stack: %w", err)
	}
	logger.Info("seed: created stack", "id", stackResp.ID)

	tmplResp, err := template.NewService(conn, logger).Create(ctx, template.CreateRequest{
		GeneratorID:      &genResp.ID,
		Name:             "demo-template",
		Description:      "Seed template for local development",
		TemplateContent:  "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: {{ .name }}\n",
		ParametersSchema: `{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`,
	})
	if err != nil {
		return fmt.Errorf("seeding template: %w", err)
	}
	logger.Info("seed: created template", "id", tmplResp.ID)

	agentResp, err := agent.NewService(conn, info.Slug, logger).Create(ctx, agent.CreateRequest{
		Name:        "demo-agent",
		ClusterName: "dev-cluster",
		Labels:      []string{"env:dev"},
	})
	if err != nil {
		return fmt.Errorf("seeding agent: %w", err)
	}
	logger.Info("seed: created agent", "id", agentResp.ID, "pak", agentResp.PAK)

	logger.Info("seed: completed successfully",
		"tenant", info.Slug,
		"generator_id", genResp.ID,
		"stack_id", stackResp.ID,
		"template_id", tmplResp.ID,
		"agent_id", agentResp.ID,
	)
	return nil
}
