package resolver

import (
	"context"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/mfhost/pkg/metrics"
)

// Reasons a seeding run did nothing
const (
	SeedSkippedDisabled  = "registry disabled"
	SeedSkippedPopulated = "registry already populated"
	SeedSkippedNoStatic  = "static manifest unavailable"
)

// SeedResult summarizes a seeding run
type SeedResult struct {
	Skipped  bool
	Reason   string
	Upserted int
	Failed   int
}

// SeedRegistryFromStatic populates an empty registry from the static
// manifest. A populated registry is left untouched. A registry that cannot
// be listed is treated as empty. Individual upsert failures are logged and
// counted, never returned.
func (r *Resolver) SeedRegistryFromStatic(ctx context.Context) SeedResult {
	logger := log.FromContext(ctx).WithName("seeder")

	if r.registry == nil {
		logger.V(1).Info("Skipping registry seeding", "reason", SeedSkippedDisabled)
		return SeedResult{Skipped: true, Reason: SeedSkippedDisabled}
	}

	existing, err := r.registry.List(ctx)
	if err != nil {
		logger.Info("Could not check registry, seeding anyway", "url", r.registry.URL(), "reason", err.Error())
	} else if len(existing.MicroFrontends) > 0 {
		logger.V(1).Info("Skipping registry seeding", "reason", SeedSkippedPopulated, "entries", len(existing.MicroFrontends))
		return SeedResult{Skipped: true, Reason: SeedSkippedPopulated}
	}

	static, err := r.static.Fetch(ctx)
	if err != nil {
		logger.Error(err, "Cannot seed registry", "source", r.static.String())
		return SeedResult{Skipped: true, Reason: SeedSkippedNoStatic}
	}
	entries, _ := dedupeScopes(static.MicroFrontends)

	var upserted, failed atomic.Int32
	p := pool.New().WithMaxGoroutines(r.seedConcurrency)
	for _, entry := range entries {
		p.Go(func() {
			if err := r.registry.Upsert(ctx, entry); err != nil {
				failed.Add(1)
				metrics.RecordSeedUpsert("failure")
				logger.Error(err, "Failed to seed registry entry", "scope", entry.Scope)
				return
			}
			upserted.Add(1)
			metrics.RecordSeedUpsert("success")
		})
	}
	p.Wait()

	result := SeedResult{Upserted: int(upserted.Load()), Failed: int(failed.Load())}
	logger.Info("Seeded registry from static manifest", "url", r.registry.URL(),
		"upserted", result.Upserted, "failed", result.Failed)
	return result
}
