package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-config/internal/config"
	"wisefido-config/internal/database"
	"wisefido-config/internal/domain"
	"wisefido-config/internal/repository"
	"wisefido-config/internal/service"
	"wisefido-config/internal/store"
)

// 运维 CLI：按键解析、查看历史、校验并执行回滚、创建/恢复快照、导出审计
func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg := config.Load()
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Cannot connect to database: %v", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	engine := service.NewEngine(service.EngineDeps{
		Entries:   repository.NewPostgresEntriesRepository(db),
		Registry:  repository.NewPostgresRegistryRepository(db),
		ChangeLog: repository.NewPostgresChangeLogRepository(db),
		Snapshots: repository.NewPostgresSnapshotsRepository(db),
		CacheKV:   store.NewRedisKV(redisClient),
		CacheTTL:  cfg.Cache.TTL,
		Logger:    zap.NewNop(),
	})

	ctx := context.Background()
	switch os.Args[1] {
	case "resolve":
		runResolve(ctx, engine, os.Args[2:])
	case "set":
		runSet(ctx, engine, os.Args[2:])
	case "history":
		runHistory(ctx, engine, os.Args[2:])
	case "rollback":
		runRollback(ctx, engine, os.Args[2:])
	case "rollback-date":
		runRollbackDate(ctx, engine, os.Args[2:])
	case "snapshot":
		runSnapshot(ctx, engine, os.Args[2:])
	case "restore":
		runRestore(ctx, engine, os.Args[2:])
	case "export-changes":
		runExportChanges(ctx, engine, os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: config-cli <command> [flags]

Commands:
  resolve        resolve a key at a scope (optionally as of a past instant)
  set            write a new version of a key at an exact scope
  history        show version history of a key at an exact scope
  rollback       roll a key back to a prior version
  rollback-date  roll a scope (or single key) back to a prior instant
  snapshot       capture a full-state snapshot
  restore        restore settings from a snapshot
  export-changes export the change audit log as an Excel file`)
	os.Exit(2)
}

func scopeFlags(fs *flag.FlagSet) (*string, *int64, *int64) {
	persona := fs.String("persona", "", "persona scope dimension")
	agent := fs.Int64("agent", 0, "agent id scope dimension")
	workflow := fs.Int64("workflow", 0, "workflow id scope dimension")
	return persona, agent, workflow
}

func runResolve(ctx context.Context, engine *service.Engine, args []string) {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	kind := fs.String("kind", "setting", "setting | rule | template")
	key := fs.String("key", "", "config key (required)")
	asOf := fs.String("as-of", "", "RFC3339 instant (default: now)")
	channel := fs.String("channel", "", "template channel")
	locale := fs.String("locale", "", "template locale")
	persona, agent, workflow := scopeFlags(fs)
	fs.Parse(args)

	q := service.ResolveQuery{
		Kind:    domain.Kind(*kind),
		Key:     *key,
		Scope:   domain.ScopeOf(*persona, *agent, *workflow),
		Channel: *channel,
		Locale:  *locale,
	}
	if *asOf != "" {
		t, err := time.Parse(time.RFC3339, *asOf)
		if err != nil {
			log.Fatalf("invalid -as-of: %v", err)
		}
		q.AsOf = t
	}

	value, err := engine.Resolver.Resolve(ctx, q)
	if err != nil {
		log.Fatalf("resolve failed: %v", err)
	}
	if value == nil {
		fmt.Println("(not found)")
		return
	}
	fmt.Println(string(value))
}

func runSet(ctx context.Context, engine *service.Engine, args []string) {
	fs := flag.NewFlagSet("set", flag.ExitOnError)
	kind := fs.String("kind", "setting", "setting | rule | template")
	key := fs.String("key", "", "config key (required)")
	value := fs.String("value", "", "JSON value (required)")
	channel := fs.String("channel", "", "template channel")
	locale := fs.String("locale", "", "template locale")
	actor := fs.String("actor", "", "operator identity (required)")
	reason := fs.String("reason", "", "change reason")
	persona, agent, workflow := scopeFlags(fs)
	fs.Parse(args)

	entry, err := engine.Mutator.Set(ctx, service.SetRequest{
		Kind:    domain.Kind(*kind),
		Key:     *key,
		Value:   json.RawMessage(*value),
		Scope:   domain.ScopeOf(*persona, *agent, *workflow),
		Channel: *channel,
		Locale:  *locale,
		Actor:   *actor,
		Reason:  *reason,
	})
	if err != nil {
		log.Fatalf("set failed: %v", err)
	}
	fmt.Printf("written: key=%s scope=%s version=%d\n", entry.Key, entry.Scope.Key(), entry.Version)
}

func runHistory(ctx context.Context, engine *service.Engine, args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	kind := fs.String("kind", "setting", "setting | rule | template")
	key := fs.String("key", "", "config key (required)")
	limit := fs.Int("limit", 20, "max versions to show")
	persona, agent, workflow := scopeFlags(fs)
	fs.Parse(args)

	history, err := engine.History.GetVersionHistory(ctx, domain.Kind(*kind), *key, domain.ScopeOf(*persona, *agent, *workflow), *limit)
	if err != nil {
		log.Fatalf("history failed: %v", err)
	}
	for _, v := range history {
		to := "open"
		if v.EffectiveTo != nil {
			to = v.EffectiveTo.Format(time.RFC3339)
		}
		fmt.Printf("v%-4d active=%-5v from=%s to=%s by=%s value=%s\n",
			v.Version, v.IsActive, v.EffectiveFrom.Format(time.RFC3339), to, v.CreatedBy, string(v.Value))
	}
}

func runRollback(ctx context.Context, engine *service.Engine, args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	kind := fs.String("kind", "setting", "setting | rule | template")
	key := fs.String("key", "", "config key (required)")
	version := fs.Int("version", 0, "target version (required)")
	actor := fs.String("actor", "", "operator identity (required)")
	reason := fs.String("reason", "", "rollback reason")
	dryRun := fs.Bool("dry-run", false, "preview only, no changes")
	persona, agent, workflow := scopeFlags(fs)
	fs.Parse(args)

	scope := domain.ScopeOf(*persona, *agent, *workflow)
	if *dryRun {
		preview, err := engine.Rollbacker.PreviewRollback(ctx, domain.Kind(*kind), *key, scope, *version)
		if err != nil {
			log.Fatalf("preview failed: %v", err)
		}
		fmt.Printf("current: %s\ntarget:  %s\nwill change: %v\n", preview.Current, preview.Target, preview.WillChange)
		return
	}

	result, err := engine.Rollbacker.RollbackToVersion(ctx, service.RollbackRequest{
		Kind: domain.Kind(*kind), Key: *key, Scope: scope,
		TargetVersion: *version, Actor: *actor, Reason: *reason,
	})
	if err != nil {
		log.Fatalf("rollback failed: %v", err)
	}
	fmt.Printf("rolled back: key=%s target=v%d new=v%d (%dms)\n",
		result.Key, result.TargetVersion, result.NewVersion, result.ExecutionTimeMs)
}

func runRollbackDate(ctx context.Context, engine *service.Engine, args []string) {
	fs := flag.NewFlagSet("rollback-date", flag.ExitOnError)
	kind := fs.String("kind", "setting", "setting | rule | template")
	key := fs.String("key", "", "config key (empty: all keys at scope)")
	date := fs.String("date", "", "RFC3339 target instant (required)")
	actor := fs.String("actor", "", "operator identity (required)")
	reason := fs.String("reason", "", "rollback reason")
	persona, agent, workflow := scopeFlags(fs)
	fs.Parse(args)

	targetDate, err := time.Parse(time.RFC3339, *date)
	if err != nil {
		log.Fatalf("invalid -date: %v", err)
	}

	result, err := engine.Rollbacker.RollbackToDate(ctx, service.RollbackToDateRequest{
		Kind: domain.Kind(*kind), Key: *key, Scope: domain.ScopeOf(*persona, *agent, *workflow),
		TargetDate: targetDate, Actor: *actor, Reason: *reason,
	})
	if err != nil {
		log.Fatalf("rollback-date failed: %v", err)
	}
	fmt.Printf("rolled back %d key(s) to %s (%dms)\n", result.AffectedCount, *date, result.ExecutionTimeMs)
}

func runSnapshot(ctx context.Context, engine *service.Engine, args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	name := fs.String("name", "", "snapshot name (required)")
	description := fs.String("description", "", "snapshot description")
	actor := fs.String("actor", "", "operator identity (required)")
	persona, agent, workflow := scopeFlags(fs)
	fs.Parse(args)

	req := service.CreateSnapshotRequest{Name: *name, Description: *description, Actor: *actor}
	if scope := domain.ScopeOf(*persona, *agent, *workflow); !scope.IsGlobal() {
		req.ScopeFilter = &scope
	}

	snapshot, err := engine.Snapshotter.CreateSnapshot(ctx, req)
	if err != nil {
		log.Fatalf("snapshot failed: %v", err)
	}
	fmt.Printf("snapshot created: %s (%s)\n", snapshot.SnapshotID, snapshot.Name)
}

func runRestore(ctx context.Context, engine *service.Engine, args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	snapshotID := fs.String("id", "", "snapshot id (required)")
	actor := fs.String("actor", "", "operator identity (required)")
	reason := fs.String("reason", "", "restore reason")
	persona, agent, workflow := scopeFlags(fs)
	fs.Parse(args)

	req := service.RestoreRequest{SnapshotID: *snapshotID, Actor: *actor, Reason: *reason}
	if scope := domain.ScopeOf(*persona, *agent, *workflow); !scope.IsGlobal() {
		req.ScopeFilter = &scope
	}

	result, err := engine.Snapshotter.RestoreFromSnapshot(ctx, req)
	if err != nil {
		log.Fatalf("restore failed: %v", err)
	}
	fmt.Printf("restored %d key(s) from snapshot %s (%dms)\n", result.AffectedCount, *snapshotID, result.ExecutionTimeMs)
}

func runExportChanges(ctx context.Context, engine *service.Engine, args []string) {
	fs := flag.NewFlagSet("export-changes", flag.ExitOnError)
	key := fs.String("key", "", "filter by config key")
	out := fs.String("out", "change-history.xlsx", "output file path")
	limit := fs.Int("limit", 1000, "max rows")
	scoped := fs.Bool("scoped", false, "filter by the exact scope flags (global scope if none given)")
	persona, agent, workflow := scopeFlags(fs)
	fs.Parse(args)

	var scopeFilter *domain.Scope
	if *scoped {
		scope := domain.ScopeOf(*persona, *agent, *workflow)
		scopeFilter = &scope
	}

	data, err := engine.History.ExportChangeHistory(ctx, *key, scopeFilter, nil, nil, *limit)
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		log.Fatalf("failed to write %s: %v", *out, err)
	}
	fmt.Printf("exported change history to %s\n", *out)
}
