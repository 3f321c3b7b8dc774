package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"catalogsync/internal/domain/catalogsync"
	"catalogsync/internal/domain/library"
	"catalogsync/internal/domain/link"
	"catalogsync/internal/infrastructure/catalog"
	"catalogsync/internal/infrastructure/sqlstore"
	"catalogsync/internal/infrastructure/storage"
	"catalogsync/internal/shared/config"
	"catalogsync/internal/shared/logging"
)

const usage = `catalogsync admin CLI - maintenance commands

Usage:
  admin <command> [options]

Commands:
  migrate   Create or update the database schema
  sync      Sync one or more accounts, or every linked account
  link      Link a user to an upstream account
  top       Print the most-used stored items of an account

Examples:
  admin migrate
  admin sync --account=76561197960287930
  admin sync --account=76561197960287930,76561197960287931
  admin sync --all --workers=4 --timeout=1h
  admin link --user=discord:1234 --account=76561197960287930
  admin top --account=76561197960287930 --limit=10
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage + "\n")
		os.Exit(1)
	}

	var err error
	switch command := os.Args[1]; command {
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "sync":
		err = runSync(os.Args[2:])
	case "link":
		err = runLink(os.Args[2:])
	case "top":
		err = runTop(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage + "\n")
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage + "\n")
		os.Exit(1)
	}

	if err != nil {
		logging.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// env is what every command needs: configuration and an open store.
type env struct {
	cfg *config.Config
	db  *sqlstore.DB
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: "console"})

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, db: db}, nil
}

func (e *env) client() *catalog.Client {
	return catalog.NewClientFromConfig(e.cfg.Upstream)
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := setup(context.Background())
	if err != nil {
		return err
	}
	defer e.db.Close()

	fmt.Printf("Schema is up to date (%s)\n", e.db.Dialect().Name())
	return nil
}

func runSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)

	accountStr := fs.String("account", "", "Account ID(s) to sync (comma-separated for multiple)")
	all := fs.Bool("all", false, "Sync every linked account")
	workers := fs.Int("workers", 1, "Number of concurrent accounts for --all")
	timeout := fs.Duration("timeout", 30*time.Minute, "Timeout for the operation (e.g., 5m, 1h)")

	fs.Usage = func() {
		fmt.Println("Usage: admin sync [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *accountStr == "" && !*all {
		fmt.Println("Error: must specify --account or --all")
		fs.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.db.Close()

	svc := catalogsync.NewService(
		e.client(),
		sqlstore.NewItemRepository(e.db),
		sqlstore.NewLinkRepository(e.db),
		nil,
		catalogsync.Config{Workers: *workers},
	)

	startTime := time.Now()

	if *all {
		run, err := svc.BulkSync(ctx)
		if err != nil {
			return err
		}
		for _, res := range run.Results {
			printResult(res)
		}
		fmt.Printf("\nRun %s: %d succeeded, %d failed in %v\n",
			run.RunID, len(run.Succeeded()), len(run.Failed()), time.Since(startTime).Round(time.Millisecond))
		return nil
	}

	failed := 0
	for _, id := range splitList(*accountStr) {
		res := svc.SyncOne(ctx, id)
		printResult(res)
		if res.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d account(s) failed to sync", failed)
	}
	return nil
}

func printResult(res *catalogsync.SyncResult) {
	fmt.Printf("\n=== Account %s ===\n", res.AccountID)
	if res.Err != nil {
		fmt.Printf("  Error:          %v\n", res.Err)
		return
	}
	fmt.Printf("  Items fetched:  %d\n", res.ItemsFetched)
	fmt.Printf("  Items written:  %d\n", res.ItemsWritten)
	fmt.Printf("  Duration:       %v\n", res.Duration().Round(time.Millisecond))
}

func runLink(args []string) error {
	fs := flag.NewFlagSet("link", flag.ExitOnError)

	userID := fs.String("user", "", "Local user ID")
	accountID := fs.String("account", "", "Upstream account ID")
	name := fs.String("name", "", "Display name (defaults to the upstream persona name)")
	skipCheck := fs.Bool("skip-check", false, "Do not verify the account upstream")

	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.db.Close()

	var profiles link.ProfileFetcher
	if !*skipCheck {
		profiles = e.client()
	}
	svc := link.NewService(sqlstore.NewLinkRepository(e.db), profiles)

	user, _, err := svc.Link(ctx, link.LinkParams{UserID: *userID, DisplayName: *name, AccountID: *accountID})
	if err != nil {
		return err
	}
	fmt.Printf("Linked user %s (%s) to account %s\n", user.UserID, user.DisplayName, user.AccountID)
	return nil
}

func runTop(args []string) error {
	fs := flag.NewFlagSet("top", flag.ExitOnError)

	accountID := fs.String("account", "", "Account ID")
	limit := fs.Int("limit", library.DefaultTopLimit, "Number of items to print")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *accountID == "" {
		return fmt.Errorf("--account is required")
	}

	ctx := context.Background()
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.db.Close()

	items, err := sqlstore.NewItemRepository(e.db).TopItems(ctx, *accountID, *limit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Printf("No stored items for account %s\n", *accountID)
		return nil
	}
	for i, it := range items {
		fmt.Printf("%2d. %-40s %6dh  (synced %s)\n", i+1, it.Name, it.UsageHours(), it.LastSyncedAt.Format(time.RFC3339))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
