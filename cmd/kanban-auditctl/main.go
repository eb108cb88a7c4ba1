// Command kanban-auditctl inspects and backs up the secondary audit
// database (tick metrics, health events, dispatch log) that kanbanctl
// writes alongside its authoritative JSON state document. Grounded on
// the teacher's cmd/db-restore tool: same "verify integrity, then
// copy" backup discipline and direct database/sql PRAGMA checks,
// narrowed to this orchestrator's three audit tables in place of the
// teacher's dispatches/health_events pair.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/antigravity-dev/kanbanctl/internal/auditstore"
)

func main() {
	var (
		dbPath = flag.String("db", "", "path to the audit database (required)")
		cmd    = flag.String("cmd", "inspect", "inspect|backup|verify")
		out    = flag.String("out", "", "destination path for -cmd=backup")
		limit  = flag.Int("limit", 20, "rows to show for -cmd=inspect")
		window = flag.Duration("window", time.Hour, "lookback window for health events in -cmd=inspect")
	)
	flag.Parse()

	if *dbPath == "" {
		die("-db is required")
	}

	switch *cmd {
	case "inspect":
		inspect(*dbPath, *limit, *window)
	case "verify":
		verify(*dbPath)
	case "backup":
		if *out == "" {
			die("-out is required for -cmd=backup")
		}
		backup(*dbPath, *out)
	default:
		die("unknown -cmd %q, want inspect|backup|verify", *cmd)
	}
}

func inspect(dbPath string, limit int, window time.Duration) {
	store, err := auditstore.Open(dbPath)
	if err != nil {
		die("open %s: %v", dbPath, err)
	}
	defer store.Close()

	metrics, err := store.RecentTickMetrics(limit)
	if err != nil {
		die("query tick metrics: %v", err)
	}
	fmt.Printf("Recent tick metrics (%d rows):\n", len(metrics))
	for _, m := range metrics {
		fmt.Printf("  tick_at_ms=%d promoted=%d spawned=%d reviews_passed=%d reviews_reworks=%d blocked=%d auto_healed=%d actions_applied=%d\n",
			m.TickAtMs, m.Promoted, m.Spawned, m.ReviewsPassed, m.ReviewsReworks, m.Blocked, m.AutoHealed, m.ActionsApplied)
	}

	events, err := store.RecentHealthEvents(window)
	if err != nil {
		die("query health events: %v", err)
	}
	fmt.Printf("\nHealth events in the last %s (%d rows):\n", window, len(events))
	for _, e := range events {
		fmt.Printf("  %d %s %s\n", e.CreatedAt, e.EventType, e.Details)
	}
}

func verify(dbPath string) {
	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		die("open %s: %v", dbPath, err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		die("integrity check: %v", err)
	}
	if result != "ok" {
		die("integrity check failed: %s", result)
	}
	fmt.Println("integrity check: ok")

	for _, table := range []string{"tick_metrics", "health_events", "dispatch_log"} {
		var count int
		if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			fmt.Printf("warning: could not query %s: %v\n", table, err)
			continue
		}
		fmt.Printf("%s: %d rows\n", table, count)
	}
}

func backup(dbPath, outPath string) {
	verify(dbPath)

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		die("create destination directory: %v", err)
	}
	if err := copyFile(dbPath, outPath); err != nil {
		die("copy %s to %s: %v", dbPath, outPath, err)
	}
	fmt.Printf("backed up %s to %s\n", dbPath, outPath)
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer dstFile.Close()

	if _, err := dstFile.ReadFrom(srcFile); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return dstFile.Sync()
}

func die(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
