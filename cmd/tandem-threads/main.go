package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/CuriosityQuantified/tandem-threads/internal/auditlog"
	"github.com/CuriosityQuantified/tandem-threads/internal/checkpoint"
	"github.com/CuriosityQuantified/tandem-threads/internal/config"
	"github.com/CuriosityQuantified/tandem-threads/internal/monitor"
	"github.com/CuriosityQuantified/tandem-threads/internal/threadstore"
	"github.com/CuriosityQuantified/tandem-threads/internal/titlegen"
	"github.com/CuriosityQuantified/tandem-threads/internal/watch"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		initCmd(os.Args[2:])
	case "create":
		createCmd(os.Args[2:])
	case "get":
		getCmd(os.Args[2:])
	case "list":
		listCmd(os.Args[2:])
	case "rename":
		renameCmd(os.Args[2:])
	case "archive":
		archiveCmd(os.Args[2:])
	case "meta":
		metaCmd(os.Args[2:])
	case "title":
		titleCmd(os.Args[2:])
	case "backfill":
		backfillCmd(os.Args[2:])
	case "watch":
		watchCmd(os.Args[2:])
	case "doctor":
		doctorCmd(os.Args[2:])
	case "audit":
		auditCmd(os.Args[2:])
	case "version":
		fmt.Printf("tandem-threads %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `tandem-threads

Usage:
  tandem-threads init [flags]
  tandem-threads create [flags]
  tandem-threads get <thread-id> [flags]
  tandem-threads list [flags]
  tandem-threads rename <thread-id> -title <title> [flags]
  tandem-threads archive <thread-id> [flags]
  tandem-threads meta <thread-id> -json <object> [flags]
  tandem-threads title <thread-id> -message <text> [flags]
  tandem-threads backfill [flags]
  tandem-threads watch [flags]
  tandem-threads doctor [flags]
  tandem-threads audit [flags]
  tandem-threads version

Commands:
  init       Write the config file and create the registry database.
  create     Register a new thread (generates a thread id unless -thread-id is set).
  get        Print one thread record.
  list       List a user's threads, most recently updated first.
  rename     Set a thread's display title.
  archive    Soft-delete a thread (-undo restores it).
  meta       Replace a thread's metadata document.
  title      Suggest a display title from the opening message and apply it.
  backfill   Create placeholder rows for threads only the checkpoint store knows.
  watch      Keep the registry in sync with the checkpoint store continuously.
  doctor     Print a health report (row counts, file sizes, host resources).
  audit      Print recent entries from the mutation audit trail.
  version    Print build information.

`)
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "config not found: %s\n", path)
			fmt.Fprintf(os.Stderr, "Hint: run `tandem-threads init` first.\n")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// newLogger builds the process logger. With no configured format, humans at
// a terminal get text and everything else gets JSON.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(cfg.LogLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	format := strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	if format == "" {
		format = "json"
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = "text"
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func openStore(cfg *config.Config) *threadstore.Store {
	store, err := threadstore.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open registry db: %v\n", err)
		os.Exit(1)
	}
	return store
}

// newAudit returns nil when the trail is disabled; auditlog.Store methods
// accept a nil receiver.
func newAudit(cfg *config.Config, log *slog.Logger) *auditlog.Store {
	if !cfg.Audit.Enabled {
		return nil
	}
	store, err := auditlog.New(auditlog.Options{
		Logger:     log,
		StateDir:   filepath.Dir(cfg.DBPath),
		MaxBytes:   cfg.Audit.MaxBytes,
		MaxBackups: cfg.Audit.MaxBackups,
	})
	if err != nil {
		log.Warn("audit trail unavailable", "error", err)
		return nil
	}
	return store
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(b))
}

func initCmd(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	dbPath := fs.String("db", "", "Registry SQLite file (default: <state dir>/threads.sqlite)")
	ckptDB := fs.String("checkpoint-db", "", "Checkpoint store SQLite file (optional)")
	ckptTable := fs.String("checkpoint-table", "", "Checkpoint table name (default: checkpoints)")
	logFormat := fs.String("log-format", "", "Log format: json|text (empty: pick by TTY)")
	logLevel := fs.String("log-level", "", "Log level: debug|info|warn|error")
	force := fs.Bool("force", false, "Overwrite an existing config file")
	_ = fs.Parse(args)

	p := filepath.Clean(*cfgPath)
	if !*force {
		if _, err := os.Stat(p); err == nil {
			fmt.Fprintf(os.Stderr, "config already exists: %s (use -force to overwrite)\n", p)
			os.Exit(1)
		}
	}

	cfg := config.Default()
	if strings.TrimSpace(*dbPath) != "" {
		cfg.DBPath = filepath.Clean(*dbPath)
	}
	cfg.Checkpoint.DBPath = strings.TrimSpace(*ckptDB)
	if strings.TrimSpace(*ckptTable) != "" {
		cfg.Checkpoint.Table = strings.TrimSpace(*ckptTable)
	}
	cfg.LogFormat = strings.TrimSpace(*logFormat)
	cfg.LogLevel = strings.TrimSpace(*logLevel)

	if err := config.Save(p, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write config: %v\n", err)
		os.Exit(1)
	}

	// Create the database now so the first real command does not race the
	// schema migration.
	store := openStore(cfg)
	_ = store.Close()

	fmt.Printf("Config written: %s\n", p)
	fmt.Printf("Registry database: %s\n", cfg.DBPath)
}

func createCmd(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	userID := fs.String("user", "", "Owner user id (default: the anonymous sentinel)")
	threadID := fs.String("thread-id", "", "Thread id (default: generated)")
	title := fs.String("title", "", "Display title (default: the placeholder)")
	metadata := fs.String("metadata", "", "Metadata JSON object (default: {})")
	_ = fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)
	audit := newAudit(cfg, log)

	store := openStore(cfg)
	defer func() { _ = store.Close() }()

	id := strings.TrimSpace(*threadID)
	if id == "" {
		id = "thread_" + uuid.NewString()
	}

	ctx := context.Background()
	t, err := store.CreateThread(ctx, threadstore.Thread{
		UserID:       *userID,
		ThreadID:     id,
		Title:        *title,
		MetadataJSON: *metadata,
	})
	if err != nil {
		audit.Append(auditlog.Entry{
			Action:   auditlog.ActionThreadCreated,
			Status:   "failure",
			Error:    err.Error(),
			ThreadID: id,
			UserID:   *userID,
		})
		fmt.Fprintf(os.Stderr, "create failed: %v\n", err)
		os.Exit(1)
	}

	audit.Append(auditlog.Entry{
		Action:   auditlog.ActionThreadCreated,
		ThreadID: t.ThreadID,
		UserID:   t.UserID,
		Title:    t.Title,
	})
	printJSON(t)
}

func getCmd(args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args)

	threadID := strings.TrimSpace(fs.Arg(0))
	if threadID == "" {
		fmt.Fprintf(os.Stderr, "usage: tandem-threads get <thread-id>\n")
		os.Exit(2)
	}

	cfg := loadConfig(*cfgPath)
	store := openStore(cfg)
	defer func() { _ = store.Close() }()

	t, err := store.GetThread(context.Background(), threadID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "get failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(t)
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	userID := fs.String("user", "", "User id to list (default: the anonymous sentinel)")
	all := fs.Bool("all", false, "Include archived threads")
	limit := fs.Int("limit", 50, "Page size (max 200)")
	cursorRaw := fs.String("cursor", "", "Resume from a previous next_cursor")
	_ = fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	store := openStore(cfg)
	defer func() { _ = store.Close() }()

	user := strings.TrimSpace(*userID)
	if user == "" {
		user = cfg.AnonymousUserID
	}

	cursor, ok := threadstore.DecodeCursor(*cursorRaw)
	if !ok {
		fmt.Fprintf(os.Stderr, "invalid -cursor\n")
		os.Exit(2)
	}

	threads, next, err := store.ListThreads(context.Background(), user, *all, *limit, cursor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
		os.Exit(1)
	}

	printJSON(struct {
		Threads    []threadstore.Thread `json:"threads"`
		NextCursor string               `json:"next_cursor,omitempty"`
	}{Threads: threads, NextCursor: next})
}

func renameCmd(args []string) {
	fs := flag.NewFlagSet("rename", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	title := fs.String("title", "", "New display title (empty: reset to the placeholder)")
	_ = fs.Parse(args)

	threadID := strings.TrimSpace(fs.Arg(0))
	if threadID == "" {
		fmt.Fprintf(os.Stderr, "usage: tandem-threads rename <thread-id> -title <title>\n")
		os.Exit(2)
	}

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)
	audit := newAudit(cfg, log)

	store := openStore(cfg)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.RenameThread(ctx, threadID, *title); err != nil {
		audit.Append(auditlog.Entry{
			Action:   auditlog.ActionThreadRenamed,
			Status:   "failure",
			Error:    err.Error(),
			ThreadID: threadID,
		})
		fmt.Fprintf(os.Stderr, "rename failed: %v\n", err)
		os.Exit(1)
	}

	audit.Append(auditlog.Entry{
		Action:   auditlog.ActionThreadRenamed,
		ThreadID: threadID,
		Title:    strings.TrimSpace(*title),
	})

	t, err := store.GetThread(ctx, threadID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rename applied but readback failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(t)
}

func archiveCmd(args []string) {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	undo := fs.Bool("undo", false, "Restore an archived thread")
	_ = fs.Parse(args)

	threadID := strings.TrimSpace(fs.Arg(0))
	if threadID == "" {
		fmt.Fprintf(os.Stderr, "usage: tandem-threads archive <thread-id> [-undo]\n")
		os.Exit(2)
	}

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)
	audit := newAudit(cfg, log)

	store := openStore(cfg)
	defer func() { _ = store.Close() }()

	action := auditlog.ActionThreadArchived
	if *undo {
		action = auditlog.ActionThreadUnarchived
	}

	ctx := context.Background()
	if err := store.ArchiveThread(ctx, threadID, !*undo); err != nil {
		audit.Append(auditlog.Entry{
			Action:   action,
			Status:   "failure",
			Error:    err.Error(),
			ThreadID: threadID,
		})
		fmt.Fprintf(os.Stderr, "archive failed: %v\n", err)
		os.Exit(1)
	}

	audit.Append(auditlog.Entry{Action: action, ThreadID: threadID})

	t, err := store.GetThread(ctx, threadID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "archive applied but readback failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(t)
}

func metaCmd(args []string) {
	fs := flag.NewFlagSet("meta", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	metadata := fs.String("json", "", "Metadata JSON object (required)")
	_ = fs.Parse(args)

	threadID := strings.TrimSpace(fs.Arg(0))
	if threadID == "" || strings.TrimSpace(*metadata) == "" {
		fmt.Fprintf(os.Stderr, "usage: tandem-threads meta <thread-id> -json '{\"k\":\"v\"}'\n")
		os.Exit(2)
	}

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)
	audit := newAudit(cfg, log)

	store := openStore(cfg)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.SetThreadMetadata(ctx, threadID, *metadata); err != nil {
		audit.Append(auditlog.Entry{
			Action:   auditlog.ActionMetadataUpdated,
			Status:   "failure",
			Error:    err.Error(),
			ThreadID: threadID,
		})
		fmt.Fprintf(os.Stderr, "meta failed: %v\n", err)
		os.Exit(1)
	}

	audit.Append(auditlog.Entry{Action: auditlog.ActionMetadataUpdated, ThreadID: threadID})

	t, err := store.GetThread(ctx, threadID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meta applied but readback failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(t)
}

func titleCmd(args []string) {
	fs := flag.NewFlagSet("title", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	message := fs.String("message", "", "Opening message to summarize (required)")
	dryRun := fs.Bool("dry-run", false, "Print the suggestion without renaming")
	timeout := fs.Duration("timeout", 30*time.Second, "Provider request timeout")
	_ = fs.Parse(args)

	threadID := strings.TrimSpace(fs.Arg(0))
	if threadID == "" || strings.TrimSpace(*message) == "" {
		fmt.Fprintf(os.Stderr, "usage: tandem-threads title <thread-id> -message <text>\n")
		os.Exit(2)
	}

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)
	audit := newAudit(cfg, log)

	provider, err := titlegen.New(titlegen.Config{
		Provider: cfg.Title.Provider,
		Model:    cfg.Title.Model,
		APIKey:   titleAPIKey(cfg),
		BaseURL:  cfg.Title.BaseURL,
	})
	if err != nil {
		if errors.Is(err, titlegen.ErrNotConfigured) {
			fmt.Fprintf(os.Stderr, "no title provider configured\n")
			fmt.Fprintf(os.Stderr, "Hint: set title.provider to anthropic or openai in %s.\n", *cfgPath)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "title provider unavailable: %v\n", err)
		os.Exit(1)
	}

	store := openStore(cfg)
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Fail before spending a provider call when the thread does not exist.
	if _, err := store.GetThread(ctx, threadID); err != nil {
		fmt.Fprintf(os.Stderr, "title failed: %v\n", err)
		os.Exit(1)
	}

	suggestion, err := provider.SuggestTitle(ctx, *message)
	if err != nil {
		fmt.Fprintf(os.Stderr, "title suggestion failed (%s): %v\n", provider.Name(), err)
		os.Exit(1)
	}

	if *dryRun {
		printJSON(struct {
			ThreadID string `json:"thread_id"`
			Title    string `json:"title"`
			Provider string `json:"provider"`
		}{ThreadID: threadID, Title: suggestion, Provider: provider.Name()})
		return
	}

	if err := store.RenameThread(ctx, threadID, suggestion); err != nil {
		audit.Append(auditlog.Entry{
			Action:   auditlog.ActionThreadRenamed,
			Status:   "failure",
			Error:    err.Error(),
			ThreadID: threadID,
			Title:    suggestion,
		})
		fmt.Fprintf(os.Stderr, "rename failed: %v\n", err)
		os.Exit(1)
	}

	audit.Append(auditlog.Entry{
		Action:   auditlog.ActionThreadRenamed,
		ThreadID: threadID,
		Title:    suggestion,
		Detail:   map[string]any{"source": "titlegen", "provider": provider.Name()},
	})

	t, err := store.GetThread(ctx, threadID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rename applied but readback failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(t)
}

// titleAPIKey resolves the provider key: the configured env var first, then
// the provider's conventional one.
func titleAPIKey(cfg *config.Config) string {
	if env := strings.TrimSpace(cfg.Title.APIKeyEnv); env != "" {
		return os.Getenv(env)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Title.Provider)) {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

func backfillCmd(args []string) {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	ckptDB := fs.String("checkpoint-db", "", "Checkpoint store SQLite file (default: from config)")
	userID := fs.String("user", "", "Owner recorded on placeholder rows (default: the anonymous sentinel)")
	title := fs.String("title", "", "Placeholder title (default: the standard placeholder)")
	limit := fs.Int("limit", 0, "Max checkpoint thread ids considered (default: 100)")
	_ = fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)
	audit := newAudit(cfg, log)

	ckptPath := strings.TrimSpace(*ckptDB)
	if ckptPath == "" {
		ckptPath = strings.TrimSpace(cfg.Checkpoint.DBPath)
	}
	if ckptPath == "" {
		fmt.Fprintf(os.Stderr, "no checkpoint db configured (set checkpoint.db_path or pass -checkpoint-db)\n")
		os.Exit(2)
	}

	source, err := checkpoint.Open(ckptPath, cfg.Checkpoint.Table)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open checkpoint db: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = source.Close() }()

	store := openStore(cfg)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	inserted, err := store.Backfill(ctx, source, threadstore.BackfillOptions{
		UserID: *userID,
		Title:  *title,
		Limit:  *limit,
	})
	if err != nil {
		audit.Append(auditlog.Entry{
			Action: auditlog.ActionBackfill,
			Status: "failure",
			Error:  err.Error(),
		})
		fmt.Fprintf(os.Stderr, "backfill failed: %v\n", err)
		os.Exit(1)
	}

	audit.Append(auditlog.Entry{Action: auditlog.ActionBackfill, Inserted: inserted})
	log.Info("backfill complete", "inserted", inserted, "checkpoint_db", ckptPath)

	printJSON(struct {
		Inserted int `json:"inserted"`
	}{Inserted: inserted})
}

func watchCmd(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	ckptDB := fs.String("checkpoint-db", "", "Checkpoint store SQLite file (default: from config)")
	userID := fs.String("user", "", "Owner recorded on placeholder rows (default: the anonymous sentinel)")
	limit := fs.Int("limit", 0, "Backfill batch size per pass (default: 100)")
	_ = fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)
	audit := newAudit(cfg, log)

	ckptPath := strings.TrimSpace(*ckptDB)
	if ckptPath == "" {
		ckptPath = strings.TrimSpace(cfg.Checkpoint.DBPath)
	}
	if ckptPath == "" {
		fmt.Fprintf(os.Stderr, "no checkpoint db configured (set checkpoint.db_path or pass -checkpoint-db)\n")
		os.Exit(2)
	}

	debounce, err := cfg.WatchDebounce()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid watch.debounce: %v\n", err)
		os.Exit(1)
	}
	pollInterval, err := cfg.WatchPollInterval()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid watch.poll_interval: %v\n", err)
		os.Exit(1)
	}

	source, err := checkpoint.Open(ckptPath, cfg.Checkpoint.Table)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open checkpoint db: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = source.Close() }()

	store := openStore(cfg)
	defer func() { _ = store.Close() }()

	w, err := watch.New(watch.Options{
		Log:              log,
		Store:            store,
		Source:           source,
		CheckpointDBPath: ckptPath,
		LockPath:         filepath.Join(filepath.Dir(cfg.DBPath), "watch.lock"),
		Debounce:         debounce,
		PollInterval:     pollInterval,
		BatchLimit:       *limit,
		UserID:           *userID,
		Title:            cfg.DefaultTitle,
		OnPass: func(inserted int) {
			if inserted > 0 {
				audit.Append(auditlog.Entry{Action: auditlog.ActionBackfill, Inserted: inserted})
			}
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init watcher: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, watch.ErrAlreadyRunning) {
			fmt.Fprintf(os.Stderr, "another watcher is already running for this registry\n")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "watcher exited with error: %v\n", err)
		os.Exit(1)
	}
}

func doctorCmd(args []string) {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	userID := fs.String("user", "", "Scope thread counts to one user (default: all)")
	_ = fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)

	store := openStore(cfg)
	defer func() { _ = store.Close() }()

	svc, err := monitor.NewService(monitor.Options{
		Log:              log,
		Store:            store,
		DBPath:           cfg.DBPath,
		CheckpointDBPath: cfg.Checkpoint.DBPath,
		UserID:           *userID,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init doctor: %v\n", err)
		os.Exit(1)
	}

	report, err := svc.Report(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "doctor failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(report)
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	limit := fs.Int("limit", 50, "Max entries to print (newest first)")
	_ = fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)

	store, err := auditlog.New(auditlog.Options{
		Logger:     log,
		StateDir:   filepath.Dir(cfg.DBPath),
		MaxBytes:   cfg.Audit.MaxBytes,
		MaxBackups: cfg.Audit.MaxBackups,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open audit trail: %v\n", err)
		os.Exit(1)
	}

	entries, err := store.List(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit read failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(entries)
}
