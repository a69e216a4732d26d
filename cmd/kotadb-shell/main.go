// kotadb-shell is a simple interactive CLI for a KotaDB database directory.
//
// Usage:
//
//	kotadb-shell [--legacy] [--config <path>] <db-path>
//
// Config is resolved the same way as the rest of this module's CLI
// tooling: a global ~/.config/kotadb/config.json, then a project
// .kotadb.json in the current directory, then an explicit --config path,
// each a JSONC file that only needs to set the fields it overrides.
//
// Commands (in REPL):
//
//	put <path> <content...>      Ingest a document at path with content
//	update <id> <path> <text...> Reingest a document under an existing id
//	get <id>                     Retrieve a document by id
//	del <id>                     Evict a document from storage and both indices
//	paths [term]                 Search the primary (path) index
//	search <term>                Search the trigram content index
//	callers <symbol>             Find direct callers of a symbol
//	impact <symbol>               Find everything that depends on a symbol
//	legacy <term>                 Search the legacy JSON symbol store
//	stats                         Show combined engine/legacy stats
//	sync                          Flush every component to durable storage
//	info                          Show database info
//	help                          Show this help
//	exit / quit / q               Exit
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/kotadb/kotadb/pkg/config"
	"github.com/kotadb/kotadb/pkg/document"
	"github.com/kotadb/kotadb/pkg/engine"
	"github.com/kotadb/kotadb/pkg/kotadb"
	"github.com/kotadb/kotadb/pkg/validated"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("kotadb-shell", flag.ExitOnError)
	legacy := fs.Bool("legacy", false, "also open the deprecated JSON symbol store")
	configPath := fs.String("config", "", "explicit JSONC config file (overrides global/project config)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: kotadb-shell [--legacy] [--config <path>] <db-path>\n\n")
		fmt.Fprintf(os.Stderr, "Opens (creating if absent) a KotaDB database directory.\n")
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return errors.New("missing database path")
	}

	dbPath := fs.Arg(0)

	fileCfg, err := config.Load(config.LoadInput{ConfigPath: *configPath, Env: envMap()})
	if err != nil {
		return err
	}

	cfg := fileCfg.Apply(kotadb.DefaultConfig())
	if fs.Changed("legacy") {
		cfg.EnableLegacy = *legacy
	}

	logger := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger().Level(zerolog.WarnLevel)

	db, err := kotadb.Open(dbPath, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	repl := &REPL{db: db, dbPath: dbPath, legacy: cfg.EnableLegacy}
	return repl.Run()
}

// envMap adapts os.Environ() into the map[string]string config.Load
// expects for XDG_CONFIG_HOME/HOME lookups.
func envMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// REPL is the interactive command loop.
type REPL struct {
	db     *kotadb.Database
	dbPath string
	legacy bool
	liner  *liner.State
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kotadb_shell_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("kotadb-shell - %s (legacy=%v)\n", r.dbPath, r.legacy)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("kotadb> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()
			return nil

		case "help", "?":
			r.printHelp()

		case "put":
			r.cmdPut(args)

		case "update":
			r.cmdUpdate(args)

		case "get":
			r.cmdGet(args)

		case "del", "delete":
			r.cmdDelete(args)

		case "paths":
			r.cmdPaths(args)

		case "search":
			r.cmdSearch(args)

		case "callers":
			r.cmdCallers(args)

		case "impact":
			r.cmdImpact(args)

		case "legacy":
			r.cmdLegacy(args)

		case "stats":
			r.cmdStats()

		case "sync":
			r.cmdSync()

		case "info":
			r.cmdInfo()

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()
	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"put", "update", "get", "del", "delete",
		"paths", "search", "callers", "impact", "legacy",
		"stats", "sync", "info", "clear", "cls",
		"help", "exit", "quit", "q",
	}

	var completions []string
	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}
	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  put <path> <content...>      Ingest a document at path with content")
	fmt.Println("  update <id> <path> <text...> Reingest a document under an existing id")
	fmt.Println("  get <id>                      Retrieve a document by id")
	fmt.Println("  del <id>                      Evict a document from storage and both indices")
	fmt.Println("  paths [term]                  Search the primary (path) index")
	fmt.Println("  search <term>                 Search the trigram content index")
	fmt.Println("  callers <symbol>              Find direct callers of a symbol")
	fmt.Println("  impact <symbol>               Find everything that depends on a symbol")
	fmt.Println("  legacy <term>                 Search the legacy JSON symbol store")
	fmt.Println("  stats                         Show combined engine/legacy stats")
	fmt.Println("  sync                          Flush every component to durable storage")
	fmt.Println("  info                          Show database info")
	fmt.Println("  help                          Show this help")
	fmt.Println("  exit / quit / q                Exit")
	fmt.Println()
	fmt.Println("Ids are UUIDs, printed by 'put' when a document is created.")
}

// newDocument builds a freshly-timestamped Document for an ingest/reingest.
func newDocument(id validated.DocumentID, rawPath, content string) (document.Document, error) {
	p, err := validated.NewPath(rawPath)
	if err != nil {
		return document.Document{}, fmt.Errorf("invalid path: %w", err)
	}
	title, err := validated.NewTitle(filepath.Base(rawPath))
	if err != nil {
		return document.Document{}, fmt.Errorf("invalid title: %w", err)
	}
	now := time.Now().UTC()
	ts, err := validated.NewTimestampPair(now, now)
	if err != nil {
		return document.Document{}, fmt.Errorf("invalid timestamps: %w", err)
	}
	return document.New(id, p, title, []byte(content), nil, ts)
}

func (r *REPL) cmdPut(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: put <path> <content...>")
		return
	}

	doc, err := newDocument(validated.NewDocumentIDGenerate(), args[0], strings.Join(args[1:], " "))
	if err != nil {
		fmt.Printf("Error building document: %v\n", err)
		return
	}

	if err := r.db.Ingest(context.Background(), doc); err != nil {
		fmt.Printf("Error ingesting: %v\n", err)
		return
	}

	fmt.Printf("OK: put %s id=%s\n", doc.Path.String(), doc.ID.String())
}

func (r *REPL) cmdUpdate(args []string) {
	if len(args) < 3 {
		fmt.Println("Usage: update <id> <path> <text...>")
		return
	}

	id, err := validated.NewDocumentIDFromString(args[0])
	if err != nil {
		fmt.Printf("Error parsing id: %v\n", err)
		return
	}

	doc, err := newDocument(id, args[1], strings.Join(args[2:], " "))
	if err != nil {
		fmt.Printf("Error building document: %v\n", err)
		return
	}

	if err := r.db.Reingest(context.Background(), doc); err != nil {
		fmt.Printf("Error reingesting: %v\n", err)
		return
	}

	fmt.Printf("OK: updated %s\n", id.String())
}

func (r *REPL) cmdGet(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: get <id>")
		return
	}

	id, err := validated.NewDocumentIDFromString(args[0])
	if err != nil {
		fmt.Printf("Error parsing id: %v\n", err)
		return
	}

	doc, ok, err := r.db.Documents.Get(context.Background(), id)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if !ok {
		fmt.Println("(not found)")
		return
	}

	fmt.Printf("Path:       %s\n", doc.Path.String())
	fmt.Printf("Title:      %s\n", doc.Title.String())
	fmt.Printf("Size:       %d bytes\n", doc.Size)
	fmt.Printf("Created at: %s\n", doc.Timestamps.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated at: %s\n", doc.Timestamps.UpdatedAt.Format(time.RFC3339))
	fmt.Println(string(doc.Content))
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: del <id>")
		return
	}

	id, err := validated.NewDocumentIDFromString(args[0])
	if err != nil {
		fmt.Printf("Error parsing id: %v\n", err)
		return
	}

	existed, err := r.db.Evict(context.Background(), id)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	if existed {
		fmt.Printf("OK: deleted %s\n", id.String())
	} else {
		fmt.Printf("OK: %s did not exist\n", id.String())
	}
}

func (r *REPL) cmdPaths(args []string) {
	term := ""
	if len(args) >= 1 {
		term = args[0]
	}

	limit, err := resultLimit(args, 1)
	if err != nil {
		fmt.Printf("Error parsing limit: %v\n", err)
		return
	}

	results, err := r.db.Paths.Search(context.Background(), term, limit)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	if len(results) == 0 {
		fmt.Println("(no matches)")
		return
	}
	for i, res := range results {
		fmt.Printf("%3d. %s  id=%s\n", i+1, res.Path, res.ID)
	}
}

func (r *REPL) cmdSearch(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: search <term>")
		return
	}

	query, err := validated.NewSearchQuery(args[0])
	if err != nil {
		fmt.Printf("Error parsing query: %v\n", err)
		return
	}

	limit, err := resultLimit(args, 1)
	if err != nil {
		fmt.Printf("Error parsing limit: %v\n", err)
		return
	}

	results, err := r.db.Content.Search(context.Background(), query, limit)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	if len(results) == 0 {
		fmt.Println("(no matches)")
		return
	}
	for i, res := range results {
		fmt.Printf("%3d. %s  id=%s\n", i+1, res.Path, res.ID)
	}
}

func (r *REPL) cmdCallers(args []string) {
	r.runRelationshipQuery(engine.QueryFindCallers, args, "callers")
}

func (r *REPL) cmdImpact(args []string) {
	r.runRelationshipQuery(engine.QueryImpactAnalysis, args, "impact")
}

func (r *REPL) runRelationshipQuery(kind engine.QueryKind, args []string, usage string) {
	if len(args) < 1 {
		fmt.Printf("Usage: %s <symbol>\n", usage)
		return
	}

	result, err := r.db.Relationships.ExecuteQuery(context.Background(), engine.Query{Kind: kind, Target: args[0]})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	if len(result.Matches) == 0 {
		fmt.Println("(no matches)")
		return
	}
	for i, m := range result.Matches {
		fmt.Printf("%3d. %s (%s)  %s:%d  [%s]\n", i+1, m.SymbolName, m.SymbolType, m.FilePath, m.Line, m.Relation)
	}
	fmt.Printf("direct=%d indirect=%d analyzed=%d elapsed=%.2fms truncated=%v\n",
		result.Stats.DirectCount, result.Stats.IndirectCount, result.Stats.SymbolsAnalyzed,
		result.Stats.ExecutionTimeMs, result.Stats.Truncated)
}

func (r *REPL) cmdLegacy(args []string) {
	if r.db.Legacy == nil {
		fmt.Println("legacy store not enabled (restart with --legacy)")
		return
	}
	if len(args) < 1 {
		fmt.Println("Usage: legacy <term>")
		return
	}

	limit := 10
	if len(args) >= 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Printf("Error parsing limit: %v\n", err)
			return
		}
		limit = n
	}

	entries := r.db.Legacy.Search(args[0], limit)
	if len(entries) == 0 {
		fmt.Println("(no matches)")
		return
	}
	for i, e := range entries {
		fmt.Printf("%3d. %s (%s)  %s\n", i+1, e.QualifiedName, e.Kind, e.FilePath)
	}
}

func (r *REPL) cmdStats() {
	stats := r.db.Stats()

	fmt.Println("Engine:")
	fmt.Printf("  Symbols loaded:          %v (%d symbols)\n", stats.Engine.SymbolsLoaded, stats.Engine.SymbolCount)
	fmt.Printf("  Dependency graph loaded: %v (%d nodes, %d edges)\n", stats.Engine.GraphLoaded, stats.Engine.NodeCount, stats.Engine.EdgeCount)

	if stats.Legacy != nil {
		fmt.Println("Legacy:")
		fmt.Printf("  Total symbols:         %d\n", stats.Legacy.TotalSymbols)
		fmt.Printf("  Files:                 %d\n", stats.Legacy.FileCount)
		fmt.Printf("  Relationships:         %d\n", stats.Legacy.RelationshipCount)
		fmt.Printf("  Circular dependencies: %d\n", stats.Legacy.CircularDependencies)
	}
}

func (r *REPL) cmdSync() {
	if err := r.db.Sync(context.Background()); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("OK: synced")
}

func (r *REPL) cmdInfo() {
	fmt.Printf("Database path: %s\n", r.dbPath)
	fmt.Printf("Legacy store:  %v\n", r.db.Legacy != nil)
}

// resultLimit parses an optional limit argument at position idx, defaulting
// to 20 results.
func resultLimit(args []string, idx int) (validated.Limit, error) {
	n := 20
	if len(args) > idx {
		parsed, err := strconv.Atoi(args[idx])
		if err != nil {
			return validated.Limit{}, err
		}
		n = parsed
	}
	return validated.NewLimit(n)
}
