// Command swarmd is the swarm orchestration daemon: it parses
// runtime flags, wires every durable store and in-memory service, and
// drives one Orchestrator + workerpool.Dispatcher goroutine pair per
// active session until told to shut down. Grounded in the teacher's
// cmd/cliaimonitor/main.go composition-root shape: flag parsing,
// base-path resolution, ordered component construction, and a
// signal-driven graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/swarmcore/swarm/internal/agentpool"
	"github.com/swarmcore/swarm/internal/agentrunner"
	"github.com/swarmcore/swarm/internal/clock"
	"github.com/swarmcore/swarm/internal/config"
	"github.com/swarmcore/swarm/internal/costledger"
	"github.com/swarmcore/swarm/internal/events"
	"github.com/swarmcore/swarm/internal/fileaccess"
	"github.com/swarmcore/swarm/internal/mailbox"
	"github.com/swarmcore/swarm/internal/modelprovider"
	"github.com/swarmcore/swarm/internal/orchestrator"
	"github.com/swarmcore/swarm/internal/persistence"
	"github.com/swarmcore/swarm/internal/quota"
	"github.com/swarmcore/swarm/internal/roles"
	"github.com/swarmcore/swarm/internal/session"
	"github.com/swarmcore/swarm/internal/tasks"
	"github.com/swarmcore/swarm/internal/toolhost"
	"github.com/swarmcore/swarm/internal/vcs"
	"github.com/swarmcore/swarm/internal/workerpool"
	"github.com/swarmcore/swarm/internal/worktree"
)

// deployment is every durable store and shared service a session's
// Orchestrator/Dispatcher pair is built against.
type deployment struct {
	cfg config.Config

	clk clock.Clock
	ids clock.IDGen
	bus *events.Bus

	workspace string
	catalog   *roles.Catalog
	sessions  *session.Store
	ledger   *costledger.Ledger
	book     *quota.Book
	vault    *quota.Vault
	provider modelprovider.Provider
	persist  *persistence.Store
	repo     vcs.VCS
	worktrees *worktree.Manager

	eventsDB *sql.DB
	questDB  *sql.DB
	costDB   *sql.DB

	mu      sync.Mutex
	running map[string]*runningSession
}

// runningSession bundles everything that must be torn down when a
// session's phase loop stops.
type runningSession struct {
	cancel context.CancelFunc
	orch   *orchestrator.Orchestrator
	disp   *workerpool.Dispatcher
	board  *tasks.Board
	pool   *agentpool.Pool
	mbox   *mailbox.Mailbox
}

func main() {
	cfg := config.Default()
	fs := flag.NewFlagSet("swarmd", flag.ExitOnError)
	populate := config.ParseFlags(fs, &cfg)
	fs.Parse(os.Args[1:])
	populate()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[SWARMD] invalid configuration: %v", err)
	}

	basePath := getBasePath()
	log.Printf("[SWARMD] starting: workspace=%s state=%s port=%d", cfg.WorkspacePath, cfg.StatePath, cfg.Port)

	dep, err := newDeployment(basePath, cfg)
	if err != nil {
		log.Fatalf("[SWARMD] wiring deployment: %v", err)
	}
	defer dep.Close()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	log.Printf("[SWARMD] ready")
	<-shutdown

	log.Printf("[SWARMD] shutting down")
	dep.StopAll()
	log.Printf("[SWARMD] shutdown complete")
}

// getBasePath resolves the directory swarmd's relative paths
// (workspace, roles, state) are rooted at, handling `go run`'s
// temp-dir binary the same way the teacher's main.go does.
func getBasePath() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	dir := filepath.Dir(exe)
	if filepath.Base(dir) == "exe" || filepath.Dir(dir) == os.TempDir() {
		wd, err := os.Getwd()
		if err == nil {
			return wd
		}
		return "."
	}
	if filepath.Base(dir) == "bin" {
		return filepath.Dir(dir)
	}
	return dir
}

func newDeployment(basePath string, cfg config.Config) (*deployment, error) {
	clk := clock.System{}
	ids := clock.UUIDGen{}

	statePath := absPath(basePath, cfg.StatePath)
	if err := os.MkdirAll(statePath, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	eventsDB, err := sql.Open("sqlite", filepath.Join(statePath, "events.db"))
	if err != nil {
		return nil, fmt.Errorf("open events db: %w", err)
	}
	eventStore, err := events.NewSQLiteStore(eventsDB)
	if err != nil {
		return nil, fmt.Errorf("init events store: %w", err)
	}
	bus := events.NewBus(eventStore)

	catalog, err := roles.Load(absPath(basePath, cfg.RolesPath))
	if err != nil {
		log.Printf("[SWARMD] roles: %v; falling back to built-in defaults", err)
		catalog = &roles.Catalog{}
	}

	sessions := session.NewStore(clk, ids, bus, cfg.MaxConcurrentSessions)

	costDB, err := sql.Open("sqlite", filepath.Join(statePath, "cost.db"))
	if err != nil {
		return nil, fmt.Errorf("open cost db: %w", err)
	}
	if _, err := costledger.NewSQLiteStore(costDB); err != nil {
		return nil, fmt.Errorf("init cost store: %w", err)
	}
	ledger := costledger.New(nil, clk, ids, bus)

	questDB, err := sql.Open("sqlite", filepath.Join(statePath, "quota.db"))
	if err != nil {
		return nil, fmt.Errorf("open quota db: %w", err)
	}
	if _, err := quota.NewSQLiteStore(questDB); err != nil {
		return nil, fmt.Errorf("init quota store: %w", err)
	}
	var vaultSecret [32]byte
	if _, err := randRead(vaultSecret[:]); err != nil {
		return nil, fmt.Errorf("derive vault secret: %w", err)
	}
	vault := quota.NewVault(vaultSecret, clk, ids, bus)
	book := quota.NewBook(vault, clk, ids, bus)

	workspace := absPath(basePath, cfg.WorkspacePath)
	repo := vcs.New(workspace)
	var worktrees *worktree.Manager
	if repo.IsRepo() {
		worktrees = worktree.New(repo, workspace, cfg.AutoCommitOnMerge, clk, ids)
	}

	// No real LLM backend dependency is wired into this deployment; see
	// DESIGN.md's Open Question entry on ModelProvider wiring. Replace
	// this with a concrete Provider before handling live traffic.
	provider := &modelprovider.Fake{}

	persist := persistence.New(statePath, clk)
	if err := persist.Initialize(); err != nil {
		return nil, fmt.Errorf("init persistence: %w", err)
	}

	return &deployment{
		cfg:       cfg,
		clk:       clk,
		ids:       ids,
		bus:       bus,
		workspace: workspace,
		catalog:   catalog,
		sessions:  sessions,
		ledger:    ledger,
		book:      book,
		vault:     vault,
		provider:  provider,
		persist:   persist,
		repo:      repo,
		worktrees: worktrees,
		eventsDB:  eventsDB,
		questDB:   questDB,
		costDB:    costDB,
		running:   make(map[string]*runningSession),
	}, nil
}

func absPath(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func randRead(b []byte) (int, error) {
	f, err := os.Open("/dev/urandom")
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.Read(b)
}

// StartSession constructs the per-session stores and launches its
// Orchestrator and workerpool.Dispatcher, returning once both
// goroutines are running.
func (d *deployment) StartSession(originalTask, name string) (*session.Session, error) {
	sess, err := d.sessions.Create(originalTask, name)
	if err != nil {
		return nil, err
	}

	tasksCompleted, tasksFailed := 0, 0
	board := tasks.NewBoard(sess.ID, d.clk, d.ids, d.bus, d.cfg.MaxTasksPerSession, &tasksCompleted, &tasksFailed)
	pool := agentpool.NewPool(sess.ID, d.catalog, d.clk, d.ids, d.bus, d.cfg.MaxConcurrentAgents)
	mbox := mailbox.New(sess.ID, d.clk, d.ids, d.bus)

	fa := fileaccess.New(d.workspace)
	host := toolhost.New(fa)
	runner := agentrunner.New(d.provider, host, pool, d.bus, d.ids)

	orch := orchestrator.New(sess.ID, d.sessions, board, pool, mbox, d.provider, d.ledger, d.cfg, d.clk, d.ids, d.bus)
	disp := workerpool.New(sess.ID, board, pool, mbox, d.catalog, runner)

	ctx, cancel := context.WithCancel(context.Background())
	go orch.Run(ctx)
	go disp.Run(ctx)

	d.mu.Lock()
	d.running[sess.ID] = &runningSession{cancel: cancel, orch: orch, disp: disp, board: board, pool: pool, mbox: mbox}
	d.mu.Unlock()

	return sess, nil
}

// StopSession halts one session's Orchestrator/Dispatcher pair and
// persists its final snapshot.
func (d *deployment) StopSession(sessionID string) error {
	d.mu.Lock()
	rs, ok := d.running[sessionID]
	if ok {
		delete(d.running, sessionID)
	}
	d.mu.Unlock()
	if !ok {
		return nil
	}

	rs.orch.Stop()
	rs.disp.Stop()
	rs.cancel()

	return d.snapshot(sessionID, rs)
}

func (d *deployment) snapshot(sessionID string, rs *runningSession) error {
	sess, err := d.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	summary := d.ledger.Summary(sessionID)
	snap := persistence.Snapshot{
		Version:      persistence.SnapshotVersion,
		SavedAt:      d.clk.Now(),
		Session:      sess,
		Tasks:        rs.board.All(),
		Agents:       rs.pool.List(),
		Messages:     rs.mbox.Get(mailbox.Filters{}),
		CostSummary:  &summary,
		UsageRecords: d.ledger.Records(sessionID),
	}
	return d.persist.Save(snap)
}

// StopAll halts every active session and closes the process-wide
// database handles, used on graceful shutdown.
func (d *deployment) StopAll() {
	d.mu.Lock()
	ids := make([]string, 0, len(d.running))
	for id := range d.running {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	for _, id := range ids {
		if err := d.StopSession(id); err != nil {
			log.Printf("[SWARMD] stop session %s: %v", id, err)
		}
	}

	d.Close()
}

// Close releases the process-wide database handles. Safe to call
// more than once.
func (d *deployment) Close() {
	for _, db := range []*sql.DB{d.eventsDB, d.questDB, d.costDB} {
		if db != nil {
			db.Close()
		}
	}
	d.eventsDB, d.questDB, d.costDB = nil, nil, nil
}
