// Package orchestrator drives a single session through its phases —
// Planning, Delegating, Executing, Reviewing, Synthesizing — on a
// timer-scheduled tick, inspecting TaskBoard/AgentPool/Mailbox state
// and making the decomposition and assignment decisions a human lead
// agent would (spec §4.5).
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/swarmcore/swarm/internal/agentpool"
	"github.com/swarmcore/swarm/internal/clock"
	"github.com/swarmcore/swarm/internal/config"
	"github.com/swarmcore/swarm/internal/costledger"
	"github.com/swarmcore/swarm/internal/events"
	"github.com/swarmcore/swarm/internal/mailbox"
	"github.com/swarmcore/swarm/internal/modelprovider"
	"github.com/swarmcore/swarm/internal/roles"
	"github.com/swarmcore/swarm/internal/session"
	"github.com/swarmcore/swarm/internal/swarmerr"
	"github.com/swarmcore/swarm/internal/tasks"
)

// maxConsecutiveTickFailures bounds how many back-to-back tick errors
// the Orchestrator tolerates before giving up and failing the session —
// a single transient ModelProvider hiccup should not sink a session.
const maxConsecutiveTickFailures = 3

const decompositionSystemPrompt = "decompose into subtasks with type, priority, role, acceptance criteria, " +
	"dependencies as symbolic indices task_0..task_n"

// Orchestrator owns the phase loop for exactly one session.
type Orchestrator struct {
	sessionID string

	sessions *session.Store
	board    *tasks.Board
	pool     *agentpool.Pool
	mbox     *mailbox.Mailbox
	provider modelprovider.Provider
	ledger   *costledger.Ledger // optional; nil omits cost from final metrics

	cfg config.Config
	clk clock.Clock
	ids clock.IDGen
	bus *events.Bus

	mu                  sync.Mutex
	running             bool
	paused              bool
	consecutiveFailures int

	stopOnce sync.Once
	stopCh   chan struct{}
	wakeCh   chan struct{}
}

// New creates an Orchestrator for sessionID, driven against the given
// stores. provider may be nil, in which case the Planning phase falls
// back to its default task decomposition. ledger may be nil, in which
// case final session metrics omit cost.
func New(sessionID string, sessions *session.Store, board *tasks.Board, pool *agentpool.Pool, mbox *mailbox.Mailbox, provider modelprovider.Provider, ledger *costledger.Ledger, cfg config.Config, clk clock.Clock, ids clock.IDGen, bus *events.Bus) *Orchestrator {
	return &Orchestrator{
		sessionID: sessionID,
		sessions:  sessions,
		board:     board,
		pool:      pool,
		mbox:      mbox,
		provider:  provider,
		ledger:    ledger,
		cfg:       cfg,
		clk:       clk,
		ids:       ids,
		bus:       bus,
		stopCh:    make(chan struct{}),
		wakeCh:    make(chan struct{}, 1),
	}
}

// Run drives the tick loop until ctx is cancelled, Stop is called, or
// the session reaches a terminal state. Call it in its own goroutine;
// ticks for this session never overlap because this loop is the only
// writer that advances session/board/pool state from the orchestrator
// side (spec §5 scheduling model).
func (o *Orchestrator) Run(ctx context.Context) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.mu.Unlock()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-o.wakeCh:
			drainTimer(timer)
			timer.Reset(0)
		case <-timer.C:
			if o.isPaused() {
				// Pause clears the next-tick timer: don't reset it.
				// The loop blocks here until Resume signals wakeCh.
				continue
			}
			sess, err := o.sessions.Get(o.sessionID)
			if err != nil || sess.Status.IsTerminal() {
				return
			}
			if sess.Metrics.StartTime != nil && o.cfg.SessionTotalTimeout > 0 &&
				o.clk.Now().Sub(*sess.Metrics.StartTime) >= o.cfg.SessionTotalTimeout {
				if o.bus != nil {
					o.bus.Publish(events.NewEvent(o.ids, o.clk, events.OrchestrationError, "orchestrator.Orchestrator", o.sessionID, events.PriorityHigh, map[string]interface{}{
						"error": fmt.Sprintf("orchestrator: session exceeded total timeout %s", o.cfg.SessionTotalTimeout),
					}))
				}
				if _, terr := o.sessions.Transition(o.sessionID, session.StatusFailed); terr != nil {
					log.Printf("[ORCH] session %s: could not transition to Failed: %v", o.sessionID, terr)
				}
				return
			}
			o.tick(ctx, sess)
			timer.Reset(o.cfg.OrchestratorTickInterval)
		}
	}
}

func drainTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

// Stop permanently ends Run's loop.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
}

func (o *Orchestrator) isPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// Pause transitions the session to Paused and stops scheduling ticks.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
	_, err := o.sessions.Transition(o.sessionID, session.StatusPaused)
	return err
}

// Resume requires the session to be Paused; it resumes to Executing if
// any task is InProgress or Review (work was genuinely in flight),
// otherwise to Planning — the resolution recorded in DESIGN.md for the
// spec's open question on where a resumed session re-enters its phases.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	if !o.paused {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: resume: %w", swarmerr.ErrSessionInvalidState)
	}
	o.paused = false
	o.mu.Unlock()

	target := session.StatusPlanning
	for _, t := range o.board.All() {
		if t.Status == tasks.StatusInProgress || t.Status == tasks.StatusReview {
			target = session.StatusExecuting
			break
		}
	}
	if _, err := o.sessions.Transition(o.sessionID, target); err != nil {
		return err
	}

	select {
	case o.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

// tick executes exactly one phase step for sess.Status, recovering
// from a panicking phase handler so a single bad iteration can't crash
// the loop (spec §C.1 panic-safe execution).
func (o *Orchestrator) tick(ctx context.Context, sess *session.Session) {
	var stepErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				stepErr = fmt.Errorf("orchestrator: panic in tick: %v", r)
			}
		}()
		stepErr = o.step(ctx, sess)
	}()

	if stepErr != nil {
		o.handleFailure(stepErr)
		return
	}
	o.mu.Lock()
	o.consecutiveFailures = 0
	o.mu.Unlock()
}

func (o *Orchestrator) step(ctx context.Context, sess *session.Session) error {
	switch sess.Status {
	case session.StatusInitializing:
		_, err := o.sessions.Transition(o.sessionID, session.StatusPlanning)
		return err
	case session.StatusPlanning:
		return o.planning(ctx, sess)
	case session.StatusDelegating:
		return o.delegating()
	case session.StatusExecuting:
		return o.executing()
	case session.StatusReviewing:
		return o.reviewing()
	case session.StatusSynthesizing:
		return o.synthesizing(sess)
	default:
		return nil
	}
}

func (o *Orchestrator) handleFailure(err error) {
	o.mu.Lock()
	o.consecutiveFailures++
	n := o.consecutiveFailures
	o.mu.Unlock()

	log.Printf("[ORCH] session %s tick error (%d/%d consecutive): %v", o.sessionID, n, maxConsecutiveTickFailures, err)
	if n < maxConsecutiveTickFailures {
		return
	}

	if o.bus != nil {
		o.bus.Publish(events.NewEvent(o.ids, o.clk, events.OrchestrationError, "orchestrator.Orchestrator", o.sessionID, events.PriorityHigh, map[string]interface{}{
			"error": err.Error(),
		}))
	}
	if _, terr := o.sessions.Transition(o.sessionID, session.StatusFailed); terr != nil {
		log.Printf("[ORCH] session %s: could not transition to Failed: %v", o.sessionID, terr)
	}
}

// --- Planning ---

type decomposedTask struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	Type               string   `json:"type"`
	Priority           string   `json:"priority"`
	Role               string   `json:"role"`
	EstimatedTokens    int      `json:"estimated_tokens"`
	BlockedBy          []string `json:"blocked_by"`
}

type decompositionResponse struct {
	Tasks []decomposedTask `json:"tasks"`
}

func (o *Orchestrator) planning(ctx context.Context, sess *session.Session) error {
	if o.board.Len() > 0 {
		_, err := o.sessions.Transition(o.sessionID, session.StatusDelegating)
		return err
	}

	decomposed, err := o.decompose(ctx, sess)
	if err != nil {
		log.Printf("[ORCH] session %s: decomposition failed, using default: %v", o.sessionID, err)
		decomposed = defaultDecomposition()
	}

	idToReal := make(map[string]string, len(decomposed))
	for i, dt := range decomposed {
		symbolic := fmt.Sprintf("task_%d", i)
		spec := toSpec(dt, idToReal)
		t, err := o.board.CreateTask(spec)
		if err != nil {
			return fmt.Errorf("orchestrator: create task %d: %w", i, err)
		}
		idToReal[symbolic] = t.ID
	}

	_, err = o.sessions.Transition(o.sessionID, session.StatusDelegating)
	return err
}

func (o *Orchestrator) decompose(ctx context.Context, sess *session.Session) ([]decomposedTask, error) {
	if o.provider == nil {
		return nil, fmt.Errorf("orchestrator: %w", swarmerr.ErrModelNotAvailable)
	}

	reqCtx, cancel := context.WithTimeout(ctx, o.cfg.ModelRequestTimeout)
	defer cancel()

	var text strings.Builder
	req := modelprovider.Request{
		SessionID: sess.ID,
		RequestID: o.ids.NewID(),
		Messages: []modelprovider.Message{
			{Actor: modelprovider.ActorSystem, Type: modelprovider.MessageText, Content: decompositionSystemPrompt},
			{Actor: modelprovider.ActorUser, Type: modelprovider.MessageText, Content: sess.OriginalTask},
		},
		ResponseFormat: modelprovider.ResponseFormatJSON,
	}
	if err := o.provider.Stream(reqCtx, req, func(p modelprovider.Part) { text.WriteString(p.Text) }); err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}

	var parsed decompositionResponse
	if err := json.Unmarshal([]byte(text.String()), &parsed); err != nil {
		return nil, fmt.Errorf("decompose: parse response: %w", err)
	}
	if len(parsed.Tasks) == 0 {
		return nil, fmt.Errorf("decompose: %w", swarmerr.ErrValidationError)
	}
	return parsed.Tasks, nil
}

// defaultDecomposition is the fallback five-task chain used when the
// model's decomposition can't be parsed or the request fails.
func defaultDecomposition() []decomposedTask {
	return []decomposedTask{
		{Title: "Research", Type: string(tasks.TypeResearch)},
		{Title: "Design", Type: string(tasks.TypeDesign), BlockedBy: []string{"task_0"}},
		{Title: "Implementation", Type: string(tasks.TypeImplementation), BlockedBy: []string{"task_1"}},
		{Title: "Test", Type: string(tasks.TypeTesting), BlockedBy: []string{"task_2"}},
		{Title: "Review", Type: string(tasks.TypeReview), BlockedBy: []string{"task_3"}},
	}
}

func toSpec(dt decomposedTask, idToReal map[string]string) tasks.Spec {
	typ := tasks.Type(dt.Type)
	if typ == "" {
		typ = tasks.TypeImplementation
	}
	priority := tasks.Priority(dt.Priority)
	if priority == "" {
		priority = tasks.PriorityMedium
	}
	role := dt.Role
	if role == "" {
		role = string(roles.ForTaskType(typ))
	}
	var blockedBy []string
	for _, dep := range dt.BlockedBy {
		if real, ok := idToReal[dep]; ok {
			blockedBy = append(blockedBy, real)
		}
	}
	estimatedTokens := dt.EstimatedTokens
	if estimatedTokens <= 0 {
		estimatedTokens = tasks.DefaultEstimatedTokens
	}
	return tasks.Spec{
		Title:              dt.Title,
		Description:        dt.Description,
		AcceptanceCriteria: dt.AcceptanceCriteria,
		Type:               typ,
		Priority:           priority,
		AssignedRole:       role,
		BlockedBy:          blockedBy,
		EstimatedTokens:    estimatedTokens,
	}
}

// --- Delegating ---

func (o *Orchestrator) delegating() error {
	ready := o.board.GetReady()

	anyUnassigned := false
	for _, t := range ready {
		if t.AssignedAgentID != "" {
			continue
		}
		anyUnassigned = true

		role := roles.Role(t.AssignedRole)
		if role == "" {
			role = roles.ForTaskType(t.Type)
		}

		agent, err := o.findOrSpawnIdle(role, t)
		if err != nil {
			// No capacity right now; try other ready tasks this tick.
			continue
		}

		if _, err := o.board.AssignTask(t.ID, agent.ID); err != nil {
			continue
		}
		if _, err := o.pool.Assign(agent.ID, t.ID); err != nil {
			continue
		}
		if _, err := o.mbox.Send(mailbox.SendInput{
			From:    "orchestrator",
			To:      agent.ID,
			Type:    mailbox.TypeTaskAssignment,
			Subject: t.Title,
			Content: t.Description,
			Priority: mailboxPriorityFor(t.Priority),
		}); err != nil {
			log.Printf("[ORCH] session %s: post task assignment: %v", o.sessionID, err)
		}
	}

	if !anyUnassigned {
		_, err := o.sessions.Transition(o.sessionID, session.StatusExecuting)
		return err
	}
	return nil
}

func mailboxPriorityFor(p tasks.Priority) mailbox.Priority {
	switch p {
	case tasks.PriorityCritical:
		return mailbox.PriorityUrgent
	case tasks.PriorityHigh:
		return mailbox.PriorityHigh
	default:
		return mailbox.PriorityNormal
	}
}

// findOrSpawnIdle picks the best idle agent of role for task t, using
// completed-task-type affinity as a tie-break (spec §C.4 capability
// match), spawning a fresh agent if none is idle and the pool has
// capacity.
func (o *Orchestrator) findOrSpawnIdle(role roles.Role, t *tasks.Task) (*agentpool.AgentInstance, error) {
	var candidates []*agentpool.AgentInstance
	for _, a := range o.pool.Idle() {
		if a.Role == role {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) > 0 {
		return o.bestCandidate(candidates, t), nil
	}
	return o.pool.Spawn(role)
}

func (o *Orchestrator) bestCandidate(candidates []*agentpool.AgentInstance, t *tasks.Task) *agentpool.AgentInstance {
	best := candidates[0]
	bestScore := o.capabilityScore(best, t)
	for _, c := range candidates[1:] {
		if score := o.capabilityScore(c, t); score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

func (o *Orchestrator) capabilityScore(a *agentpool.AgentInstance, t *tasks.Task) int {
	score := 0
	for _, completedID := range a.CompletedTasks {
		if ct, err := o.board.GetTask(completedID); err == nil && ct.Type == t.Type {
			score++
		}
	}
	return score
}

// --- Executing ---

func (o *Orchestrator) executing() error {
	for _, t := range o.board.GetReady() {
		if t.AssignedAgentID == "" {
			_, err := o.sessions.Transition(o.sessionID, session.StatusDelegating)
			return err
		}
	}
	if len(o.board.GetByStatus(tasks.StatusReview)) > 0 {
		_, err := o.sessions.Transition(o.sessionID, session.StatusReviewing)
		return err
	}

	allDone := true
	for _, t := range o.board.All() {
		if t.Status != tasks.StatusComplete && t.Status != tasks.StatusFailed && t.Status != tasks.StatusCancelled {
			allDone = false
			break
		}
	}
	if allDone && o.board.Len() > 0 {
		_, err := o.sessions.Transition(o.sessionID, session.StatusSynthesizing)
		return err
	}
	return nil
}

// --- Reviewing ---

func (o *Orchestrator) reviewing() error {
	reviewTasks := o.board.GetByStatus(tasks.StatusReview)
	if len(reviewTasks) == 0 {
		_, err := o.sessions.Transition(o.sessionID, session.StatusExecuting)
		return err
	}

	for _, t := range reviewTasks {
		reviewer, err := o.findOrSpawnIdle(roles.Reviewer, t)
		if err != nil {
			continue
		}
		if _, err := o.mbox.Send(mailbox.SendInput{
			From:     "orchestrator",
			To:       reviewer.ID,
			Type:     mailbox.TypeCodeReviewReq,
			Subject:  "Review: " + t.Title,
			Content:  t.Description,
			Priority: mailbox.PriorityHigh,
		}); err != nil {
			log.Printf("[ORCH] session %s: post review request: %v", o.sessionID, err)
		}
	}
	return nil
}

// --- Synthesizing ---

func (o *Orchestrator) synthesizing(sess *session.Session) error {
	all := o.board.All()
	completed, failed := 0, 0
	for _, t := range all {
		switch t.Status {
		case tasks.StatusComplete:
			completed++
		case tasks.StatusFailed:
			failed++
		}
	}

	summary := fmt.Sprintf("session complete: %d/%d tasks completed, %d failed", completed, len(all), failed)
	o.mbox.Broadcast("orchestrator", summary, mailbox.ImportanceInfo)

	var tokensUsed int64
	var agentsSpawned int
	for _, a := range o.pool.List() {
		tokensUsed += a.PromptTokens + a.CompletionTokens
		agentsSpawned++
	}
	var totalCost float64
	if o.ledger != nil {
		totalCost = o.ledger.Summary(sess.ID).TotalCost
	}

	if _, err := o.sessions.UpdateMetrics(sess.ID, func(m *session.Metrics) {
		m.TasksTotal = len(all)
		m.TasksCompleted = completed
		m.TasksFailed = failed
		m.AgentsSpawned = agentsSpawned
		m.TokensUsed = tokensUsed
		m.TotalCostUSD = totalCost
	}); err != nil {
		log.Printf("[ORCH] session %s: metrics update: %v", o.sessionID, err)
	}

	o.pool.TerminateAll()

	_, err := o.sessions.Transition(o.sessionID, session.StatusComplete)
	return err
}
