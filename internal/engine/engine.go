// Package engine runs one orchestration loop per agent: it renders the
// prompt, streams the generation through the parser, applies the effects
// to the project and drives the build, review and deploy gate of roots.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/mtzanidakis/webforge/internal/agent"
	"github.com/mtzanidakis/webforge/internal/build"
	"github.com/mtzanidakis/webforge/internal/config"
	"github.com/mtzanidakis/webforge/internal/deploy"
	"github.com/mtzanidakis/webforge/internal/llm"
	"github.com/mtzanidakis/webforge/internal/pool"
	"github.com/mtzanidakis/webforge/internal/prompt"
	"github.com/mtzanidakis/webforge/internal/review"
	"github.com/mtzanidakis/webforge/internal/store"
	"github.com/mtzanidakis/webforge/internal/trace"
	"github.com/mtzanidakis/webforge/internal/vfs"
)

type Generator interface {
	Generate(ctx context.Context, p prompt.Prompt, opts llm.Options, sink llm.Sink) (string, error)
}

type Builder interface {
	Check(ctx context.Context, files, env map[string]string) (string, error)
	Compile(ctx context.Context, files, env map[string]string) (*build.Result, error)
}

type Publisher interface {
	Publish(ctx context.Context, page deploy.Page) (string, error)
}

type Reviewer interface {
	Review(ctx context.Context, req review.Request) review.Verdict
}

// Events receives engine events for live observers.
type Events interface {
	PublishJSON(topic string, v any) error
}

type Store interface {
	GetBlob(conversation, slot string) ([]byte, error)
	PutBlob(conversation, slot string, data []byte) error
	RecordMissingDependencies(names []string) error
	SaveDeployment(d *store.Deployment) error
	FindDeployment(conversation, digest string) (*store.Deployment, error)
}

// Deps are the collaborators of the engine. A nil Reviewer disables
// review and a nil Events drops events.
type Deps struct {
	Generator Generator
	Builder   Builder
	Publisher Publisher
	Reviewer  Reviewer
	Events    Events
	Store     Store
}

type Engine struct {
	pool  *pool.Pool
	bus   *pool.Bus
	files *vfs.Registry
	deps  Deps

	cfgMu sync.RWMutex
	cfg   config.EngineConfig

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu   sync.Mutex
	runs map[string]*run
}

func New(p *pool.Pool, bus *pool.Bus, files *vfs.Registry, deps Deps, cfg config.EngineConfig) *Engine {
	ctx, stop := context.WithCancel(context.Background())
	return &Engine{
		pool:  p,
		bus:   bus,
		files: files,
		deps:  deps,
		cfg:   cfg,
		ctx:   ctx,
		stop:  stop,
		runs:  make(map[string]*run),
	}
}

// UpdateConfig applies reloaded limits. Running loops pick them up at their
// next iteration or wait.
func (e *Engine) UpdateConfig(cfg config.EngineConfig) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	e.cfg = cfg
	slog.Info("engine config updated", "max_iterations", cfg.MaxIterations, "max_build_failures", cfg.MaxBuildFailures)
}

func (e *Engine) config() config.EngineConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

type SubmitOptions struct {
	WaitForSlot  bool
	Difficulty   int
	TemplateVars map[string]string
}

// Submit creates a root agent for task and starts its loop.
func (e *Engine) Submit(ctx context.Context, conversation, task string, opts SubmitOptions) (*agent.Agent, error) {
	a, err := e.pool.Create(ctx, conversation, task, pool.CreateOptions{
		WaitForSlot:  opts.WaitForSlot,
		Role:         agent.RoleCoordinator,
		Difficulty:   opts.Difficulty,
		TemplateVars: opts.TemplateVars,
	})
	if err != nil {
		return nil, err
	}
	if err := e.Start(ctx, conversation, a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

// Start launches the loop of an agent. Starting an agent that already has
// a loop is a no-op.
func (e *Engine) Start(ctx context.Context, conversation, id string) error {
	a, err := e.pool.Get(ctx, conversation, id)
	if err != nil {
		return err
	}
	if a.Status.IsTerminal() {
		return fmt.Errorf("start %s: agent is %s", id, a.Status)
	}

	var tracer *trace.Tracer
	if a.IsRoot() {
		if dir := e.config().TraceDir; dir != "" && e.running(conversation, id) == nil {
			tracer, err = trace.New(dir, conversation, id, a.Task)
			if err != nil {
				slog.Warn("trace disabled", "conversation", conversation, "agent", id, "error", err)
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx.Err() != nil {
		return fmt.Errorf("engine stopped: %w", agent.ErrCancelled)
	}
	key := runKey(conversation, id)
	if _, ok := e.runs[key]; ok {
		return nil
	}
	if !a.IsRoot() {
		if parent, ok := e.runs[runKey(conversation, a.ParentID)]; ok {
			tracer = parent.tracer
		}
	}
	r := newRun(e.ctx, conversation, id, tracer)
	e.runs[key] = r
	e.wg.Add(1)
	go e.loop(r)
	return nil
}

func (e *Engine) running(conversation, id string) *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[runKey(conversation, id)]
}

// Running lists the live loops.
func (e *Engine) Running() []RunInfo {
	e.mu.Lock()
	runs := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	out := make([]RunInfo, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.info())
	}
	slices.SortFunc(out, func(a, b RunInfo) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// Cancel stops an agent and every agent below it.
func (e *Engine) Cancel(ctx context.Context, conversation, id string) error {
	below, err := e.pool.Descendants(ctx, conversation, id)
	if err != nil {
		return err
	}
	for _, target := range append([]string{id}, below...) {
		if r := e.running(conversation, target); r != nil {
			r.requestCancel("cancelled by user")
			continue
		}
		_, err := e.pool.Mutate(ctx, conversation, target, func(a *agent.Agent) error {
			if a.Status.IsTerminal() {
				return nil
			}
			a.Status = agent.StatusCancelled
			a.SetProgress(a.Progress, "cancelled")
			return nil
		})
		if err != nil && !errors.Is(err, agent.ErrNotFound) {
			return fmt.Errorf("cancel %s: %w", target, err)
		}
	}
	slog.Info("agent cancelled", "conversation", conversation, "agent", id, "descendants", len(below))
	return nil
}

// Feedback appends a user message. A waiting or finished agent is put back
// to work; a cancelled one stays cancelled.
func (e *Engine) Feedback(ctx context.Context, conversation, id, content string) error {
	a, err := e.pool.Get(ctx, conversation, id)
	if err != nil {
		return err
	}
	if r := e.running(conversation, id); a.Status == agent.StatusCancelled || (r != nil && r.isCancelled()) {
		return fmt.Errorf("feedback %s: %w", id, agent.ErrCancelled)
	}
	if err := e.bus.SendFrom(ctx, conversation, id, agent.SenderUser, content, agent.MessageFeedback, false); err != nil {
		return err
	}
	if r := e.running(conversation, id); r != nil {
		r.mailbox.Put(Signal{Kind: SignalFeedback, From: agent.SenderUser, Content: content})
		return nil
	}
	_, err = e.pool.Mutate(ctx, conversation, id, func(a *agent.Agent) error {
		switch a.Status {
		case agent.StatusWorking, agent.StatusReviewing:
			return nil
		case agent.StatusCancelled:
			return fmt.Errorf("feedback %s: %w", id, agent.ErrCancelled)
		}
		resumeForFeedback(a)
		a.Status = agent.StatusPending
		return nil
	})
	if err != nil {
		return err
	}
	return e.Start(ctx, conversation, id)
}

// resumeForFeedback starts a fresh cycle of limits for a new user turn.
func resumeForFeedback(a *agent.Agent) {
	a.Error = ""
	a.Iterations = 0
	a.ConsecutiveFailures = 0
	a.ReviewRounds = 0
	a.SetProgress(0, "feedback received")
}

// Confirm accepts the deployed result of a waiting root.
func (e *Engine) Confirm(ctx context.Context, conversation, id string) error {
	if r := e.running(conversation, id); r != nil {
		r.mailbox.Put(Signal{Kind: SignalConfirm, From: agent.SenderUser})
		return nil
	}
	_, err := e.pool.Mutate(ctx, conversation, id, func(a *agent.Agent) error {
		switch a.Status {
		case agent.StatusCompleted:
			return nil
		case agent.StatusWaitingInput:
		default:
			return fmt.Errorf("confirm %s: agent is %s, not waiting", id, a.Status)
		}
		a.Status = agent.StatusCompleted
		a.SetProgress(100, "confirmed")
		return nil
	})
	return err
}

// Retry restarts a failed agent.
func (e *Engine) Retry(ctx context.Context, conversation, id string) error {
	if _, err := e.pool.Retry(ctx, conversation, id); err != nil {
		return err
	}
	return e.Start(ctx, conversation, id)
}

// Rebuild compiles and deploys the current project of a root without a
// generation round.
func (e *Engine) Rebuild(ctx context.Context, conversation, id string) (string, error) {
	a, err := e.pool.Get(ctx, conversation, id)
	if err != nil {
		return "", err
	}
	if !a.IsRoot() {
		return "", fmt.Errorf("rebuild %s: only root agents deploy", id)
	}
	if a.Status == agent.StatusWorking || a.Status == agent.StatusReviewing {
		return "", fmt.Errorf("rebuild %s: %w", id, agent.ErrAgentBusy)
	}
	project := e.files.Get(conversation)
	if project.Len() == 0 {
		return "", fmt.Errorf("rebuild %s: project has no files", id)
	}

	files := project.Snapshot()
	js, failure, err := e.build(ctx, a, project, files)
	if err != nil {
		return "", err
	}
	if failure != "" {
		return "", fmt.Errorf("%w: %s", agent.ErrCompileFailed, failure)
	}
	url, err := e.deploy(ctx, nil, a, files, js, deployTitle(a, ""))
	if err != nil {
		return "", err
	}
	slog.Info("project rebuilt", "conversation", conversation, "agent", id, "url", url)
	return url, nil
}

// Stop ends every loop without changing agent status and waits for them.
func (e *Engine) Stop() {
	e.stop()
	e.wg.Wait()
}

// Wait blocks until every loop has exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}
