// Package pool keeps the agent records of every conversation and gates how
// many of them may be active at once.
package pool

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mtzanidakis/webforge/internal/agent"
	"github.com/mtzanidakis/webforge/internal/config"
)

const slotAgents = "agents"

// Store persists one opaque blob per conversation and slot.
type Store interface {
	GetBlob(conversation, slot string) ([]byte, error)
	PutBlob(conversation, slot string, data []byte) error
	ListConversations(slot string) ([]string, error)
}

// state is the persisted blob: every agent of a conversation plus the id
// sequence, so archived ids are never handed out again.
type state struct {
	Seq    int                     `json:"seq"`
	Agents map[string]*agent.Agent `json:"agents"`
}

type CreateOptions struct {
	WaitForSlot  bool
	Timeout      time.Duration
	Role         agent.Role
	Difficulty   int
	TemplateVars map[string]string
	ParentID     string
	Spec         *agent.Spec
}

type Pool struct {
	store Store

	cfgMu sync.RWMutex
	cfg   config.PoolConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

func New(store Store, cfg config.PoolConfig) *Pool {
	if cfg.IDPrefix == "" {
		cfg.IDPrefix = "Web"
	}
	return &Pool{
		store: store,
		cfg:   cfg,
		locks: make(map[string]*sync.Mutex),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// UpdateConfig applies a reloaded ceiling and wait settings. Callers blocked
// in Create observe the new ceiling on their next poll.
func (p *Pool) UpdateConfig(cfg config.PoolConfig) {
	p.cfgMu.Lock()
	defer p.cfgMu.Unlock()
	if cfg.IDPrefix == "" {
		cfg.IDPrefix = p.cfg.IDPrefix
	}
	p.cfg = cfg
	slog.Info("pool config updated", "max_concurrent", cfg.MaxConcurrent)
}

func (p *Pool) config() config.PoolConfig {
	p.cfgMu.RLock()
	defer p.cfgMu.RUnlock()
	return p.cfg
}

func (p *Pool) lock(conversation string) func() {
	p.mu.Lock()
	l, ok := p.locks[conversation]
	if !ok {
		l = &sync.Mutex{}
		p.locks[conversation] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (p *Pool) load(conversation string) (*state, error) {
	data, err := p.store.GetBlob(conversation, slotAgents)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	st := &state{Agents: make(map[string]*agent.Agent)}
	if data == nil {
		return st, nil
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	if st.Agents == nil {
		st.Agents = make(map[string]*agent.Agent)
	}
	return st, nil
}

func (p *Pool) save(conversation string, st *state) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode agents: %w", err)
	}
	if err := p.store.PutBlob(conversation, slotAgents, data); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}
	return nil
}

func activeCount(st *state) int {
	n := 0
	for _, a := range st.Agents {
		if a.Status.HoldsSlot() {
			n++
		}
	}
	return n
}

// Create registers a pending agent once the conversation has a free slot.
func (p *Pool) Create(ctx context.Context, conversation, task string, opts CreateOptions) (*agent.Agent, error) {
	cfg := p.config()
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = cfg.SlotWaitTimeout
	}
	deadline := p.now().Add(timeout)

	for {
		a, err := p.tryCreate(conversation, task, opts)
		if err != nil || a != nil {
			return a, err
		}

		cfg = p.config()
		if !opts.WaitForSlot {
			return nil, fmt.Errorf("%d active agents: %w", cfg.MaxConcurrent, agent.ErrQuotaExceeded)
		}
		if !p.now().Before(deadline) {
			return nil, fmt.Errorf("wait for agent slot (%s): %w", timeout, agent.ErrTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.SlotPollInterval):
		}
	}
}

// tryCreate returns nil, nil when the conversation is at its ceiling.
func (p *Pool) tryCreate(conversation, task string, opts CreateOptions) (*agent.Agent, error) {
	unlock := p.lock(conversation)
	defer unlock()

	st, err := p.load(conversation)
	if err != nil {
		return nil, err
	}
	cfg := p.config()
	if activeCount(st) >= cfg.MaxConcurrent {
		return nil, nil
	}

	a := p.newAgent(st, cfg.IDPrefix, conversation, task, opts)
	if opts.ParentID != "" {
		parent, ok := st.Agents[opts.ParentID]
		if !ok {
			return nil, fmt.Errorf("parent %s: %w", opts.ParentID, agent.ErrNotFound)
		}
		parent.AddChild(a.ID)
		parent.UpdatedAt = a.CreatedAt
	}
	st.Agents[a.ID] = a

	if err := p.save(conversation, st); err != nil {
		return nil, err
	}
	slog.Info("agent created", "conversation", conversation, "id", a.ID, "role", a.Role, "parent", a.ParentID)
	return a.Clone(), nil
}

func (p *Pool) newAgent(st *state, prefix, conversation, task string, opts CreateOptions) *agent.Agent {
	st.Seq++
	now := p.now()
	role := opts.Role
	if role == "" {
		role = agent.RoleCoordinator
		if opts.ParentID != "" {
			role = agent.RoleEngineer
		}
	}
	difficulty := opts.Difficulty
	if difficulty == 0 {
		difficulty = 3
	}
	a := &agent.Agent{
		ID:           fmt.Sprintf("%s_%04d", prefix, st.Seq),
		Conversation: conversation,
		Role:         role,
		Status:       agent.StatusPending,
		ParentID:     opts.ParentID,
		Task:         task,
		Difficulty:   min(max(difficulty, 1), 5),
		TemplateVars: opts.TemplateVars,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if opts.Spec != nil {
		s := *opts.Spec
		a.Spec = &s
	}
	a.AddMessage(agent.SenderSystem, agent.MessageInstruction, task)
	return a
}

func (p *Pool) Get(ctx context.Context, conversation, id string) (*agent.Agent, error) {
	unlock := p.lock(conversation)
	defer unlock()

	st, err := p.load(conversation)
	if err != nil {
		return nil, err
	}
	a, ok := st.Agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, agent.ErrNotFound)
	}
	return a.Clone(), nil
}

// List returns every agent of the conversation in creation order.
func (p *Pool) List(ctx context.Context, conversation string) ([]*agent.Agent, error) {
	unlock := p.lock(conversation)
	defer unlock()

	st, err := p.load(conversation)
	if err != nil {
		return nil, err
	}
	out := make([]*agent.Agent, 0, len(st.Agents))
	for _, a := range st.Agents {
		out = append(out, a.Clone())
	}
	slices.SortFunc(out, func(a, b *agent.Agent) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Active returns the agents that occupy a slot.
func (p *Pool) Active(ctx context.Context, conversation string) ([]*agent.Agent, error) {
	all, err := p.List(ctx, conversation)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(a *agent.Agent) bool { return !a.Status.IsActive() }), nil
}

// Update replaces the whole record.
func (p *Pool) Update(ctx context.Context, a *agent.Agent) error {
	unlock := p.lock(a.Conversation)
	defer unlock()

	st, err := p.load(a.Conversation)
	if err != nil {
		return err
	}
	if _, ok := st.Agents[a.ID]; !ok {
		return fmt.Errorf("agent %s: %w", a.ID, agent.ErrNotFound)
	}
	c := a.Clone()
	c.UpdatedAt = p.now()
	st.Agents[a.ID] = c
	return p.save(a.Conversation, st)
}

// Mutate applies fn to the freshly loaded record and saves it. Returning an
// error from fn aborts without saving.
func (p *Pool) Mutate(ctx context.Context, conversation, id string, fn func(a *agent.Agent) error) (*agent.Agent, error) {
	unlock := p.lock(conversation)
	defer unlock()

	st, err := p.load(conversation)
	if err != nil {
		return nil, err
	}
	a, ok := st.Agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, agent.ErrNotFound)
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	a.UpdatedAt = p.now()
	if err := p.save(conversation, st); err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// Conversations lists every conversation that has agent records.
func (p *Pool) Conversations(ctx context.Context) ([]string, error) {
	convs, err := p.store.ListConversations(slotAgents)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}
