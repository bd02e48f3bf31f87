package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/mtzanidakis/webforge/internal/agent"
	"github.com/mtzanidakis/webforge/internal/build"
	"github.com/mtzanidakis/webforge/internal/llm"
	"github.com/mtzanidakis/webforge/internal/parser"
	"github.com/mtzanidakis/webforge/internal/prompt"
	"github.com/mtzanidakis/webforge/internal/vfs"
)

const (
	maxSelfMessage   = 1500
	maxReawakenFiles = 3
	reawakenedFlag   = "reawakened"
	metaTitle        = "title"
	metaDescription  = "description"
)

// roundState carries what one round hands to the next.
type roundState struct {
	first    bool
	injected map[string]string
}

func (s *roundState) inject(path, content string) {
	if s.injected == nil {
		s.injected = make(map[string]string)
	}
	s.injected[path] = content
}

func (s *roundState) takeInjected() map[string]string {
	m := s.injected
	s.injected = nil
	return m
}

// agentIndex resolves ownership questions from one pool listing.
type agentIndex map[string]*agent.Agent

func (ix agentIndex) ParentOf(id string) (string, bool) {
	a, ok := ix[id]
	if !ok {
		return "", false
	}
	return a.ParentID, true
}

func (ix agentIndex) StatusOf(id string) (agent.Status, bool) {
	a, ok := ix[id]
	if !ok {
		return "", false
	}
	return a.Status, true
}

// rootOf follows parent links from id to the top of its tree.
func (ix agentIndex) rootOf(id string) string {
	for range len(ix) {
		a, ok := ix[id]
		if !ok || a.ParentID == "" {
			break
		}
		id = a.ParentID
	}
	return id
}

func (e *Engine) index(ctx context.Context, conversation string) agentIndex {
	all, err := e.pool.List(ctx, conversation)
	if err != nil {
		slog.Warn("list agents failed", "conversation", conversation, "error", err)
		return agentIndex{}
	}
	ix := make(agentIndex, len(all))
	for _, a := range all {
		ix[a.ID] = a
	}
	return ix
}

func (e *Engine) loop(r *run) {
	defer e.finish(r)

	a, err := e.pool.Get(r.ctx, r.conversation, r.id)
	if err != nil {
		slog.Error("agent loop load failed", "conversation", r.conversation, "agent", r.id, "error", err)
		return
	}
	slog.Info("agent loop started", "conversation", r.conversation, "agent", r.id, "role", a.Role, "mode", prompt.SelectMode(a))
	if a.IsRoot() {
		r.tracer.Event("TASK_START", r.id, "root task started", "difficulty", a.Difficulty)
	}
	r.tracer.Event("AGENT_START", r.id, "loop started", "role", a.Role, "parent", a.ParentID)

	if a.Status == agent.StatusWaitingInput {
		if e.awaitFeedback(r) {
			return
		}
	} else if _, ok := e.setStatus(r, agent.StatusWorking, ""); !ok {
		return
	}

	st := &roundState{first: true}
	for !e.iterate(r, st) {
	}
}

// iterate runs one round and reports whether the loop is over.
func (e *Engine) iterate(r *run, st *roundState) bool {
	ctx := r.ctx
	if r.isCancelled() {
		e.finishCancelled(r)
		return true
	}
	if ctx.Err() != nil {
		return true
	}
	// Feedback already sits in the log this round reads.
	for {
		if _, ok := r.mailbox.Take(SignalFeedback); !ok {
			break
		}
	}

	a, err := e.pool.Get(ctx, r.conversation, r.id)
	if err != nil {
		slog.Error("agent reload failed", "conversation", r.conversation, "agent", r.id, "error", err)
		return true
	}
	if a.Status.IsTerminal() {
		return true
	}
	cfg := e.config()
	if a.Iterations >= cfg.MaxIterations {
		e.fail(r, fmt.Sprintf("Reached the iteration limit (%d) without finishing.", cfg.MaxIterations))
		return true
	}
	r.touch()

	project := e.files.Get(r.conversation)
	if st.first {
		st.first = false
		if a.Metadata[reawakenedFlag] == "true" {
			e.injectOwned(r, a, project, st)
		}
	}

	p := prompt.Render(e.promptInput(ctx, a, project, st.takeInjected()))
	sink := newStreamSink(e, r.conversation, r.id)
	raw, err := e.deps.Generator.Generate(ctx, p, llm.Options{Difficulty: a.Difficulty}, sink)
	if err != nil {
		if r.isCancelled() {
			e.finishCancelled(r)
			return true
		}
		if ctx.Err() != nil {
			return true
		}
		e.fail(r, fmt.Sprintf("Generation failed: %v", err))
		return true
	}

	act, perr := parser.Assemble(raw, sink.Commands())
	a, err = e.recordRound(ctx, r, raw, act)
	if err != nil {
		slog.Error("record round failed", "conversation", r.conversation, "agent", r.id, "error", err)
		return true
	}
	r.tracer.Event("LLM_RESPONSE", r.id, fmt.Sprintf("round %d", a.Iterations), "chars", len(raw), "mode", p.Mode.String())
	if len(act.Unknown) > 0 {
		slog.Debug("unknown directives ignored", "agent", r.id, "names", act.Unknown)
	}
	ambiguous := errors.Is(perr, agent.ErrParseAmbiguous)
	if perr != nil {
		msg := "Parts of your last response could not be parsed:\n" + perr.Error()
		if ambiguous {
			msg += "\n\nFile changes and other well-formed commands were applied. Sub-agents and delegations were not started; send them again once fixed."
		}
		e.sendFeedback(ctx, r, agent.MessageFeedback, msg)
	}

	switch e.applyEffects(r, act, project, st) {
	case effectsStop:
		return true
	case effectsNext:
		return false
	}
	if ambiguous {
		return false
	}

	if a, err = e.pool.Get(ctx, r.conversation, r.id); err != nil {
		slog.Error("agent reload failed", "conversation", r.conversation, "agent", r.id, "error", err)
		return true
	}
	waitFor := e.spawnChildren(r, a, act.Spawns)
	waitFor = append(waitFor, e.delegate(r, a, act.Delegates)...)

	var outputs []childOutput
	if len(waitFor) > 0 {
		var res waitResult
		res, outputs = e.waitChildren(r, waitFor)
		switch res {
		case waitCancelled:
			e.finishCancelled(r)
			return true
		case waitStopped:
			return true
		case waitTimeout:
			return false
		}
	}

	if a, err = e.pool.Get(ctx, r.conversation, r.id); err != nil {
		slog.Error("agent reload failed", "conversation", r.conversation, "agent", r.id, "error", err)
		return true
	}
	if a.IsRoot() {
		return e.gate(r, a, act)
	}
	return e.deliver(r, a, act, raw, outputs)
}

// recordRound stores the response and the round's status updates.
func (e *Engine) recordRound(ctx context.Context, r *run, raw string, act *parser.Action) (*agent.Agent, error) {
	a, err := e.pool.Mutate(ctx, r.conversation, r.id, func(a *agent.Agent) error {
		a.Iterations++
		a.AddMessage(agent.SenderSelf, agent.MessageProgress, clip(raw, maxSelfMessage))
		if act.HasProgress {
			a.SetProgress(act.Progress, act.Step)
		} else if act.Step != "" {
			a.Step = act.Step
		}
		if act.Title != "" || act.Description != "" {
			if a.Metadata == nil {
				a.Metadata = make(map[string]string)
			}
			if act.Title != "" {
				a.Metadata[metaTitle] = act.Title
			}
			if act.Description != "" {
				a.Metadata[metaDescription] = act.Description
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if act.HasProgress {
		e.publish(a.Conversation, a.ID, EventProgress, map[string]any{"progress": a.Progress, "step": a.Step})
	}
	return a, nil
}

// deliver hands a child's result to its parent.
func (e *Engine) deliver(r *run, a *agent.Agent, act *parser.Action, raw string, outputs []childOutput) bool {
	output := cmp.Or(act.Template, act.SelfOutput, act.Message, formatOutputs(outputs))
	if output == "" && a.OutputReady {
		output = raw
	}
	if output == "" {
		e.sendFeedback(r.ctx, r, agent.MessageFeedback,
			`No output was produced. Write your files, or report your result with @@done summary="..." or a <message> block.`)
		return false
	}

	a, err := e.pool.Mutate(context.WithoutCancel(r.ctx), r.conversation, r.id, func(a *agent.Agent) error {
		a.Output = output
		a.OutputReady = true
		a.Status = agent.StatusCompleted
		a.SetProgress(100, "done")
		return nil
	})
	if err != nil {
		slog.Error("deliver output failed", "conversation", r.conversation, "agent", r.id, "error", err)
		return true
	}
	slog.Info("agent completed", "conversation", a.Conversation, "agent", a.ID, "parent", a.ParentID, "output_len", len(output))
	r.tracer.Event("AGENT_COMPLETE", a.ID, "output delivered", "parent", a.ParentID, "output_len", len(output))
	e.publishStatus(a)
	e.notifyParent(a)
	return true
}

func (e *Engine) injectOwned(r *run, a *agent.Agent, project *vfs.Project, st *roundState) {
	owned := project.OwnedBy(a.ID)
	for _, path := range owned[:min(len(owned), maxReawakenFiles)] {
		if content, ok := project.Read(path); ok {
			st.inject(path, content)
		}
	}
	_, err := e.pool.Mutate(r.ctx, r.conversation, r.id, func(a *agent.Agent) error {
		delete(a.Metadata, reawakenedFlag)
		return nil
	})
	if err != nil {
		slog.Warn("clear reawakened flag failed", "agent", r.id, "error", err)
	}
}

func (e *Engine) promptInput(ctx context.Context, a *agent.Agent, project *vfs.Project, injected map[string]string) prompt.Input {
	snap := project.Snapshot()
	owners := project.Owners()
	files := make([]prompt.FileInfo, 0, len(snap))
	for _, path := range slices.Sorted(maps.Keys(snap)) {
		fi := prompt.FileInfo{Path: path, Owner: owners[path], Size: len(snap[path])}
		if strings.HasSuffix(path, ".ts") || strings.HasSuffix(path, ".tsx") {
			fi.Exports = vfs.ExtractExports(snap[path])
		}
		files = append(files, fi)
	}

	var peers []prompt.Peer
	all, err := e.pool.List(ctx, a.Conversation)
	if err != nil {
		slog.Warn("list peers failed", "conversation", a.Conversation, "error", err)
	}
	for _, p := range all {
		peers = append(peers, prompt.Peer{
			ID:       p.ID,
			ParentID: p.ParentID,
			Role:     p.Role,
			Status:   p.Status,
			Task:     p.Task,
			Progress: p.Progress,
			Owned:    project.OwnedBy(p.ID),
		})
	}

	return prompt.Input{
		Agent:    a,
		Files:    files,
		Peers:    peers,
		Modules:  build.Modules(),
		Injected: injected,
		Language: e.config().Language,
	}
}

func (e *Engine) setStatus(r *run, status agent.Status, step string) (*agent.Agent, bool) {
	a, err := e.pool.Mutate(r.ctx, r.conversation, r.id, func(a *agent.Agent) error {
		if a.Status.IsTerminal() {
			return fmt.Errorf("agent is %s", a.Status)
		}
		a.Status = status
		if step != "" {
			a.Step = step
		}
		return nil
	})
	if err != nil {
		slog.Warn("set status failed", "conversation", r.conversation, "agent", r.id, "status", status, "error", err)
		return nil, false
	}
	e.publishStatus(a)
	return a, true
}

func (e *Engine) sendFeedback(ctx context.Context, r *run, typ agent.MessageType, content string) {
	if err := e.bus.Send(ctx, r.conversation, r.id, content, typ, false); err != nil {
		slog.Warn("feedback not recorded", "conversation", r.conversation, "agent", r.id, "error", err)
	}
}

// fail marks the agent failed. Roots tell the user, children wake their
// parent.
func (e *Engine) fail(r *run, reason string) {
	ctx := context.WithoutCancel(r.ctx)
	a, err := e.pool.Mutate(ctx, r.conversation, r.id, func(a *agent.Agent) error {
		if a.Status.IsTerminal() {
			return nil
		}
		a.Status = agent.StatusFailed
		a.Error = reason
		a.Step = "failed"
		return nil
	})
	if err != nil {
		slog.Error("mark failed", "conversation", r.conversation, "agent", r.id, "error", err)
		return
	}
	slog.Warn("agent failed", "conversation", r.conversation, "agent", r.id, "reason", clip(reason, 200))
	r.tracer.Event("AGENT_FAILED", r.id, clip(reason, 200))
	if err := e.bus.Send(ctx, r.conversation, r.id, reason, agent.MessageError, a.IsRoot()); err != nil {
		slog.Warn("failure notice not recorded", "agent", r.id, "error", err)
	}
	e.publishStatus(a)
	e.notifyParent(a)
}

func (e *Engine) finishCancelled(r *run) {
	a, err := e.pool.Mutate(context.WithoutCancel(r.ctx), r.conversation, r.id, func(a *agent.Agent) error {
		if a.Status.IsTerminal() {
			return nil
		}
		a.Status = agent.StatusCancelled
		a.Step = "cancelled"
		return nil
	})
	if err != nil {
		slog.Error("mark cancelled", "conversation", r.conversation, "agent", r.id, "error", err)
		return
	}
	slog.Info("agent loop cancelled", "conversation", r.conversation, "agent", r.id)
	r.tracer.Event("AGENT_CANCELLED", r.id, "cancelled")
	e.publishStatus(a)
	e.notifyParent(a)
}

func (e *Engine) notifyParent(a *agent.Agent) {
	if a.ParentID == "" {
		return
	}
	if pr := e.running(a.Conversation, a.ParentID); pr != nil {
		pr.mailbox.Put(Signal{Kind: SignalHandoff, From: a.ID, Content: a.Output})
	}
}

// finish unregisters the run. An agent put back to pending while its old
// loop was exiting gets a new loop.
func (e *Engine) finish(r *run) {
	defer e.wg.Done()
	ctx := context.WithoutCancel(r.ctx)

	a, err := e.pool.Get(ctx, r.conversation, r.id)
	if err == nil && a.IsRoot() {
		e.saveProject(r.conversation)
		r.tracer.Finalize(strings.ToUpper(string(a.Status)), a.Error)
	}

	e.mu.Lock()
	if e.runs[runKey(r.conversation, r.id)] == r {
		delete(e.runs, runKey(r.conversation, r.id))
	}
	e.mu.Unlock()
	r.cancel()
	slog.Info("agent loop exited", "conversation", r.conversation, "agent", r.id)

	if e.ctx.Err() != nil || r.isCancelled() {
		return
	}
	if cur, err := e.pool.Get(ctx, r.conversation, r.id); err == nil && cur.Status == agent.StatusPending {
		if err := e.Start(ctx, r.conversation, r.id); err != nil {
			slog.Warn("restart agent failed", "conversation", r.conversation, "agent", r.id, "error", err)
		}
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "\n...[truncated]"
}
