package engine

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mtzanidakis/webforge/internal/agent"
	"github.com/mtzanidakis/webforge/internal/parser"
)

type childOutput struct {
	Key    string
	ID     string
	Status agent.Status
	Output string
	Error  string
}

func formatOutputs(outputs []childOutput) string {
	var sb strings.Builder
	for _, o := range outputs {
		if o.Status == agent.StatusCompleted {
			fmt.Fprintf(&sb, "## %s (%s)\n%s\n\n", o.Key, o.ID, o.Output)
			continue
		}
		fmt.Fprintf(&sb, "## %s (%s) %s\n%s\n\n", o.Key, o.ID, o.Status, cmp.Or(o.Error, "no output"))
	}
	return strings.TrimSpace(sb.String())
}

// spawnChildren creates the requested children in response order and
// starts each one as soon as it exists, so running children can free the
// slots later siblings wait for.
func (e *Engine) spawnChildren(r *run, parent *agent.Agent, specs []agent.Spec) []string {
	if len(specs) == 0 {
		return nil
	}
	ctx := r.ctx
	p := parent.Clone()

	var ids, problems []string
	for _, spec := range specs {
		child, err := e.spawnOne(ctx, p, spec)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			problems = append(problems, fmt.Sprintf("%s (%s): %v", cmp.Or(spec.Role, "engineer"), clip(spec.Task, 60), err))
			continue
		}
		e.publishStatus(child)
		r.tracer.Event("CHILD_SPAWNED", r.id, "child created", "child_id", child.ID, "role", child.Role, "task", spec.Task)
		if err := e.Start(ctx, r.conversation, child.ID); err != nil {
			slog.Error("start child failed", "conversation", r.conversation, "parent", r.id, "child", child.ID, "error", err)
			problems = append(problems, fmt.Sprintf("%s: %v", child.ID, err))
			continue
		}
		ids = append(ids, child.ID)
	}
	if len(problems) > 0 {
		e.sendFeedback(ctx, r, agent.MessageError, "Some sub-agents could not be created:\n- "+strings.Join(problems, "\n- "))
	}
	return ids
}

// spawnOne reuses the agent named in spec when it can and creates a new
// one otherwise.
func (e *Engine) spawnOne(ctx context.Context, parent *agent.Agent, spec agent.Spec) (*agent.Agent, error) {
	if spec.Reuse != "" {
		task := cmp.Or(spec.Task, "Continue your previous work.")
		child, err := e.pool.Reawaken(ctx, parent, spec.Reuse, task, &spec)
		if err == nil {
			return child, nil
		}
		if spec.Task == "" {
			return nil, err
		}
		slog.Warn("reuse failed, spawning a new agent", "conversation", parent.Conversation, "reuse", spec.Reuse, "error", err)
	}
	return e.pool.Spawn(ctx, parent, spec)
}

// delegate hands new work to existing agents and returns the ones to wait
// for.
func (e *Engine) delegate(r *run, from *agent.Agent, delegates []parser.Delegate) []string {
	if len(delegates) == 0 {
		return nil
	}
	ctx := r.ctx
	p := from.Clone()

	var ids, problems []string
	for _, d := range delegates {
		if d.To == r.id {
			problems = append(problems, "you cannot delegate to yourself")
			continue
		}
		target, err := e.pool.Get(ctx, r.conversation, d.To)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: no such agent", d.To))
			continue
		}

		if target.Status.IsTerminal() {
			if _, err := e.pool.Reawaken(ctx, p, d.To, d.Message, nil); err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", d.To, err))
				continue
			}
		} else if err := e.bus.SendFrom(ctx, r.conversation, d.To, r.id, d.Message, agent.MessageInstruction, false); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", d.To, err))
			continue
		}

		if tr := e.running(r.conversation, d.To); tr != nil && !target.Status.IsTerminal() {
			tr.mailbox.Put(Signal{Kind: SignalFeedback, From: r.id, Content: d.Message})
		} else if err := e.Start(ctx, r.conversation, d.To); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", d.To, err))
			continue
		}
		ids = append(ids, d.To)
		r.tracer.Event("DELEGATED", r.id, "work delegated", "to", d.To, "message", d.Message)
	}
	if len(problems) > 0 {
		e.sendFeedback(ctx, r, agent.MessageFeedback, "Some delegations failed:\n- "+strings.Join(problems, "\n- "))
	}
	return ids
}

type waitResult int

const (
	waitDone waitResult = iota
	waitTimeout
	waitCancelled
	waitStopped
)

// waitChildren blocks until every agent in ids has finished. Hand-offs in
// the mailbox shortcut the poll interval.
func (e *Engine) waitChildren(r *run, ids []string) (waitResult, []childOutput) {
	cfg := e.config()
	r.tracer.Event("WAIT_CHILDREN", r.id, "waiting for sub-agents", "children", strings.Join(ids, ","))
	slog.Info("waiting for children", "conversation", r.conversation, "agent", r.id, "children", ids)

	deadline := time.NewTimer(cfg.ChildWaitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(cfg.ChildPollInterval)
	defer ticker.Stop()

	for {
		outputs, pending, err := e.collect(r.ctx, r.conversation, ids)
		if err != nil {
			slog.Warn("poll children failed", "agent", r.id, "error", err)
		} else if len(pending) == 0 {
			e.recordOutputs(r, outputs)
			return waitDone, outputs
		}

		select {
		case <-r.cancelled:
			return waitCancelled, nil
		case <-r.ctx.Done():
			if r.isCancelled() {
				return waitCancelled, nil
			}
			return waitStopped, nil
		case <-deadline.C:
			e.sendFeedback(r.ctx, r, agent.MessageError, fmt.Sprintf(
				"Timed out after %s waiting for sub-agents: %s. Continue without their results or delegate again.",
				cfg.ChildWaitTimeout, strings.Join(pending, ", ")))
			r.tracer.Event("WAIT_TIMEOUT", r.id, "sub-agents did not finish", "pending", strings.Join(pending, ","))
			return waitTimeout, nil
		case <-ticker.C:
		case <-r.mailbox.C():
			for {
				if _, ok := r.mailbox.Take(SignalHandoff); !ok {
					break
				}
			}
		}
	}
}

// collect returns the outputs of finished agents and the ids still busy.
func (e *Engine) collect(ctx context.Context, conversation string, ids []string) ([]childOutput, []string, error) {
	all, err := e.pool.List(ctx, conversation)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[string]*agent.Agent, len(all))
	for _, a := range all {
		byID[a.ID] = a
	}

	var outputs []childOutput
	var pending []string
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			outputs = append(outputs, childOutput{Key: id, ID: id, Status: agent.StatusFailed, Error: "agent no longer exists"})
			continue
		}
		if !c.Status.IsTerminal() {
			pending = append(pending, id)
			continue
		}
		outputs = append(outputs, childOutput{Key: c.OutputKey(), ID: c.ID, Status: c.Status, Output: c.Output, Error: c.Error})
	}
	return outputs, pending, nil
}

func (e *Engine) recordOutputs(r *run, outputs []childOutput) {
	for _, o := range outputs {
		r.tracer.Event("CHILD_RESULT", o.ID, "sub-agent finished", "status", o.Status, "output_len", len(o.Output))
	}
	msg := "Sub-agent results:\n\n" + clip(formatOutputs(outputs), 6000)
	if err := e.bus.Send(r.ctx, r.conversation, r.id, msg, agent.MessageResult, false); err != nil {
		slog.Warn("record child results failed", "agent", r.id, "error", err)
	}
}
