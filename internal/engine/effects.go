package engine

import (
	"cmp"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mtzanidakis/webforge/internal/agent"
	"github.com/mtzanidakis/webforge/internal/parser"
	"github.com/mtzanidakis/webforge/internal/vfs"
)

type effectsResult int

const (
	effectsProceed effectsResult = iota
	// effectsNext ends the round early and starts the next one.
	effectsNext
	effectsStop
)

// applyEffects applies the project side of a round in a fixed order.
func (e *Engine) applyEffects(r *run, act *parser.Action, project *vfs.Project, st *roundState) effectsResult {
	ctx := r.ctx

	if act.Abort {
		e.fail(r, "Task aborted: "+cmp.Or(act.AbortReason, "no reason given"))
		return effectsStop
	}

	if act.DefersWrites() {
		e.readFiles(r, act.Reads, project, st)
		paths := make([]string, 0, len(act.Writes))
		for _, w := range act.Writes {
			paths = append(paths, w.Path)
		}
		e.sendFeedback(ctx, r, agent.MessageInfo, fmt.Sprintf(
			"Writes to %s were not applied because the same response also read files. Check the requested files below, then send the writes again.",
			strings.Join(paths, ", ")))
		r.tracer.Event("WRITES_DEFERRED", r.id, "writes held back behind reads", "reads", len(act.Reads), "writes", len(act.Writes))
		return effectsNext
	}

	if len(act.Writes) > 0 {
		e.writeFiles(r, act.Writes, project)
	}
	if len(act.Incomplete) > 0 {
		e.sendFeedback(ctx, r, agent.MessageFeedback, fmt.Sprintf(
			"These files were cut off before <<<END_FILE>>> and were not saved: %s. Write them again completely.",
			strings.Join(act.Incomplete, ", ")))
	}
	if len(act.Reads) > 0 {
		e.readFiles(r, act.Reads, project, st)
	}
	if len(act.Transfers) > 0 {
		e.transferFiles(r, act.Transfers, project)
	}
	if len(act.Deletes) > 0 {
		e.deleteFiles(r, act.Deletes, project)
	}
	if len(act.Dependencies) > 0 {
		_, err := e.pool.Mutate(ctx, r.conversation, r.id, func(a *agent.Agent) error {
			a.MergeDependencies(act.Dependencies)
			return nil
		})
		if err != nil {
			slog.Warn("record dependencies failed", "agent", r.id, "error", err)
		}
	}

	if act.ReadOnly() {
		return effectsNext
	}
	return effectsProceed
}

func (e *Engine) writeFiles(r *run, writes []parser.FileWrite, project *vfs.Project) {
	ix := e.index(r.ctx, r.conversation)
	var conflicts []string
	written := 0
	for _, w := range writes {
		d, err := project.Write(w.Path, w.Content, r.id, false, ix)
		if err != nil {
			conflicts = append(conflicts, err.Error())
			continue
		}
		written++
		if d.Transferred() {
			slog.Info("file ownership moved", "path", d.Path, "from", d.PreviousOwner, "to", r.id, "rule", d.Rule)
		}
		e.publish(r.conversation, r.id, EventFile, map[string]any{"path": d.Path, "size": len(w.Content), "rule": d.Rule.String()})
		r.tracer.Event("FILE_WRITE", r.id, d.Path, "size", len(w.Content), "rule", d.Rule.String())
	}

	if written > 0 {
		_, err := e.pool.Mutate(r.ctx, r.conversation, r.id, func(a *agent.Agent) error {
			a.ReviewStatus = ""
			a.OutputReady = true
			return nil
		})
		if err != nil {
			slog.Warn("mark output ready failed", "agent", r.id, "error", err)
		}
		// The cached review pass lives on the root of the tree.
		if root := ix.rootOf(r.id); root != r.id {
			_, err := e.pool.Mutate(r.ctx, r.conversation, root, func(a *agent.Agent) error {
				a.ReviewStatus = ""
				return nil
			})
			if err != nil {
				slog.Warn("invalidate review failed", "agent", root, "error", err)
			}
		}
	}
	if len(conflicts) > 0 {
		e.sendFeedback(r.ctx, r, agent.MessageFeedback, "Some files were not written:\n- "+strings.Join(conflicts, "\n- "))
	}
}

// readFiles queues the contents of paths for the next prompt.
func (e *Engine) readFiles(r *run, paths []string, project *vfs.Project, st *roundState) {
	var found, missing []string
	for _, p := range paths {
		path := vfs.CleanPath(p)
		content, ok := project.Read(path)
		if !ok {
			missing = append(missing, path)
			continue
		}
		st.inject(path, content)
		found = append(found, path)
	}

	var note []string
	if len(found) > 0 {
		note = append(note, "Showing requested files: "+strings.Join(found, ", ")+".")
	}
	if len(missing) > 0 {
		note = append(note, "These files do not exist: "+strings.Join(missing, ", ")+".")
	}
	e.sendFeedback(r.ctx, r, agent.MessageInfo, strings.Join(note, " "))
}

// transferFiles reassigns ownership to existing agents. Whoever holds the
// file now does not matter.
func (e *Engine) transferFiles(r *run, transfers []parser.Transfer, project *vfs.Project) {
	ix := e.index(r.ctx, r.conversation)
	var problems []string
	for _, t := range transfers {
		path := vfs.CleanPath(t.Path)
		if _, ok := ix[t.To]; !ok {
			problems = append(problems, fmt.Sprintf("%s: unknown agent %s", path, t.To))
			continue
		}
		prev, err := project.TransferOwnership(path, t.To)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		slog.Info("file ownership transferred", "path", path, "from", prev, "to", t.To, "by", r.id)
		r.tracer.Event("OWNERSHIP_TRANSFER", r.id, path, "from", prev, "to", t.To)
	}
	if len(problems) > 0 {
		e.sendFeedback(r.ctx, r, agent.MessageFeedback, "Some ownership transfers failed:\n- "+strings.Join(problems, "\n- "))
	}
}

func (e *Engine) deleteFiles(r *run, deletes []parser.Delete, project *vfs.Project) {
	var working []string
	for id, a := range e.index(r.ctx, r.conversation) {
		if a.Status == agent.StatusWorking && id != r.id {
			working = append(working, id)
		}
	}

	var problems []string
	for _, d := range deletes {
		path := vfs.CleanPath(d.Path)
		if err := project.Delete(path, d.Confirmed, working); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		slog.Info("file deleted", "path", path, "by", r.id)
		r.tracer.Event("FILE_DELETE", r.id, path)
	}
	if len(problems) > 0 {
		e.sendFeedback(r.ctx, r, agent.MessageFeedback, "Some deletes failed:\n- "+strings.Join(problems, "\n- "))
	}
}
