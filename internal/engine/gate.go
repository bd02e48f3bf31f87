package engine

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/webforge/internal/agent"
	"github.com/mtzanidakis/webforge/internal/build"
	"github.com/mtzanidakis/webforge/internal/deploy"
	"github.com/mtzanidakis/webforge/internal/parser"
	"github.com/mtzanidakis/webforge/internal/review"
	"github.com/mtzanidakis/webforge/internal/store"
	"github.com/mtzanidakis/webforge/internal/vfs"
)

func deployTitle(a *agent.Agent, title string) string {
	return cmp.Or(title, a.Metadata[metaTitle], "WebApp by "+a.ID)
}

// gate builds, reviews and deploys the project of a root, then waits for
// the user. It reports whether the loop is over.
func (e *Engine) gate(r *run, a *agent.Agent, act *parser.Action) bool {
	ctx := r.ctx
	cfg := e.config()
	project := e.files.Get(r.conversation)

	if project.Len() == 0 {
		if act.Message != "" {
			if err := e.bus.Send(ctx, r.conversation, r.id, act.Message, agent.MessageQuestion, true); err != nil {
				slog.Warn("question not recorded", "agent", r.id, "error", err)
			}
			return e.awaitFeedback(r)
		}
		e.sendFeedback(ctx, r, agent.MessageFeedback,
			"The project has no files yet. Spawn sub-agents or write the application files, starting with src/App.tsx.")
		return false
	}

	files := project.Snapshot()
	js, failure, err := e.build(ctx, a, project, files)
	if err != nil {
		if r.isCancelled() {
			e.finishCancelled(r)
		}
		return true
	}
	if failure != "" {
		return e.buildFailed(r, failure, files)
	}
	if _, err := e.pool.Mutate(ctx, r.conversation, r.id, func(a *agent.Agent) error {
		a.ConsecutiveFailures = 0
		return nil
	}); err != nil {
		slog.Warn("reset build failures failed", "agent", r.id, "error", err)
	}
	e.publish(r.conversation, r.id, EventBuild, map[string]any{"success": true, "size": len(js)})
	r.tracer.Event("BUILD_OK", r.id, "project compiled", "bundle_size", len(js), "files", len(files))

	digest := vfs.Digest(files)
	if e.deps.Reviewer != nil && (a.ReviewStatus != agent.ReviewPass || a.ReviewedDigest != digest) {
		switch e.reviewGate(r, a, files, digest, cfg.MaxReviewRounds) {
		case reviewRetry:
			return false
		case reviewStop:
			return true
		}
	}

	if a, err = e.pool.Get(ctx, r.conversation, r.id); err != nil {
		slog.Error("agent reload failed", "agent", r.id, "error", err)
		return true
	}
	url, err := e.deploy(ctx, r, a, files, js, deployTitle(a, act.Title))
	if err != nil {
		if r.isCancelled() {
			e.finishCancelled(r)
			return true
		}
		if ctx.Err() != nil {
			return true
		}
		e.fail(r, fmt.Sprintf("Deployment failed: %v", err))
		return true
	}

	msg := "Page deployed: " + url
	if a.ReviewWarning != "" {
		msg += "\n\nWarning: " + a.ReviewWarning
	}
	if err := e.bus.Send(ctx, r.conversation, r.id, msg, agent.MessageResult, true); err != nil {
		slog.Warn("deploy notice not recorded", "agent", r.id, "error", err)
	}
	return e.awaitFeedback(r)
}

// build type-checks and compiles files. failure is the text to show the
// agent when the project does not build; err is set only when ctx ended.
func (e *Engine) build(ctx context.Context, a *agent.Agent, project *vfs.Project, files map[string]string) (js, failure string, err error) {
	diag, err := e.deps.Builder.Check(ctx, files, a.TemplateVars)
	switch {
	case ctx.Err() != nil:
		return "", "", ctx.Err()
	case err != nil:
		slog.Warn("type check unavailable", "conversation", a.Conversation, "error", err)
	case build.IsCritical(diag):
		return "", "Type check found errors:\n" + build.EnhanceError(diag, project), nil
	}

	res, err := e.deps.Builder.Compile(ctx, files, a.TemplateVars)
	if ctx.Err() != nil {
		return "", "", ctx.Err()
	}
	if err != nil {
		return "", fmt.Sprintf("The build service could not compile the project: %v", err), nil
	}
	if !res.Success {
		return "", build.EnhanceError(res.Message(), project), nil
	}
	if bad := build.Unsupported(res.Externals); len(bad) > 0 {
		if err := e.deps.Store.RecordMissingDependencies(bad); err != nil {
			slog.Warn("record missing dependencies failed", "error", err)
		}
		return "", fmt.Sprintf("Unsupported imports: %s. Only these modules are available: %s.",
			strings.Join(bad, ", "), strings.Join(build.Modules(), ", ")), nil
	}
	if bare := build.BareImports(res.Output); len(bare) > 0 {
		return "", fmt.Sprintf("The bundle still imports modules that cannot be resolved in the browser: %s. Import only the available modules.",
			strings.Join(bare, ", ")), nil
	}
	return res.Output, "", nil
}

func (e *Engine) buildFailed(r *run, failure string, files map[string]string) bool {
	a, err := e.pool.Mutate(r.ctx, r.conversation, r.id, func(a *agent.Agent) error {
		a.ConsecutiveFailures++
		return nil
	})
	if err != nil {
		slog.Error("record build failure failed", "agent", r.id, "error", err)
		return true
	}
	n := a.ConsecutiveFailures
	slog.Warn("build failed", "conversation", r.conversation, "agent", r.id, "consecutive", n)
	e.publish(r.conversation, r.id, EventBuild, map[string]any{"success": false, "consecutive": n})
	r.tracer.Event("BUILD_FAILED", r.id, clip(failure, 200), "consecutive", n)

	if n >= e.config().MaxBuildFailures {
		if err := r.tracer.Snapshot(files); err != nil {
			slog.Warn("trace snapshot failed", "agent", r.id, "error", err)
		}
		e.fail(r, fmt.Sprintf("The project failed to build %d times in a row. Last error:\n%s", n, clip(failure, 2000)))
		return true
	}
	e.sendFeedback(r.ctx, r, agent.MessageError, "Project compilation failed:\n"+failure)
	return false
}

type reviewOutcome int

const (
	reviewProceed reviewOutcome = iota
	reviewRetry
	reviewStop
)

// reviewGate asks the reviewer about files. A pass is cached against the
// digest it approved.
func (e *Engine) reviewGate(r *run, a *agent.Agent, files map[string]string, digest string, maxRounds int) reviewOutcome {
	if _, ok := e.setStatus(r, agent.StatusReviewing, "reviewing"); !ok {
		return reviewStop
	}
	v := e.deps.Reviewer.Review(r.ctx, review.Request{
		AgentID:      a.ID,
		Requirements: a.Task,
		Previous:     a.LastReviewComment,
		Files:        files,
		Difficulty:   a.Difficulty,
	})
	if r.isCancelled() {
		e.finishCancelled(r)
		return reviewStop
	}
	if r.ctx.Err() != nil {
		return reviewStop
	}
	e.publish(r.conversation, r.id, EventReview, map[string]any{"passed": v.Passed, "fail_open": v.FailOpen, "comment": v.Comment})
	r.tracer.Event("REVIEW", r.id, clip(v.Comment, 200), "passed", v.Passed, "fail_open", v.FailOpen)

	a, err := e.pool.Mutate(r.ctx, r.conversation, r.id, func(a *agent.Agent) error {
		a.Status = agent.StatusWorking
		if v.Passed {
			a.ReviewStatus = agent.ReviewPass
			a.ReviewedDigest = digest
			a.ReviewRounds = 0
			a.LastReviewComment = ""
			a.ReviewWarning = ""
			if v.FailOpen {
				a.ReviewWarning = v.Comment
			}
			return nil
		}
		a.ReviewStatus = agent.ReviewFail
		a.ReviewedDigest = ""
		a.ReviewRounds++
		a.LastReviewComment = v.Comment
		if a.ReviewRounds >= maxRounds {
			a.ReviewStatus = agent.ReviewPass
			a.ReviewedDigest = digest
			a.ReviewWarning = fmt.Sprintf("Deployed after %d rejected reviews. Last comment: %s", a.ReviewRounds, v.Comment)
		}
		return nil
	})
	if err != nil {
		slog.Error("record review failed", "agent", r.id, "error", err)
		return reviewStop
	}
	e.publishStatus(a)

	if a.ReviewStatus == agent.ReviewPass {
		if a.ReviewWarning != "" {
			slog.Warn("deploying without review approval", "conversation", r.conversation, "agent", r.id, "warning", a.ReviewWarning)
		}
		return reviewProceed
	}
	e.sendFeedback(r.ctx, r, agent.MessageFeedback, "Deployment rejected by reviewer:\n"+v.Comment)
	return reviewRetry
}

// deploy publishes the shell page for files. An identical project that was
// already deployed in the conversation reuses its URL.
func (e *Engine) deploy(ctx context.Context, r *run, a *agent.Agent, files map[string]string, js, title string) (string, error) {
	digest := vfs.Digest(files)
	var url string
	if d, err := e.deps.Store.FindDeployment(a.Conversation, digest); err != nil {
		slog.Warn("deployment lookup failed", "conversation", a.Conversation, "error", err)
	} else if d != nil {
		url = d.URL
		slog.Info("deployment reused", "conversation", a.Conversation, "agent", a.ID, "url", url)
	}

	if url == "" {
		html, err := build.Shell(title, js, a.Dependencies)
		if err != nil {
			return "", fmt.Errorf("render shell: %w", err)
		}
		html = build.RenderTemplateVars(html, a.TemplateVars)
		url, err = e.deps.Publisher.Publish(ctx, deploy.Page{Title: title, Description: a.Metadata[metaDescription], HTML: html})
		if err != nil {
			return "", err
		}
		err = e.deps.Store.SaveDeployment(&store.Deployment{
			ID:            uuid.NewString(),
			Conversation:  a.Conversation,
			AgentID:       a.ID,
			URL:           url,
			Title:         title,
			Digest:        digest,
			ReviewWarning: a.ReviewWarning,
			CreatedAt:     time.Now().UTC(),
		})
		if err != nil {
			slog.Error("save deployment failed", "conversation", a.Conversation, "url", url, "error", err)
		}
	}

	_, err := e.pool.Mutate(context.WithoutCancel(ctx), a.Conversation, a.ID, func(a *agent.Agent) error {
		a.DeployedURL = url
		a.SetProgress(100, "deployed")
		return nil
	})
	if err != nil {
		slog.Warn("record deployed url failed", "agent", a.ID, "error", err)
	}
	slog.Info("page deployed", "conversation", a.Conversation, "agent", a.ID, "url", url)
	e.saveProject(a.Conversation)
	e.publish(a.Conversation, a.ID, EventDeploy, map[string]any{"url": url, "title": title, "digest": digest, "review_warning": a.ReviewWarning})
	if r != nil {
		if err := r.tracer.Snapshot(files); err != nil {
			slog.Warn("trace snapshot failed", "agent", a.ID, "error", err)
		}
		r.tracer.Event("DEPLOYED", a.ID, url, "digest", digest)
	}
	return url, nil
}

// awaitFeedback parks a root in waiting until the user confirms, cancels
// or sends feedback. It reports whether the loop is over.
func (e *Engine) awaitFeedback(r *run) bool {
	if _, ok := e.setStatus(r, agent.StatusWaitingInput, "awaiting feedback"); !ok {
		return true
	}
	timeout := e.config().FeedbackTimeout
	r.tracer.Event("AWAIT_FEEDBACK", r.id, "waiting for the user", "timeout", timeout)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if s, ok := r.mailbox.Take(SignalCancel, SignalConfirm, SignalFeedback); ok {
			switch s.Kind {
			case SignalCancel:
				e.finishCancelled(r)
				return true
			case SignalConfirm:
				a, err := e.pool.Mutate(context.WithoutCancel(r.ctx), r.conversation, r.id, func(a *agent.Agent) error {
					a.Status = agent.StatusCompleted
					a.SetProgress(100, "confirmed")
					return nil
				})
				if err != nil {
					slog.Error("confirm failed", "agent", r.id, "error", err)
					return true
				}
				slog.Info("result confirmed", "conversation", r.conversation, "agent", r.id)
				r.tracer.Event("CONFIRMED", r.id, "user accepted the result")
				e.publishStatus(a)
				return true
			case SignalFeedback:
				a, err := e.pool.Mutate(r.ctx, r.conversation, r.id, func(a *agent.Agent) error {
					resumeForFeedback(a)
					a.Status = agent.StatusWorking
					return nil
				})
				if err != nil {
					slog.Error("resume after feedback failed", "agent", r.id, "error", err)
					return true
				}
				r.tracer.Event("FEEDBACK", r.id, clip(s.Content, 200))
				e.publishStatus(a)
				return false
			}
		}

		select {
		case <-r.mailbox.C():
		case <-timer.C:
			e.fail(r, fmt.Sprintf("No feedback received within %s.", timeout))
			return true
		case <-r.ctx.Done():
			if r.isCancelled() {
				e.finishCancelled(r)
			}
			return true
		}
	}
}
