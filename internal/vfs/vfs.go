// Package vfs holds per-conversation project files and their single-writer
// ownership records.
package vfs

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/mtzanidakis/webforge/internal/agent"
)

// Resolver answers questions about the agents that own files.
type Resolver interface {
	ParentOf(agentID string) (string, bool)
	StatusOf(agentID string) (agent.Status, bool)
}

// Rule identifies which row of the ownership decision table admitted a write.
type Rule int

const (
	RuleUnowned Rule = iota + 1
	RuleSameOwner
	RuleParentOverride
	RuleTerminalTransfer
	RuleForced
)

func (r Rule) String() string {
	switch r {
	case RuleUnowned:
		return "unowned"
	case RuleSameOwner:
		return "same-owner"
	case RuleParentOverride:
		return "parent-override"
	case RuleTerminalTransfer:
		return "terminal-transfer"
	case RuleForced:
		return "forced"
	}
	return "unknown"
}

// Decision records how a successful write was admitted.
type Decision struct {
	Path          string
	Rule          Rule
	PreviousOwner string
}

// Transferred reports whether the write moved ownership between agents.
func (d Decision) Transferred() bool {
	return d.PreviousOwner != "" && d.Rule != RuleSameOwner
}

// ConflictError explains why a write was rejected.
type ConflictError struct {
	Path        string
	Owner       string
	OwnerStatus agent.Status
	Writer      string
}

func (e *ConflictError) Error() string {
	if e.OwnerStatus == agent.StatusWorking {
		return fmt.Sprintf("%s is owned by %s, which is still working on it; coordinate through your parent or use force", e.Path, e.Owner)
	}
	status := string(e.OwnerStatus)
	if status == "" {
		status = "unknown"
	}
	return fmt.Sprintf("%s is owned by %s (status %s); ownership cannot be taken over safely", e.Path, e.Owner, status)
}

func (e *ConflictError) Unwrap() error { return agent.ErrOwnershipConflict }

type Project struct {
	conversation string
	mu           sync.Mutex
	files        map[string]string
	owners       map[string]string
}

func NewProject(conversation string) *Project {
	return &Project{
		conversation: conversation,
		files:        make(map[string]string),
		owners:       make(map[string]string),
	}
}

func (p *Project) Conversation() string { return p.conversation }

// CleanPath trims whitespace and leading "./" or "/" segments.
func CleanPath(path string) string {
	path = strings.TrimSpace(path)
	for {
		switch {
		case strings.HasPrefix(path, "./"):
			path = path[2:]
		case strings.HasPrefix(path, "/"):
			path = path[1:]
		default:
			return path
		}
	}
}

// Write stores content at path when the ownership table admits writer.
// The check and the write happen under one lock.
func (p *Project) Write(path, content, writer string, force bool, r Resolver) (Decision, error) {
	path = CleanPath(path)
	if path == "" {
		return Decision{}, fmt.Errorf("write: empty path")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	d, err := p.decide(path, writer, force, r)
	if err != nil {
		return Decision{}, err
	}
	p.files[path] = content
	p.owners[path] = writer
	return d, nil
}

func (p *Project) decide(path, writer string, force bool, r Resolver) (Decision, error) {
	owner, owned := p.owners[path]
	d := Decision{Path: path, PreviousOwner: owner}

	switch {
	case !owned:
		d.Rule = RuleUnowned
		return d, nil
	case owner == writer:
		d.Rule = RuleSameOwner
		return d, nil
	}

	if r != nil {
		if parent, ok := r.ParentOf(owner); ok && parent == writer {
			d.Rule = RuleParentOverride
			return d, nil
		}
	}

	var status agent.Status
	if r != nil {
		status, _ = r.StatusOf(owner)
	}
	if status.IsTerminal() {
		d.Rule = RuleTerminalTransfer
		return d, nil
	}
	if force {
		d.Rule = RuleForced
		return d, nil
	}
	return Decision{}, &ConflictError{Path: path, Owner: owner, OwnerStatus: status, Writer: writer}
}

// Read returns the file content.
func (p *Project) Read(path string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.files[CleanPath(path)]
	return c, ok
}

// Owner returns the agent owning path, or "" when unowned.
func (p *Project) Owner(path string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.owners[CleanPath(path)]
}

// TransferOwnership reassigns path to newOwner regardless of the current
// owner and returns the previous one.
func (p *Project) TransferOwnership(path, newOwner string) (string, error) {
	path = CleanPath(path)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.files[path]; !ok {
		if _, owned := p.owners[path]; !owned {
			return "", fmt.Errorf("transfer %s: %w", path, agent.ErrNotFound)
		}
	}
	prev := p.owners[path]
	p.owners[path] = newOwner
	return prev, nil
}

// Delete removes the file and its ownership record. A file owned by an
// agent in working needs confirmed.
func (p *Project) Delete(path string, confirmed bool, working []string) error {
	path = CleanPath(path)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.files[path]; !ok {
		return fmt.Errorf("delete %s: %w", path, agent.ErrNotFound)
	}
	if owner := p.owners[path]; owner != "" && !confirmed && slices.Contains(working, owner) {
		return fmt.Errorf("delete %s: owner %s is working: %w", path, owner, agent.ErrDeleteRejected)
	}
	delete(p.files, path)
	delete(p.owners, path)
	return nil
}

// List returns all paths sorted.
func (p *Project) List() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.files))
}

// Owners returns a copy of the ownership table.
func (p *Project) Owners() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.owners)
}

// OwnedBy returns the sorted paths owned by agentID.
func (p *Project) OwnedBy(agentID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var paths []string
	for path, owner := range p.owners {
		if owner == agentID {
			paths = append(paths, path)
		}
	}
	slices.Sort(paths)
	return paths
}

// Snapshot returns a copy of all file contents.
func (p *Project) Snapshot() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.files)
}

func (p *Project) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.files)
}

// Restore replaces files and ownership with a saved snapshot.
func (p *Project) Restore(files, owners map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files = make(map[string]string, len(files))
	maps.Copy(p.files, files)
	p.owners = make(map[string]string, len(owners))
	maps.Copy(p.owners, owners)
}

func (p *Project) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.files)
	clear(p.owners)
}

// Registry maps conversations to their projects.
type Registry struct {
	mu       sync.Mutex
	projects map[string]*Project
}

func NewRegistry() *Registry {
	return &Registry{projects: make(map[string]*Project)}
}

// Get returns the conversation's project, creating it on first use.
func (r *Registry) Get(conversation string) *Project {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[conversation]
	if !ok {
		p = NewProject(conversation)
		r.projects[conversation] = p
	}
	return p
}

// Lookup returns the project without creating it.
func (r *Registry) Lookup(conversation string) (*Project, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[conversation]
	return p, ok
}

// Drop ends a conversation's project lifecycle.
func (r *Registry) Drop(conversation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.projects, conversation)
}

func (r *Registry) Conversations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.projects))
}
