package parser

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/mtzanidakis/webforge/internal/agent"
)

type FileWrite struct {
	Path    string
	Content string
}

type Transfer struct {
	Path string
	To   string
}

type Delete struct {
	Path      string
	Confirmed bool
}

type Delegate struct {
	To      string
	Message string
}

// Action is the decoded result of one generation round.
type Action struct {
	Writes       []FileWrite
	Incomplete   []string
	Reads        []string
	Spawns       []agent.Spec
	Delegates    []Delegate
	Transfers    []Transfer
	Deletes      []Delete
	Dependencies []string

	HasProgress bool
	Progress    int
	Step        string

	Abort       bool
	AbortReason string

	SelfOutput string
	Message    string
	Template   string

	// Title and Description label the deployed page.
	Title       string
	Description string

	// Unknown lists directive names nobody handles.
	Unknown []string
}

// DefersWrites reports whether the round both reads and writes, in which
// case writes wait until the agent has seen the read results.
func (a *Action) DefersWrites() bool {
	return len(a.Reads) > 0 && len(a.Writes) > 0
}

// ReadOnly reports whether the round only asked to see files.
func (a *Action) ReadOnly() bool {
	return len(a.Reads) > 0 && len(a.Writes) == 0 && len(a.Spawns) == 0 && len(a.Delegates) == 0
}

var (
	reFileBlock    = regexp.MustCompile(`(?s)<<<FILE:[^\n]*?>>>.*?(?:<<<END_FILE>>>|\z)`)
	reTemplate     = regexp.MustCompile(`(?s)<template>\s*(.*?)\s*</template>`)
	reStatus       = regexp.MustCompile(`(?s)<status>(.*?)</status>`)
	reStatusPct    = regexp.MustCompile(`(?i)progress[:\s]*(\d+)`)
	reStatusStep   = regexp.MustCompile(`(?i)step[:\s]*(.+)`)
	reDelegateTag  = regexp.MustCompile(`(?s)<delegate\s+to=["']([^"']+)["']>(.*?)</delegate>`)
	reFileTag      = regexp.MustCompile(`(?s)<file\s+path=["']([^"']+)["']>(.*?)</file>`)
	reViewFile     = regexp.MustCompile(`(?s)<view_file\s+path=["']([^"']+)["']\s*(?:/>|>.*?</view_file>)`)
	reMessageTag   = regexp.MustCompile(`(?s)<message>(.*?)</message>`)
	reAbortAttr    = regexp.MustCompile(`<abort_task\s+reason=["']([^"']+)["']\s*/?>`)
	reAbortBlock   = regexp.MustCompile(`(?s)<abort_task>(.*?)</abort_task>`)
	reReasonTag    = regexp.MustCompile(`(?s)<reason>(.*?)</reason>`)
	reTransferTag  = regexp.MustCompile(`<transfer_ownership\s+path=["']([^"']+)["']\s+to=["']([^"']+)["'](?:\s+force=["'][^"']*["'])?\s*/>`)
	reDeleteTag    = regexp.MustCompile(`<delete_file\s+path=["']([^"']+)["'](?:\s+confirmed=["']([^"']*)["'])?\s*/>`)
	reDependencies = regexp.MustCompile(`(?s)<dependencies>(.*?)</dependencies>`)
	reHeader       = regexp.MustCompile(`(?s)<header>(.*?)</header>`)
	reTitle        = regexp.MustCompile(`(?s)<title>(.*?)</title>`)
	reDescription  = regexp.MustCompile(`(?s)<description>(.*?)</description>`)
	reListSplit    = regexp.MustCompile(`[\s,]+`)
)

// Assemble builds the round's Action from the stream commands and the tag
// grammar in the raw response. Problems that should be reported back to
// the agent are returned joined; the Action is usable either way.
func Assemble(raw string, cmds []Command) (*Action, error) {
	a := &Action{}
	var errs []error

	for _, c := range cmds {
		switch c.Kind {
		case KindFile:
			if c.Complete {
				a.addWrite(c.Path, c.Content)
			} else {
				a.Incomplete = append(a.Incomplete, c.Path)
			}
		case KindToolCall:
			if err := a.applyDirective(c); err != nil {
				errs = append(errs, err)
			}
		}
	}

	// Tags inside file bodies belong to the file, not the protocol.
	text := reFileBlock.ReplaceAllString(raw, "")

	specs, err := ParseSpawnBlocks(text)
	a.Spawns = append(a.Spawns, specs...)
	if err != nil {
		errs = append(errs, err)
	}

	if m := reTemplate.FindStringSubmatch(text); m != nil {
		a.Template = m[1]
	}
	if m := reStatus.FindStringSubmatch(text); m != nil {
		if pm := reStatusPct.FindStringSubmatch(m[1]); pm != nil {
			if n, err := strconv.Atoi(pm[1]); err == nil {
				a.HasProgress = true
				a.Progress = n
			}
		}
		if sm := reStatusStep.FindStringSubmatch(m[1]); sm != nil {
			a.Step = strings.TrimSpace(sm[1])
		}
	}
	for _, m := range reDelegateTag.FindAllStringSubmatch(text, -1) {
		a.Delegates = append(a.Delegates, Delegate{To: strings.TrimSpace(m[1]), Message: strings.TrimSpace(m[2])})
	}
	for _, m := range reFileTag.FindAllStringSubmatch(text, -1) {
		a.addWrite(m[1], cleanContent(m[2]))
	}
	for _, m := range reViewFile.FindAllStringSubmatch(text, -1) {
		a.addRead(m[1])
	}
	if m := reMessageTag.FindStringSubmatch(text); m != nil {
		a.Message = strings.TrimSpace(m[1])
	}
	if m := reAbortAttr.FindStringSubmatch(text); m != nil {
		a.Abort = true
		a.AbortReason = m[1]
	} else if m := reAbortBlock.FindStringSubmatch(text); m != nil {
		a.Abort = true
		a.AbortReason = strings.TrimSpace(m[1])
		if rm := reReasonTag.FindStringSubmatch(m[1]); rm != nil {
			a.AbortReason = strings.TrimSpace(rm[1])
		}
	}
	for _, m := range reTransferTag.FindAllStringSubmatch(text, -1) {
		a.Transfers = append(a.Transfers, Transfer{Path: m[1], To: m[2]})
	}
	for _, m := range reDeleteTag.FindAllStringSubmatch(text, -1) {
		a.Deletes = append(a.Deletes, Delete{Path: m[1], Confirmed: parseBool(m[2])})
	}
	if m := reDependencies.FindStringSubmatch(text); m != nil {
		a.addDependencies(m[1])
	}
	if m := reHeader.FindStringSubmatch(text); m != nil {
		if tm := reTitle.FindStringSubmatch(m[1]); tm != nil {
			a.Title = strings.TrimSpace(tm[1])
		}
		if dm := reDescription.FindStringSubmatch(m[1]); dm != nil {
			a.Description = strings.TrimSpace(dm[1])
		}
	}

	return a, errors.Join(errs...)
}

func (a *Action) applyDirective(c Command) error {
	args := c.Args
	switch c.Tool {
	case "read_files", "view_file", "view":
		for _, p := range splitList(args["paths"]) {
			a.addRead(p)
		}
		if p := args["path"]; p != "" {
			a.addRead(p)
		}
	case "spawn":
		spec := specFromFields(args)
		if spec.Role == "" || (spec.Task == "" && spec.Reuse == "") {
			return fmt.Errorf("%w: @@spawn needs role and task", agent.ErrParseAmbiguous)
		}
		a.Spawns = append(a.Spawns, spec)
	case "delegate":
		if args["to"] == "" || args["message"] == "" {
			return fmt.Errorf("%w: @@delegate needs to and message", agent.ErrParseAmbiguous)
		}
		a.Delegates = append(a.Delegates, Delegate{To: args["to"], Message: args["message"]})
	case "transfer", "transfer_ownership":
		if args["path"] == "" || args["to"] == "" {
			return fmt.Errorf("%w: @@transfer needs path and to", agent.ErrParseAmbiguous)
		}
		a.Transfers = append(a.Transfers, Transfer{Path: args["path"], To: args["to"]})
	case "delete", "delete_file":
		if args["path"] == "" {
			return fmt.Errorf("%w: @@delete needs path", agent.ErrParseAmbiguous)
		}
		a.Deletes = append(a.Deletes, Delete{Path: args["path"], Confirmed: parseBool(args["confirmed"])})
	case "progress", "status":
		pct := args["percent"]
		if pct == "" {
			pct = args["progress"]
		}
		if n, err := strconv.Atoi(strings.TrimSuffix(pct, "%")); err == nil {
			a.HasProgress = true
			a.Progress = n
		}
		if s := args["step"]; s != "" {
			a.Step = s
		}
	case "abort":
		a.Abort = true
		a.AbortReason = args["reason"]
	case "depends", "dependencies":
		a.addDependencies(args["names"])
	case "message":
		msg := args["content"]
		if msg == "" {
			msg = args["text"]
		}
		a.Message = msg
	case "header", "title":
		a.Title = args["title"]
		a.Description = args["description"]
	case "done":
		a.SelfOutput = args["summary"]
		if a.SelfOutput == "" {
			a.SelfOutput = args["output"]
		}
	default:
		a.Unknown = append(a.Unknown, c.Tool)
	}
	return nil
}

func (a *Action) addWrite(path, content string) {
	for i := range a.Writes {
		if a.Writes[i].Path == path {
			a.Writes[i].Content = content
			return
		}
	}
	a.Writes = append(a.Writes, FileWrite{Path: path, Content: content})
}

func (a *Action) addRead(path string) {
	path = strings.TrimSpace(path)
	if path != "" && !slices.Contains(a.Reads, path) {
		a.Reads = append(a.Reads, path)
	}
}

func (a *Action) addDependencies(s string) {
	for _, d := range splitList(s) {
		if !slices.Contains(a.Dependencies, d) {
			a.Dependencies = append(a.Dependencies, d)
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range reListSplit.Split(strings.TrimSpace(s), -1) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true
	}
	return false
}
