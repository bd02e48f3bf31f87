package review

import (
	"fmt"
	"strings"
)

var focusGuides = map[string]string{
	"strict": `1. Strict requirement alignment
   - Does the page solve the user's problem as stated in the requirements?
   - Missing features or demo-grade logic are failures.
   - Point out functionally poor choices even when the code is technically correct.`,
	"standard": `1. Core requirement alignment
   - Does the page solve the main user problem?
   - Flaws that break the core flow are failures.
   - Missing nice-to-have features are tolerated when the core works.`,
	"lenient": `1. Consistency only
   - Ignore missing features and simplified logic unless they crash the page.
   - Focus on runtime safety and interface mismatches.`,
}

func systemPrompt(agentID, standard string) string {
	focus, ok := focusGuides[standard]
	if !ok {
		standard = "standard"
		focus = focusGuides[standard]
	}
	return fmt.Sprintf(`# Role: code reviewer

You are the final gate for a web application project (agent %s). The code was written by
several isolated agents. Review the aggregated files and approve or reject the deployment.
You do not write code.

## Review focus (standard: %s)

%s

2. Store and interface mismatches
   - Does useStore() destructure fields the store type actually declares? Check the interface,
     not the initial state literal.
3. Import and export mismatches
   - Named imports that the target module does not export fail the review.
   - Default imports of modules without a default export fail the review.
   - Missing imports of library stylesheets (leaflet, tailwind) are fine; they are injected.
4. Critical logic gaps
   - Variables that are never defined, hooks called conditionally.
5. Runtime safety
   - Mapping over values that may be undefined.
6. Truncated files
   - Large files show "... [Skipped N lines] ...". Assume the hidden part is correct unless the
     visible header or footer contradicts it. When unsure, pass.

## Output

Answer with XML only:

<review_result status="PASS">
<comment>Interfaces match. Store usage is correct.</comment>
</review_result>

or

<review_result status="FAIL">
<comment>
Issue 1: what is wrong
- Location: src/path/to/file.ts
- Suggested fix: a concrete snippet or change
</comment>
</review_result>
`, agentID, strings.ToUpper(standard), focus)
}

func userMessage(dump, requirements, previous string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `You are reviewing a React + TypeScript web application.

Original requirements:
%s

Project files (with line counts):
%s

Check for integration bugs, imports of missing exports, store field mismatches, named versus
default import mistakes, missing critical functionality and data that does not match its
interface. For every failure name the problem, the file to change and a suggested fix.
`, requirements, dump)
	if previous != "" {
		fmt.Fprintf(&sb, `
Previous review comment:
%s

The coordinator may have fixed these issues. Check whether they are resolved.
`, previous)
	}
	return sb.String()
}
