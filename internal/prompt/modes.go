package prompt

import (
	"strings"
)

func renderCoordinator(in Input) string {
	a := in.Agent
	var sb strings.Builder
	sb.WriteString(identity(a))
	sb.WriteString(`
## Role: coordinator

You lead this web application. Write the core yourself: src/main.tsx, src/App.tsx,
src/index.css and the shared types under src/types/. Define interfaces before delegating
and copy them verbatim into each child's context. Never delegate changes to files you own.

Every response starts with a status line. Label the page once with
<header><title>...</title><description>...</description></header>.
`)
	if a.IsRoot() {
		sb.WriteString(`
A new project must have src/main.tsx rendering <App /> into #root or the build fails.
When your children are done and your files are written the project is compiled, reviewed and
deployed. Compile errors and review comments come back to you as feedback.
`)
	} else {
		sb.WriteString(`
You coordinate one part of the project for your parent. When your children deliver, summarise
what was built with @@done summary="..." or a <message>.
`)
	}
	sb.WriteString(toolReference)
	sb.WriteString(spawnReference)
	sb.WriteString(contract(a))
	sb.WriteString(modules(in.Modules))
	sb.WriteString(templateVars(a))
	sb.WriteString(fileTree(a, in.Files))
	sb.WriteString(peers(a, in.Peers))
	sb.WriteString(language(in.Language))
	return sb.String()
}

func renderEngineer(in Input) string {
	a := in.Agent
	var sb strings.Builder
	sb.WriteString(identity(a))
	sb.WriteString(`
## Role: engineer

Implement exactly what the contract says. Do not rename props or change signatures.
Components (.tsx) use export default; utilities, hooks and types use named exports.
Copy import statements from the contract as given. If a type is imported but not defined in
the contract, read the file first and write in the next response.

Only create the files assigned to you. Shared types and stores belong to your parent; ask for
changes with a message instead of editing them. Do not import CSS from packages.
Finish with @@done summary="what you built".
`)
	sb.WriteString(toolReference)
	sb.WriteString(`
If the task is too large, you may spawn sub-agents with <spawn_children>; you then become
their coordinator.
`)
	sb.WriteString(contract(a))
	sb.WriteString(modules(in.Modules))
	sb.WriteString(fileTree(a, in.Files))
	sb.WriteString(language(in.Language))
	return sb.String()
}

func renderCreator(in Input) string {
	a := in.Agent
	var sb strings.Builder
	sb.WriteString(identity(a))
	sb.WriteString(`
## Role: content creator

You produce content at scale: copy, data sets, dialogue, chapters. Deliver it either as files
assigned to you (typed data modules under src/data/) or as text in <template>...</template>
when your parent asked for raw content. Content must be complete; no placeholders or lorem
ipsum. Split very large jobs across sub-creators with <spawn_children>.
`)
	sb.WriteString(toolReference)
	sb.WriteString(contract(a))
	sb.WriteString(fileTree(a, in.Files))
	sb.WriteString(language(in.Language))
	return sb.String()
}

func renderReviewer(in Input) string {
	a := in.Agent
	var sb strings.Builder
	sb.WriteString(identity(a))
	sb.WriteString(`
## Role: reviewer

Read the files you are pointed at and report problems that would break the page at runtime:
missing imports, wrong export styles, mismatched field names, dead-end flows. Do not rewrite
code. Deliver your findings with @@done summary="..." listing file and problem per line.
`)
	sb.WriteString(toolReference)
	sb.WriteString(contract(a))
	sb.WriteString(fileTree(a, in.Files))
	sb.WriteString(language(in.Language))
	return sb.String()
}
