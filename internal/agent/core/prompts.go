package core

import (
	"fmt"
	"strings"

	"github.com/slongfield/pyfmt"
)

const outlinePlannerSystem = `You are a research strategist. Break the user's request into focused web research tasks.
Each task description is used verbatim as a search query, so make it specific.
Do not repeat tasks that are already listed as completed.
Respond with a single JSON object and nothing else:
{{"overall_outline": "<one paragraph narrative of the final report>",
 "plan": [{{"item_id": "research_1", "description": "<search-ready goal>", "dependencies": []}}]}}`

const outlinePlannerUser = `User request: {query}

Current research plan:
{plan_status}

{feedback}
{no_progress}`

const summarizerSystem = `You condense research findings. Keep facts, figures and source urls. Answer in at most 200 words of plain prose.`

const summarizerUser = `Research goal: {description}

Findings:
{content}`

const evaluatorSystem = `You judge whether research findings are sufficient for their goal and for the user's request.
Respond with a single JSON object and nothing else:
{{"evaluation_summary": "<one sentence>", "is_sufficient": true, "reasoning": "<why>"}}`

const evaluatorUser = `User request: {query}
Research goal: {description}

Findings:
{content}`

const writingPlannerSystem = `You are a technical writer planning a report from completed research.
Produce chapters in reading order. Every chapter lists the research item ids it draws on as dependencies.
Respond with a single JSON object and nothing else:
{{"plan": [{{"item_id": "chapter_1", "description": "<chapter title>", "dependencies": ["research_1"]}}]}}`

const writingPlannerUser = `User request: {query}
{outline}
Completed research:
{research}`

const writerSystem = `You write one chapter of a cited report in Markdown. Do not repeat the chapter title as a heading.
Cite every sourced claim inline as [ref:<url>] or [ref:<url>|<title>] using only urls from the material below.`

const writerUser = `User request: {query}
Chapter: {chapter}

Research material:
{research}

Retrieved passages:
{passages}

Previous chapter (full text):
{previous}

Other finished chapters (summaries):
{others}

{feedback}`

const reviewerSystem = `You review a drafted chapter for accuracy, coverage of its title and citation use.
Use "needs_revision" for fixable writing problems and "needs_research" only when facts are missing from the research.
Respond with a single JSON object and nothing else:
{{"decision": "completed|needs_revision|needs_research", "feedback": "<concrete instructions>"}}`

const reviewerUser = `User request: {query}
Chapter: {chapter}

Draft:
{draft}`

const chapterSummarizerSystem = `Summarize the chapter in three sentences so later chapters can refer back to it without repeating it.`

const chapterSummarizerUser = `Chapter: {chapter}

{content}`

const supervisorSystem = `You coordinate a research-and-writing workflow. Choose the next macro action.
Rules, in order: handle items that need revision first; prefer ready research over ready writing;
choose SYNTHESIZE only when all writing is completed; choose FAIL when remaining work is blocked or failed.
Respond with a single JSON object and nothing else:
{{"next_action": "RESEARCH|WRITING|SYNTHESIZE|FINISH|FAIL", "target_item_id": "<item id or empty>"}}`

const supervisorUser = `User request: {query}
Step {step} of {max_steps}.

Research plan:
{research_status}

Writing plan:
{writing_status}

Recent errors:
{errors}`

func render(tmpl string, vars map[string]any) (string, error) {
	out, err := pyfmt.Fmt(tmpl, vars)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return out, nil
}

func buildPrompt(stage, system, user string, vars map[string]any) (Prompt, error) {
	sys, err := render(system, vars)
	if err != nil {
		return Prompt{}, err
	}
	usr, err := render(user, vars)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{Stage: stage, System: sys, User: strings.TrimSpace(usr)}, nil
}

// planStatus renders one line per item for prompt context.
func planStatus(plan []*PlanItem) string {
	if len(plan) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, it := range plan {
		fmt.Fprintf(&b, "- %s [%s] %s", it.ItemID, it.Status, it.Description)
		if len(it.Dependencies) > 0 {
			fmt.Fprintf(&b, " (depends on %s)", strings.Join(it.Dependencies, ", "))
		}
		if it.AttemptCount > 0 {
			fmt.Fprintf(&b, " attempts=%d", it.AttemptCount)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func recentErrors(log []ErrorRecord, n int) string {
	if len(log) == 0 {
		return "(none)"
	}
	if len(log) > n {
		log = log[len(log)-n:]
	}
	var b strings.Builder
	for _, e := range log {
		fmt.Fprintf(&b, "- %s %s: %s\n", e.Stage, e.ItemID, e.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
