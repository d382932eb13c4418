package registry

// Well-known agent names. The orchestrator delegates by requesting
// these as tool calls; the report writer is matched by exact name, the
// others by substring.
const (
	OrchestratorAgent  = "orchestrator"
	ResearchAgent      = "research_agent"
	ReportWriterAgent  = "report_writer"
	ClarificationAgent = "clarification_agent"
)

// Routing selects the model per agent role.
type Routing struct {
	Orchestrator  string
	Research      string
	Report        string
	Clarification string
}

const orchestratorPrompt = `You are the orchestrator of a multi-agent research assistant.

Current research topic: {{.Topic}}
Original user query: {{.OriginalQuery}}
Available data tools for delegated research: {{.DataTools}}

Decide the single next step for this turn:
- If the query is too vague to research well, call clarification_agent with a short question for the user.
- If more evidence is needed, call research_agent with a focused sub-topic.
- If enough findings are accumulated, call report_writer to produce the final report.
- If you can answer directly and completely, reply with the final answer in markdown and call no tools.

Keep delegated inputs small and specific.`

const researchPrompt = `You are a research specialist. Investigate the assigned topic using the
available tools, then summarize what you learned with source URLs.

Topic: {{.Topic}}
Original query: {{.OriginalQuery}}
Findings so far:
{{.Findings}}

Assignment input: {{.Input}}

Call tools to gather evidence. When you have enough, respond with a
plain-text summary of new findings and stop calling tools.`

const reportPrompt = `You are a report writer. Produce the final markdown report answering the
original query from the accumulated findings. Structure it with a short
summary, detailed sections, and a source list.

Original query: {{.OriginalQuery}}
Topic: {{.Topic}}
Accumulated findings:
{{.Findings}}

Assignment input: {{.Input}}

Respond with the complete report in markdown only.`

const clarificationPrompt = `You are a clarification specialist. The user's query is ambiguous.
Write ONE short question that, once answered, would let a researcher
proceed confidently. Respond with the question only.

Query: {{.OriginalQuery}}
Topic so far: {{.Topic}}
Assignment input: {{.Input}}`

// DefaultAgentCards returns the built-in agent set: the orchestrator
// plus the three specialists it can delegate to. dataTools is the
// allowlist handed to the research specialist.
func DefaultAgentCards(routing Routing, dataTools []string) []AgentCard {
	return []AgentCard{
		{
			Name:           OrchestratorAgent,
			Description:    "Top-level agent deciding to clarify, delegate, or finalize",
			Model:          routing.Orchestrator,
			PromptTemplate: orchestratorPrompt,
			Tools:          []string{ResearchAgent, ReportWriterAgent, ClarificationAgent},
			Temperature:    0.5,
		},
		{
			Name:           ResearchAgent,
			Description:    "Collects evidence on one focused sub-topic using data tools",
			Model:          routing.Research,
			PromptTemplate: researchPrompt,
			Tools:          append([]string(nil), dataTools...),
			Temperature:    0.3,
		},
		{
			Name:           ReportWriterAgent,
			Description:    "Writes the final markdown report from accumulated findings",
			Model:          routing.Report,
			PromptTemplate: reportPrompt,
			Temperature:    0.4,
		},
		{
			Name:           ClarificationAgent,
			Description:    "Formulates one clarifying question for the user",
			Model:          routing.Clarification,
			PromptTemplate: clarificationPrompt,
			Temperature:    0.2,
		},
	}
}
