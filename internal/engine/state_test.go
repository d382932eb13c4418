package engine

import (
	"encoding/json"
	"testing"
)

func TestNewResearchState(t *testing.T) {
	st := NewResearchState("s1", "why is the sky blue", "m1", []string{"web_search"})

	if st.Iteration != 0 {
		t.Fatalf("iteration = %d, want 0", st.Iteration)
	}
	if st.CurrentResearchTopic != st.OriginalQuery {
		t.Fatalf("topic %q != query %q", st.CurrentResearchTopic, st.OriginalQuery)
	}
	if len(st.ConversationHistory) != 1 {
		t.Fatalf("history = %d messages, want 1", len(st.ConversationHistory))
	}
	first := st.ConversationHistory[0]
	if first.Role != RoleUser || first.Text() != "why is the sky blue" {
		t.Fatalf("first message = %+v", first)
	}
}

func TestStateJSONRoundTrip(t *testing.T) {
	st := NewResearchState("s1", "q", "m1", []string{"web_search"})
	st.AdvanceIteration()
	st.AppendMessage(Message{Role: RoleModel, Parts: []Part{
		{Text: "thinking"},
		{ToolRequest: &ToolRequest{Name: "research_agent", Input: json.RawMessage(`{"focus":"x"}`), Ref: "r1"}},
	}})
	st.AppendMessage(Message{Role: RoleTool, Parts: []Part{
		{ToolResponse: &ToolResponse{Name: "research_agent", Output: json.RawMessage(`"done"`), Ref: "r1"}},
	}})
	st.AppendFinding("a finding")
	st.MarkClarification("which one?")

	raw, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back ResearchState
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if back.Iteration != st.Iteration || back.ClarificationRounds != 1 || !back.NeedsClarification {
		t.Fatalf("scalar state lost: %+v", back)
	}
	if len(back.ConversationHistory) != 3 {
		t.Fatalf("history = %d, want 3", len(back.ConversationHistory))
	}
	reqs := back.ConversationHistory[1].ToolRequests()
	if len(reqs) != 1 || reqs[0].Ref != "r1" || reqs[0].Name != "research_agent" {
		t.Fatalf("tool request lost: %+v", reqs)
	}
	if back.ConversationHistory[2].Parts[0].ToolResponse.Ref != "r1" {
		t.Fatal("tool response ref lost")
	}
	if len(back.AccumulatedFindings) != 1 {
		t.Fatalf("findings = %v", back.AccumulatedFindings)
	}
}

func TestAnswerClarification(t *testing.T) {
	st := NewResearchState("s1", "java", "m1", nil)
	st.MarkClarification("language or island?")

	st.AnswerClarification("the language")

	if st.NeedsClarification {
		t.Fatal("flag not cleared")
	}
	if st.CurrentResearchTopic != "java — the language" {
		t.Fatalf("topic = %q", st.CurrentResearchTopic)
	}
	last := st.ConversationHistory[len(st.ConversationHistory)-1]
	if last.Role != RoleUser || last.Text() != "the language" {
		t.Fatalf("answer not in transcript: %+v", last)
	}
}

func TestAnswerClarificationBlankKeepsTopic(t *testing.T) {
	st := NewResearchState("s1", "java", "m1", nil)
	st.MarkClarification("language or island?")

	st.AnswerClarification("   ")

	if st.NeedsClarification {
		t.Fatal("flag not cleared")
	}
	if st.CurrentResearchTopic != "java" {
		t.Fatalf("topic = %q, want unchanged", st.CurrentResearchTopic)
	}
}

func TestRefocusQuery(t *testing.T) {
	st := NewResearchState("s1", "first", "m1", nil)
	st.SetFinalReport("# done")

	st.RefocusQuery("second")

	if st.OriginalQuery != "first" {
		t.Fatalf("original query = %q", st.OriginalQuery)
	}
	if st.CurrentResearchTopic != "second" {
		t.Fatalf("topic = %q", st.CurrentResearchTopic)
	}
	if st.FinalReportMarkdown != "# done" {
		t.Fatal("prior report dropped on refocus")
	}
}
