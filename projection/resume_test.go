package projection

import (
	"fmt"
	"testing"

	"github.com/workrail/durable-core/id"
)

func TestRankResumeCandidatesTierOrdering(t *testing.T) {
	summaries := []SessionSummary{
		{SessionID: "sess_a", GitHeadSha: "abc123", LastActivityEventIndex: 1},
		{SessionID: "sess_b", GitBranch: "feature/x", LastActivityEventIndex: 5},
		{SessionID: "sess_c", RecapSnippet: "fixing the login bug", LastActivityEventIndex: 2},
		{SessionID: "sess_d", WorkflowName: "deploy pipeline", LastActivityEventIndex: 9},
		{SessionID: "sess_e", LastActivityEventIndex: 3},
	}
	query := ResumeQuery{GitHeadSha: "abc123", GitBranch: "feature/x", FreeTextQuery: "login deploy"}

	got := RankResumeCandidates(summaries, query)
	if len(got) != 5 {
		t.Fatalf("expected all 5 candidates returned, got %d", len(got))
	}
	if got[0].Summary.SessionID != "sess_a" || got[0].Tier != TierHeadSHAExact {
		t.Fatalf("expected sess_a ranked first via head sha, got %+v", got[0])
	}
	if got[1].Summary.SessionID != "sess_b" || got[1].Tier != TierBranchMatch {
		t.Fatalf("expected sess_b ranked second via branch match, got %+v", got[1])
	}
	if got[2].Tier != TierRecapTokenMatch {
		t.Fatalf("expected third candidate to match via recap tokens, got %+v", got[2])
	}
	if got[3].Tier != TierWorkflowTokenMatch {
		t.Fatalf("expected fourth candidate to match via workflow tokens, got %+v", got[3])
	}
	if got[4].Summary.SessionID != "sess_e" || got[4].Tier != TierRecencyFallback {
		t.Fatalf("expected sess_e to fall back to recency, got %+v", got[4])
	}
}

func TestRankResumeCandidatesCapsAtFive(t *testing.T) {
	var summaries []SessionSummary
	for i := 0; i < 8; i++ {
		summaries = append(summaries, SessionSummary{
			SessionID:              id.SessionID(fmt.Sprintf("sess_%d", i)),
			LastActivityEventIndex: i,
		})
	}
	got := RankResumeCandidates(summaries, ResumeQuery{})
	if len(got) != 5 {
		t.Fatalf("expected result capped at 5, got %d", len(got))
	}
	// Within the same tier, ties break by descending LastActivityEventIndex.
	for i := 1; i < len(got); i++ {
		if got[i-1].Summary.LastActivityEventIndex < got[i].Summary.LastActivityEventIndex {
			t.Fatalf("expected descending LastActivityEventIndex order, got %+v", got)
		}
	}
}

func TestRankResumeCandidatesStableSessionIDTiebreak(t *testing.T) {
	summaries := []SessionSummary{
		{SessionID: "sess_z", LastActivityEventIndex: 1},
		{SessionID: "sess_a", LastActivityEventIndex: 1},
	}
	got := RankResumeCandidates(summaries, ResumeQuery{})
	if got[0].Summary.SessionID != "sess_a" {
		t.Fatalf("expected sess_a to sort before sess_z on an exact tier/activity tie, got %+v", got)
	}
}
