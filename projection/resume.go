package projection

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/workrail/durable-core/id"
)

// ResumeQuery narrows resume-candidate ranking (spec §4.10).
type ResumeQuery struct {
	GitHeadSha    string
	GitBranch     string
	FreeTextQuery string
}

// SessionSummary is the healthy-session summary resume ranking operates
// over; callers build one per session from its projected truth.
type SessionSummary struct {
	SessionID              id.SessionID
	WorkflowID              string
	WorkflowName            string
	GitHeadSha              string
	GitBranch               string
	RecapSnippet            string // <= 1 KB, most recent recap notes
	LastActivityEventIndex int
}

// Tier is the closed set of resume-candidate match tiers, best first.
type Tier int

const (
	TierHeadSHAExact Tier = iota + 1
	TierBranchMatch
	TierRecapTokenMatch
	TierWorkflowTokenMatch
	TierRecencyFallback
)

// RankedCandidate is one ranked resume candidate.
type RankedCandidate struct {
	Summary SessionSummary
	Tier    Tier
}

var tokenPattern = regexp.MustCompile(`[a-z0-9_-]+`)

// normalizeAndTokenize NFKC-normalizes, lowercases, and extracts
// [a-z0-9_-]+ tokens from s.
func normalizeAndTokenize(s string) []string {
	normalized := norm.NFKC.String(s)
	lowered := cases.Lower(language.Und).String(normalized)
	return tokenPattern.FindAllString(lowered, -1)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range normalizeAndTokenize(s) {
		set[t] = true
	}
	return set
}

func anyTokenOverlap(a, b map[string]bool) bool {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for t := range small {
		if large[t] {
			return true
		}
	}
	return false
}

// RankResumeCandidates assigns each summary a tier against query and
// returns the top 5, ranked ascending by tier, then descending by
// LastActivityEventIndex, then ascending by SessionID (spec §4.10).
func RankResumeCandidates(summaries []SessionSummary, query ResumeQuery) []RankedCandidate {
	queryTokens := tokenSet(query.FreeTextQuery)

	ranked := make([]RankedCandidate, 0, len(summaries))
	for _, s := range summaries {
		tier := classify(s, query, queryTokens)
		ranked = append(ranked, RankedCandidate{Summary: s, Tier: tier})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Tier != ranked[j].Tier {
			return ranked[i].Tier < ranked[j].Tier
		}
		if ranked[i].Summary.LastActivityEventIndex != ranked[j].Summary.LastActivityEventIndex {
			return ranked[i].Summary.LastActivityEventIndex > ranked[j].Summary.LastActivityEventIndex
		}
		return ranked[i].Summary.SessionID < ranked[j].Summary.SessionID
	})

	if len(ranked) > 5 {
		ranked = ranked[:5]
	}
	return ranked
}

func classify(s SessionSummary, query ResumeQuery, queryTokens map[string]bool) Tier {
	if query.GitHeadSha != "" && s.GitHeadSha != "" && strings.EqualFold(s.GitHeadSha, query.GitHeadSha) {
		return TierHeadSHAExact
	}
	if query.GitBranch != "" && s.GitBranch != "" &&
		(strings.EqualFold(s.GitBranch, query.GitBranch) || strings.HasPrefix(s.GitBranch, query.GitBranch)) {
		return TierBranchMatch
	}
	if len(queryTokens) > 0 {
		recapTokens := tokenSet(truncateForTokenizing(s.RecapSnippet))
		if anyTokenOverlap(queryTokens, recapTokens) {
			return TierRecapTokenMatch
		}
		workflowTokens := tokenSet(s.WorkflowID + " " + s.WorkflowName)
		if anyTokenOverlap(queryTokens, workflowTokens) {
			return TierWorkflowTokenMatch
		}
	}
	return TierRecencyFallback
}

const recapTokenizeByteCap = 1024

func truncateForTokenizing(s string) string {
	if len(s) <= recapTokenizeByteCap {
		return s
	}
	return s[:recapTokenizeByteCap]
}
