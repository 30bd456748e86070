package domain

import (
	"github.com/workrail/durable-core/eventlog"
	"github.com/workrail/durable-core/id"
)

const (
	maxIssueItemBytes        = 512
	maxSuggestionItemBytes   = 1024
	maxIssuesTotalBytes      = 4096
	maxSuggestionsTotalBytes = 4096
)

// BuildValidationPerformedData builds a bounded validation_performed
// event payload from a raw validation outcome, truncating any item or
// running total that exceeds its cap (spec §4.11).
func BuildValidationPerformedData(nodeID id.NodeID, valid bool, issues []Issue, suggestions []string) eventlog.ValidationPerformedData {
	boundedIssues := make([]eventlog.Issue, 0, len(issues))
	issuesTotal := 0
	for _, iss := range issues {
		msg := truncateUTF8(iss.Message, maxIssueItemBytes, TruncatedMarker)
		if issuesTotal+len(msg) > maxIssuesTotalBytes {
			break
		}
		issuesTotal += len(msg)
		boundedIssues = append(boundedIssues, eventlog.Issue{Code: iss.Code, Message: msg})
	}

	boundedSuggestions := make([]string, 0, len(suggestions))
	suggestionsTotal := 0
	for _, s := range suggestions {
		bounded := truncateUTF8(s, maxSuggestionItemBytes, TruncatedMarker)
		if suggestionsTotal+len(bounded) > maxSuggestionsTotalBytes {
			break
		}
		suggestionsTotal += len(bounded)
		boundedSuggestions = append(boundedSuggestions, bounded)
	}

	return eventlog.ValidationPerformedData{
		NodeID:      nodeID,
		Valid:       valid,
		Issues:      boundedIssues,
		Suggestions: boundedSuggestions,
	}
}
