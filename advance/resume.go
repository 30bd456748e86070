package advance

import (
	"context"
	"encoding/json"

	"github.com/workrail/durable-core/eventlog"
	"github.com/workrail/durable-core/id"
	"github.com/workrail/durable-core/projection"
	"github.com/workrail/durable-core/rediscache"
)

// gitContext is the subset of a run's context this package reads to
// populate SessionSummary.GitHeadSha/GitBranch. Conventionally populated
// by a caller that threads VCS state through start_workflow's context
// input; the core attaches no special meaning to these keys beyond
// resume ranking.
type gitContext struct {
	GitHeadSha string `json:"gitHeadSha"`
	GitBranch  string `json:"gitBranch"`
}

// ResumeCache is the optional, non-authoritative accelerator for
// FindResumeCandidates. A nil ResumeCache simply means every call
// recomputes summaries from the event log.
type ResumeCache interface {
	Get(ctx context.Context, key string) ([]projection.SessionSummary, bool)
	Set(ctx context.Context, key string, summaries []projection.SessionSummary) error
}

var _ ResumeCache = (*rediscache.SummaryCache)(nil)

// FindResumeCandidates scans every session this Orchestrator's event log
// store knows about, projects a SessionSummary for each healthy one, and
// ranks them against query (spec §4.10). cache is an optional summary
// cache (nil for none) and cacheKey names its entry (e.g. "all", or a
// workflowId to pre-filter); pass "" to skip caching even when cache is
// non-nil.
func (o *Orchestrator) FindResumeCandidates(ctx context.Context, query projection.ResumeQuery, cache ResumeCache, cacheKey string) ([]projection.RankedCandidate, error) {
	var summaries []projection.SessionSummary

	if cache != nil && cacheKey != "" {
		if cached, ok := cache.Get(ctx, cacheKey); ok {
			summaries = cached
		}
	}

	if summaries == nil {
		built, err := o.buildSessionSummaries()
		if err != nil {
			return nil, wrapErr(err)
		}
		summaries = built
		if cache != nil && cacheKey != "" {
			_ = cache.Set(ctx, cacheKey, summaries)
		}
	}

	return projection.RankResumeCandidates(summaries, query), nil
}

func (o *Orchestrator) buildSessionSummaries() ([]projection.SessionSummary, error) {
	sessionIDs, err := o.ports.EventLog.ListSessionIDs()
	if err != nil {
		return nil, err
	}

	out := make([]projection.SessionSummary, 0, len(sessionIDs))
	for _, sid := range sessionIDs {
		summary, ok, err := o.summarizeSession(sid)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, summary)
		}
	}
	return out, nil
}

func (o *Orchestrator) summarizeSession(sessionID id.SessionID) (projection.SessionSummary, bool, error) {
	truth, err := o.ports.EventLog.Load(sessionID)
	if err != nil {
		return projection.SessionSummary{}, false, err
	}
	if truth.Health.Kind != eventlog.HealthHealthy || len(truth.Events) == 0 {
		return projection.SessionSummary{}, false, nil
	}

	var runID id.RunID
	var workflowID string
	for _, ev := range truth.Events {
		if ev.Kind == eventlog.KindRunStarted {
			var d eventlog.RunStartedData
			if derr := ev.DecodeData(&d); derr == nil {
				runID = d.RunID
				workflowID = d.WorkflowID
			}
			break
		}
	}

	workflowName := workflowID
	if meta, ok := o.ports.Library.Get(workflowID); ok {
		workflowName = meta.Name
	}

	runContexts, err := projection.BuildRunContext(truth.Events)
	if err != nil {
		return projection.SessionSummary{}, false, err
	}
	var gc gitContext
	if raw, ok := runContexts[runID]; ok && len(raw) > 0 {
		_ = json.Unmarshal(raw, &gc)
	}

	dag, err := projection.BuildDAG(truth.Events)
	if err != nil {
		return projection.SessionSummary{}, false, err
	}
	outputs, err := projection.BuildOutputs(truth.Events)
	if err != nil {
		return projection.SessionSummary{}, false, err
	}
	recapSnippet := latestRecapSnippet(dag, outputs)

	return projection.SessionSummary{
		SessionID:              sessionID,
		WorkflowID:             workflowID,
		WorkflowName:           workflowName,
		GitHeadSha:             gc.GitHeadSha,
		GitBranch:              gc.GitBranch,
		RecapSnippet:           recapSnippet,
		LastActivityEventIndex: truth.Events[len(truth.Events)-1].EventIndex,
	}, true, nil
}

const recapSnippetByteCap = 1024

// latestRecapSnippet returns the most recent recap-channel notes on the
// DAG's preferred tip, truncated to recapSnippetByteCap bytes.
func latestRecapSnippet(dag projection.DAG, outputs projection.Outputs) string {
	tip := dag.PreferredTipNodeID
	if tip == "" {
		return ""
	}
	byChannel, ok := outputs.CurrentByChannel[tip]
	if !ok {
		return ""
	}
	recap, ok := byChannel[eventlog.OutputChannelRecap]
	if !ok || recap.Notes == nil {
		return ""
	}
	s := recap.Notes.NotesMarkdown
	if len(s) > recapSnippetByteCap {
		s = s[:recapSnippetByteCap]
	}
	return s
}
