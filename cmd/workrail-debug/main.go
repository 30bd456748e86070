// Command workrail-debug is a small local inspector for a durable core
// data directory: list sessions, inspect one, export it to a portable
// bundle file, import a bundle back in, and rank resume candidates by an
// optional free-text query (no git sha or branch is passed to the ranking).
//
// Grounded on vjache-cie's cmd/cie flag/progress-bar idiom (spf13/pflag
// parsing a global set of flags, schollz/progressbar/v3 driving a bar off
// a progress callback) and the teacher's examples/*/main.go convention of
// a thin main wiring ports together before handing off to the library
// packages that do the real work.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/workrail/durable-core/advance"
	"github.com/workrail/durable-core/bundle"
	"github.com/workrail/durable-core/eventlog"
	"github.com/workrail/durable-core/fsport"
	"github.com/workrail/durable-core/id"
	"github.com/workrail/durable-core/internal/emit"
	"github.com/workrail/durable-core/internal/telemetry"
	"github.com/workrail/durable-core/interp"
	"github.com/workrail/durable-core/keyring"
	"github.com/workrail/durable-core/lockwitness"
	"github.com/workrail/durable-core/projection"
	"github.com/workrail/durable-core/session"
	"github.com/workrail/durable-core/snapshotstore"
	"github.com/workrail/durable-core/workflowstore"
)

// emptyLibrary is the degenerate advance.Library used outside an authoring
// host: workrail-debug only inspects already-durable sessions, so it never
// needs to resolve a not-yet-pinned workflow by id.
type emptyLibrary struct{}

func (emptyLibrary) List() []advance.WorkflowMeta            { return nil }
func (emptyLibrary) Get(string) (interp.PinnedWorkflow, bool) { return interp.PinnedWorkflow{}, false }

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "workrail-debug:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	_ = godotenv.Load() // optional; missing .env is not an error

	flags := flag.NewFlagSet("workrail-debug", flag.ContinueOnError)
	dataDir := flags.StringP("data-dir", "d", envOr("WORKRAIL_DATA_DIR", "./workrail-data"), "data directory root")
	jsonOut := flags.BoolP("json", "j", false, "emit JSON instead of a text summary")
	quiet := flags.BoolP("quiet", "q", false, "suppress progress bars")
	if err := flags.Parse(args); err != nil {
		return err
	}

	rest := flags.Args()
	if len(rest) == 0 {
		return fmt.Errorf("usage: workrail-debug [flags] <list|inspect|export|import|resume> ...")
	}

	fs := fsport.NewLocalFS()
	evStore := eventlog.New(fs, *dataDir)
	snapStore := snapshotstore.New(fs, *dataDir)
	wfStore := workflowstore.New(fs, *dataDir)
	gate := session.NewGate(fs, *dataDir, evStore)

	kr, err := keyring.LoadOrCreate(fs, *dataDir)
	if err != nil {
		return fmt.Errorf("load keyring: %w", err)
	}

	metrics := telemetry.New(nil)
	logger := emit.NewLogEmitter(os.Stdout, *jsonOut)

	orch := advance.New(advance.Ports{
		EventLog:  evStore,
		Snapshots: snapStore,
		Workflows: wfStore,
		Gate:      gate,
		Library:   emptyLibrary{},
		Keys:      kr.Keys(),
		Emitter:   logger,
		Metrics:   metrics,
	})

	switch cmd := rest[0]; cmd {
	case "list":
		return cmdList(evStore, *jsonOut)
	case "inspect":
		if len(rest) < 2 {
			return fmt.Errorf("usage: workrail-debug inspect <sessionId>")
		}
		return cmdInspect(evStore, id.SessionID(rest[1]), *jsonOut)
	case "export":
		if len(rest) < 3 {
			return fmt.Errorf("usage: workrail-debug export <sessionId> <outFile>")
		}
		return cmdExport(fs, evStore, snapStore, wfStore, id.SessionID(rest[1]), rest[2], *quiet)
	case "import":
		if len(rest) < 3 {
			return fmt.Errorf("usage: workrail-debug import <inFile> <sessionId>")
		}
		return cmdImport(fs, evStore, snapStore, wfStore, rest[1], id.SessionID(rest[2]), *quiet)
	case "resume":
		gitSha, gitBranch, query := "", "", ""
		if len(rest) > 1 {
			query = rest[1]
		}
		return cmdResume(orch, gitSha, gitBranch, query, *jsonOut)
	default:
		return fmt.Errorf("unknown subcommand %q", cmd)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func cmdList(evStore *eventlog.Store, jsonOut bool) error {
	ids, err := evStore.ListSessionIDs()
	if err != nil {
		return err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(ids)
	}
	for _, sid := range ids {
		fmt.Println(sid)
	}
	return nil
}

func cmdInspect(evStore *eventlog.Store, sid id.SessionID, jsonOut bool) error {
	truth, err := evStore.Load(sid)
	if err != nil {
		return err
	}

	dag, err := projection.BuildDAG(truth.Events)
	if err != nil {
		return fmt.Errorf("project dag: %w", err)
	}

	type summary struct {
		SessionID       id.SessionID `json:"sessionId"`
		Health          string       `json:"health"`
		EventCount      int          `json:"eventCount"`
		NodeCount       int          `json:"nodeCount"`
		PreferredTip    id.NodeID    `json:"preferredTipNodeId"`
	}
	s := summary{
		SessionID:    sid,
		Health:       string(truth.Health.Kind),
		EventCount:   len(truth.Events),
		NodeCount:    len(dag.NodesByID),
		PreferredTip: dag.PreferredTipNodeID,
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(s)
	}
	fmt.Printf("session:        %s\n", s.SessionID)
	fmt.Printf("health:         %s\n", s.Health)
	fmt.Printf("events:         %d\n", s.EventCount)
	fmt.Printf("nodes:          %d\n", s.NodeCount)
	fmt.Printf("preferred tip:  %s\n", s.PreferredTip)
	return nil
}

func cmdExport(fs fsport.LocalFS, evStore *eventlog.Store, snapStore *snapshotstore.Store, wfStore *workflowstore.Store, sid id.SessionID, outPath string, quiet bool) error {
	truth, err := evStore.Load(sid)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	bar := newBar(quiet, len(truth.Events)+1, "exporting")
	_ = bar.Add(1)

	b, err := bundle.Export(truth, snapStore, wfStore)
	if err != nil {
		return fmt.Errorf("export bundle: %w", err)
	}
	_ = bar.Add(len(truth.Events))

	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	if err := fs.WriteFileBytes(outPath, raw); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	_ = bar.Finish()
	return nil
}

func cmdImport(fs fsport.LocalFS, evStore *eventlog.Store, snapStore *snapshotstore.Store, wfStore *workflowstore.Store, inPath string, sid id.SessionID, quiet bool) error {
	raw, err := fs.ReadFileBytes(inPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", inPath, err)
	}
	var b bundle.Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return fmt.Errorf("decode bundle: %w", err)
	}

	bar := newBar(quiet, len(b.Session.Events)+1, "importing")
	_ = bar.Add(1)

	w := lockwitness.New(sid)
	if err := bundle.Import(b, sid, w, evStore, snapStore, wfStore); err != nil {
		return fmt.Errorf("import bundle: %w", err)
	}
	_ = bar.Add(len(b.Session.Events))
	_ = bar.Finish()
	return nil
}

func cmdResume(orch *advance.Orchestrator, gitSha, gitBranch, freeText string, jsonOut bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	candidates, err := orch.FindResumeCandidates(ctx, projection.ResumeQuery{
		GitHeadSha:    gitSha,
		GitBranch:     gitBranch,
		FreeTextQuery: freeText,
	}, nil, "")
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(candidates)
	}
	for _, c := range candidates {
		fmt.Printf("tier=%-2d %s  %s  %s\n", c.Tier, c.Summary.SessionID, c.Summary.WorkflowName, c.Summary.RecapSnippet)
	}
	return nil
}

func newBar(quiet bool, total int, description string) *progressbar.ProgressBar {
	if quiet {
		return progressbar.DefaultBytesSilent(int64(total), description)
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
}
