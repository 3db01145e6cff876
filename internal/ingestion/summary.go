package ingestion

import "github.com/54b3r/docqa-go/internal/rag"

// State is a step of the ingestion state machine:
//
//	Start → Chunking → EmbeddingLoop → Done | Aborted
type State string

const (
	StateStart         State = "start"
	StateChunking      State = "chunking"
	StateEmbeddingLoop State = "embedding_loop"
	StateDone          State = "done"
	StateAborted       State = "aborted"
)

// Status is the result of processing one chunk.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusAborted   Status = "aborted"
)

// ChunkOutcome records what happened to one chunk.
type ChunkOutcome struct {
	Index    int
	Status   Status
	RecordID string
	Err      error
}

// RunSummary describes one ingestion run. Outcomes holds only the chunks that
// were attempted, ordered by index.
type RunSummary struct {
	Scope     rag.Scope
	State     State
	Succeeded int
	Total     int
	Outcomes  []ChunkOutcome
}

// Skipped returns the number of chunks that failed without aborting the run.
func (r *RunSummary) Skipped() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == StatusSkipped {
			n++
		}
	}
	return n
}

// Attempted returns the number of chunks the run tried to embed.
func (r *RunSummary) Attempted() int {
	return len(r.Outcomes)
}

func (r *RunSummary) firstAborted() *ChunkOutcome {
	for i := range r.Outcomes {
		if r.Outcomes[i].Status == StatusAborted {
			return &r.Outcomes[i]
		}
	}
	return nil
}

func (r *RunSummary) lastError() error {
	for i := len(r.Outcomes) - 1; i >= 0; i-- {
		if r.Outcomes[i].Err != nil {
			return r.Outcomes[i].Err
		}
	}
	return nil
}
