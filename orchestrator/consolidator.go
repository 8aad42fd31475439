package orchestrator

import (
	"sort"
	"time"
)

// ResponseError is one user-visible failure in a consolidated response.
// Internal details never appear here, only the taxonomy kind and a short
// message.
type ResponseError struct {
	Agent   string    `json:"agent,omitempty"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Metadata summarizes how a query was executed.
type Metadata struct {
	// Count is the number of steps that ran: Successful + Failed.
	Count      int `json:"count"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped,omitempty"`
	// AgentTrail lists every planned step in temporal start order;
	// skipped steps trail in plan order.
	AgentTrail []string `json:"agent_trail"`
	// AgentsUsed lists agents that produced output.
	AgentsUsed           []string `json:"agents_used"`
	TotalExecutionTimeMs int64    `json:"total_execution_time_ms"`
	MaxExecutionTimeMs   int64    `json:"max_execution_time_ms"`
	Parallel             bool     `json:"parallel"`
	Reasoning            string   `json:"reasoning,omitempty"`
}

// Response is the consolidated result of one query.
type Response struct {
	Success  bool                      `json:"success"`
	Data     map[string]map[string]any `json:"data,omitempty"`
	Errors   []ResponseError           `json:"errors,omitempty"`
	Metadata Metadata                  `json:"_metadata"`
}

// Consolidate merges step results into the final response. Count covers
// steps that actually ran; skipped steps appear on the trail and in the
// errors list but not in Count.
func Consolidate(decision *Result, steps []StepResult) *Response {
	resp := &Response{
		Data: make(map[string]map[string]any),
		Metadata: Metadata{
			AgentTrail: make([]string, 0, len(steps)),
			AgentsUsed: []string{},
		},
	}
	if decision != nil {
		resp.Metadata.Reasoning = decision.Reasoning
	}

	// Temporal trail: started steps ordered by start time, never-started
	// steps appended in plan order.
	order := make([]int, 0, len(steps))
	var unstarted []int
	for i, s := range steps {
		if s.StartedAt.IsZero() {
			unstarted = append(unstarted, i)
			continue
		}
		order = append(order, i)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return steps[order[a]].StartedAt.Before(steps[order[b]].StartedAt)
	})
	order = append(order, unstarted...)

	var firstStart, lastFinish time.Time
	for _, i := range order {
		s := steps[i]
		resp.Metadata.AgentTrail = append(resp.Metadata.AgentTrail, s.Agent)

		switch {
		case s.Skipped:
			resp.Metadata.Skipped++
		case s.Success:
			resp.Metadata.Successful++
			resp.Data[s.Agent] = s.Output
			resp.Metadata.AgentsUsed = append(resp.Metadata.AgentsUsed, s.Agent)
		default:
			resp.Metadata.Failed++
		}
		if !s.Success && s.Err != nil {
			resp.Errors = append(resp.Errors, ResponseError{
				Agent:   s.Agent,
				Kind:    Classify(s.Err),
				Message: s.Err.Error(),
			})
		}

		if s.StartedAt.IsZero() {
			continue
		}
		if firstStart.IsZero() || s.StartedAt.Before(firstStart) {
			firstStart = s.StartedAt
		}
		if s.FinishedAt.After(lastFinish) {
			lastFinish = s.FinishedAt
		}
		if d := s.FinishedAt.Sub(s.StartedAt).Milliseconds(); d > resp.Metadata.MaxExecutionTimeMs {
			resp.Metadata.MaxExecutionTimeMs = d
		}
	}

	resp.Metadata.Count = resp.Metadata.Successful + resp.Metadata.Failed
	if !firstStart.IsZero() {
		resp.Metadata.TotalExecutionTimeMs = lastFinish.Sub(firstStart).Milliseconds()
	}
	resp.Metadata.Parallel = anyOverlap(steps)
	resp.Success = resp.Metadata.Failed == 0 && resp.Metadata.Skipped == 0 && resp.Metadata.Successful > 0

	if len(resp.Data) == 0 {
		resp.Data = nil
	}
	return resp
}

// anyOverlap reports whether any two successful steps ran concurrently.
func anyOverlap(steps []StepResult) bool {
	for i := range steps {
		if !steps[i].Success {
			continue
		}
		for j := i + 1; j < len(steps); j++ {
			if !steps[j].Success {
				continue
			}
			if steps[i].StartedAt.Before(steps[j].FinishedAt) &&
				steps[j].StartedAt.Before(steps[i].FinishedAt) {
				return true
			}
		}
	}
	return false
}
