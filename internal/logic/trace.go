package logic

// TraceStep records the candidate contents surviving a selection stage.
type TraceStep struct {
	Stage      string            `json:"stage"`
	ContentIDs []string          `json:"content_ids"`
	Details    map[string]string `json:"details,omitempty"`
}

// SelectionTrace captures the ordered list of steps performed by a selector.
// A nil *SelectionTrace is valid and records nothing.
type SelectionTrace struct {
	SelectionID string      `json:"selection_id,omitempty"`
	Steps       []TraceStep `json:"steps"`
}

// AddStep appends a trace entry for the given stage. Duplicate content IDs
// are removed.
func (t *SelectionTrace) AddStep(stage string, contentIDs []string) {
	t.AddStepWithDetails(stage, contentIDs, nil)
}

// AddStepWithDetails appends a trace entry with additional details about the stage.
func (t *SelectionTrace) AddStepWithDetails(stage string, contentIDs []string, details map[string]string) {
	if t == nil {
		return
	}
	step := TraceStep{Stage: stage, Details: details}
	seen := make(map[string]struct{}, len(contentIDs))
	for _, id := range contentIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		step.ContentIDs = append(step.ContentIDs, id)
	}
	t.Steps = append(t.Steps, step)
}
