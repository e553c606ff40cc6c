package pipeline

// Phase names a step of a batch run.
type Phase string

const (
	PhaseStarted    Phase = "started"
	PhasePOBoxes    Phase = "po_boxes"
	PhaseSelected   Phase = "selected"
	PhaseGeocoding  Phase = "geocoding"
	PhaseSaved      Phase = "saved"
	PhaseDuplicates Phase = "duplicates"
	PhaseDone       Phase = "done"
)

// Event reports progress of a batch run. For PhaseGeocoding, Count is the
// number of addresses geocoded so far out of Total.
type Event struct {
	RunID string `json:"run_id"`
	Phase Phase  `json:"phase"`
	Count int    `json:"count"`
	Total int    `json:"total"`
}
