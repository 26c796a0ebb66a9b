package metrics

/*
Labels and so on for metrics used in the deployment daemon.
*/

const (
	LabelMethod  = "method"
	LabelRoute   = "route"
	LabelSuccess = "success"

	// Labels for protocol metrics
	LabelStage   = "stage"
	LabelOutcome = "outcome"
	LabelGate    = "gate"
	LabelKind    = "kind"
)
