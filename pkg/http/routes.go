package http

const (
	Ping    = "Ping"
	Version = "Version"

	StartRun  = "StartRun"
	ListRuns  = "ListRuns"
	GetRun    = "GetRun"
	RunStatus = "RunStatus"
	RunEvents = "RunEvents"
	Decide    = "Decide"
	Retry     = "Retry"
	Discard   = "Discard"
)
