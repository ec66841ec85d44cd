package progress

// Stage names emitted by the cleaning orchestrator, in program order.
const (
	StageRead    = "read"
	StageAnalyze = "analyze"
	StageUpload  = "upload"
	StageDone    = "done"
)

// Event is one live progress update for a cleaning run. Progress is an
// integer percent and must not regress within a run; the channel itself
// does not enforce this. Error is set on the terminal event of a failed
// run so observers are never left waiting for a "done".
type Event struct {
	Stage    string `json:"stage"`
	Message  string `json:"message"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

// Publisher is the producer-side view of the channel.
type Publisher interface {
	Publish(scope string, event Event)
}
