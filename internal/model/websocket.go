package model

// Event types pushed to /ws/jobs/:jobId subscribers
const (
	WSEventProgress = "progress"
	WSEventComplete = "complete"
	WSEventError    = "error"
	WSEventCanceled = "canceled"
	WSEventPing     = "ping"
	WSEventPong     = "pong"
)

// WSEvent is the envelope every event shares; clients switch on Type
type WSEvent struct {
	Type string `json:"type"`
}

// WSProgressEvent reports a dub job moving through the pipeline
type WSProgressEvent struct {
	Type     string    `json:"type"`
	JobID    string    `json:"jobId"`
	Progress int       `json:"progress"`
	Status   JobStatus `json:"status"`
	Step     string    `json:"step,omitempty"`
}

// WSCompleteEvent carries the finished job's result
type WSCompleteEvent struct {
	Type   string             `json:"type"`
	JobID  string             `json:"jobId"`
	Result *DubResultResponse `json:"result"`
}

// WSErrorEvent carries a failure code and the tool or service diagnostic
type WSErrorEvent struct {
	Type       string `json:"type"`
	JobID      string `json:"jobId"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// ProgressEvent builds the event for a job status snapshot
func ProgressEvent(s *DubStatusResponse) WSProgressEvent {
	return WSProgressEvent{
		Type:     WSEventProgress,
		JobID:    s.JobID,
		Progress: s.Progress,
		Status:   s.Status,
		Step:     s.CurrentStep,
	}
}
