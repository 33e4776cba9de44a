package comfy

// PromptResponse - result of a successful job submission. The prompt id is the
// server-assigned correlation key; the client id scopes the push-channel
// subscription. Both live for exactly one job.
type PromptResponse struct {
	PromptID string
	ClientID string
}

// ExecutionError - a terminal failure reported by the server over the push
// channel. Once the server has classified the job this way, polling cannot
// discover a different terminal state, so the wait surfaces it directly.
type ExecutionError struct {
	Message string
}

func (e *ExecutionError) Error() string {
	return e.Message
}

// JobError - the backend reported the job itself failed. Carries the server's
// diagnostic text verbatim.
type JobError struct {
	Message string
}

func (e *JobError) Error() string {
	return e.Message
}

// pushMessage - the websocket message shapes the wait consumes
type pushMessage struct {
	Type string `json:"type"`
	Data struct {
		PromptID         string  `json:"prompt_id"`
		Node             string  `json:"node"`
		Value            float64 `json:"value"`
		Max              float64 `json:"max"`
		ExceptionMessage string  `json:"exception_message"`
		NodeType         string  `json:"node_type"`
		NodeID           string  `json:"node_id"`
	} `json:"data"`
}

// queueResponse - response body of POST /prompt
type queueResponse struct {
	PromptID   string                 `json:"prompt_id"`
	Error      interface{}            `json:"error"`
	NodeErrors map[string]interface{} `json:"node_errors"`
}

// uploadResponse - response body of POST /upload/image
type uploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}
