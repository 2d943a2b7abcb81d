package automation

// WorkItem is one remote execution request against the automation engine.
type WorkItem struct {
	ActivityID string              `json:"activityId"`
	Arguments  map[string]Argument `json:"arguments"`
}

// Argument is a named workitem argument: either an inline data URI or an
// external URL the engine reads from / writes to with the given verb.
type Argument struct {
	URL     string            `json:"url"`
	Verb    string            `json:"verb,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

const (
	VerbGet  = "get"
	VerbPut  = "put"
	VerbPost = "post"
)

// InlineJSON wraps a compact JSON payload as an inline data-URI argument.
func InlineJSON(compact string) Argument {
	return Argument{URL: "data:application/json," + compact}
}

type createWorkItemResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
