package workitem

import "encoding/json"

// StartRequest is the client-facing start payload.
type StartRequest struct {
	BrowserConnectionID string          `json:"browserConnectionId"`
	UseCache            bool            `json:"useCache"`
	KeepWorkitem        bool            `json:"keepWorkitem"`
	Params              json.RawMessage `json:"params"`
	Screenshot          *Screenshot     `json:"screenshot,omitempty"`
}

type Screenshot struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// StartResult lists the handles of whatever got submitted. The UI only
// logs them; callbacks carry the client id themselves.
type StartResult struct {
	PngWorkItemID     string `json:"pngWorkItemId,omitempty"`
	JSONWorkItemID    string `json:"jsonWorkItemId,omitempty"`
	ZipWorkItemID     string `json:"zipWorkItemId,omitempty"`
	SessionWorkItemID string `json:"sessionWorkItemId,omitempty"`
	CachedResult      bool   `json:"cachedResult,omitempty"`
}

// engineInput is the inline JSON the engine reads as its input argument.
type engineInput struct {
	Params     json.RawMessage `json:"params"`
	Output     string          `json:"output"`
	Screenshot *Screenshot     `json:"screenshot,omitempty"`
}

// CompleteCallback is the completion body the remote service POSTs back.
// Only the fields the router acts on are modeled; the raw body is pushed
// to the client unparsed anyway.
type CompleteCallback struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ReportURL string `json:"reportUrl"`
}

// componentsRef is the payload pushed on a cache hit: the archived
// assembly plus the transform the viewer should apply. A cached artifact
// was produced in its own coordinate frame, so the transform is always
// the identity matrix.
type componentsRef struct {
	File   string    `json:"file"`
	Matrix []float64 `json:"matrix"`
}

func identityMatrix() []float64 {
	return []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}
