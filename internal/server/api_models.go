package server

// AnalyseRequest runs the selected modules (all when empty) on one target
// and waits for the results.
type AnalyseRequest struct {
	Target  string   `json:"target"`
	Modules []string `json:"modules,omitempty"`
}

// StartJobRequest starts a background job over several targets.
type StartJobRequest struct {
	Targets []string `json:"targets"`
	Modules []string `json:"modules,omitempty"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Modules int    `json:"modules"`
	Storage bool   `json:"storage"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error"`
}
