package crawler

// StatusResult represents the outcome of a single URL status check
type StatusResult struct {
	URL          string   `json:"url"`
	StatusCode   int      `json:"status_code"`
	ResponseTime int64    `json:"response_time"`
	Title        string   `json:"title,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// OK reports whether the check produced a usable HTTP status.
func (r *StatusResult) OK() bool {
	return r != nil && r.Error == "" && r.StatusCode > 0
}
