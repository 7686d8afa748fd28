package model

import "encoding/json"

// Wire payloads accepted and returned by the tracking endpoints.

// -------------------- PAGEVIEW --------------------
type PageviewRequest struct {
	URL              string `json:"url"`
	PageTitle        string `json:"page_title"`
	Referrer         string `json:"referrer"`
	VisitorID        string `json:"visitor_id"`
	Fingerprint      string `json:"fingerprint"`
	SessionToken     string `json:"session_token"`
	ScreenResolution string `json:"screen_resolution"`
	Timezone         string `json:"timezone"`
}

type PageviewResponse struct {
	Counted      bool   `json:"counted"`
	SessionToken string `json:"session_token,omitempty"` // set only when the server rotated the token
}

// -------------------- ERROR --------------------
type ErrorRequest struct {
	Message     string          `json:"message"`
	ErrorType   string          `json:"error_type"`
	File        string          `json:"file"`
	Line        int             `json:"line"`
	Stack       string          `json:"stack"`
	URL         string          `json:"url"`
	Severity    string          `json:"severity"`
	Environment string          `json:"environment"`
	Context     json.RawMessage `json:"context"`
}

type ErrorResponse struct {
	GroupID int64 `json:"group_id"`
}

// -------------------- AUDIT --------------------
type AuditRequest struct {
	Action  string          `json:"action"`
	Actor   string          `json:"actor"`
	Context json.RawMessage `json:"context"`
}

type AuditResponse struct {
	ID int64 `json:"id"`
}
