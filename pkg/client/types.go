package client

import "time"

// Agent describes the agent a build ran on.
type Agent struct {
	Name                    string            `json:"name"`
	OSName                  string            `json:"os_name"`
	TypeOSName              string            `json:"type_os_name,omitempty"`
	ConfigurationParameters map[string]string `json:"configuration_parameters,omitempty"`
}

// Feature is a build feature attached to the build's configuration.
type Feature struct {
	Type       string            `json:"type"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Run is the build payload accepted by the build-finished and tools endpoints.
type Run struct {
	ID            string            `json:"id"`
	BuildTypeID   string            `json:"build_type_id"`
	Agent         Agent             `json:"agent"`
	Features      []Feature         `json:"features,omitempty"`
	OwnParameters map[string]string `json:"own_parameters,omitempty"`
	Parameters    map[string]string `json:"parameters,omitempty"`
}

// BuildType is a build configuration known to the server.
type BuildType struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// CausesResponse lists configurations which recently caused a clean checkout.
type CausesResponse struct {
	BuildType string   `json:"build_type"`
	Causes    []string `json:"causes"`
}

// Requirement tells whether a run needs tools on its agent.
type Requirement struct {
	Required bool     `json:"required"`
	Tools    []string `json:"tools"`
}

// ToolStatus describes the tool installed on the server.
type ToolStatus struct {
	Type      string `json:"type"`
	Installed bool   `json:"installed"`
	ID        string `json:"id,omitempty"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
}

// CleanupReport describes a finished cleanup cycle.
type CleanupReport struct {
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Interrupted bool      `json:"interrupted"`
	Failed      []string  `json:"failed,omitempty"`
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Error string `json:"error"`
}
