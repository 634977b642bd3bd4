package build

// Agent is the read-only view of the build agent a run was assigned to.
// OSName is what the agent itself reported; TypeOSName is the OS recorded on
// the agent type (cloud image, pool profile) and is used when the agent did
// not report anything useful.
type Agent struct {
	Name                    string            `json:"name"`
	OSName                  string            `json:"os_name"`
	TypeOSName              string            `json:"type_os_name,omitempty"`
	ConfigurationParameters map[string]string `json:"configuration_parameters,omitempty"`
}

// Feature is a build feature descriptor attached to a build configuration.
type Feature struct {
	Type       string            `json:"type"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Run is a transient view of one build execution.
// OwnParameters are the parameters defined on the build itself; Parameters
// are the fully computed parameters reported after the build finished.
type Run struct {
	ID            string            `json:"id"`
	BuildTypeID   string            `json:"build_type_id"`
	Agent         Agent             `json:"agent"`
	Features      []Feature         `json:"features,omitempty"`
	OwnParameters map[string]string `json:"own_parameters,omitempty"`
	Parameters    map[string]string `json:"parameters,omitempty"`
}

// FeaturesOfType returns the run's features of the given type in declaration order.
func (r Run) FeaturesOfType(featureType string) []Feature {
	out := make([]Feature, 0, 1)
	for _, f := range r.Features {
		if f.Type == featureType {
			out = append(out, f)
		}
	}
	return out
}

// Parameter returns a computed parameter value, or "" when absent.
func (r Run) Parameter(name string) string {
	if r.Parameters == nil {
		return ""
	}
	return r.Parameters[name]
}

// BuildType is a build configuration known to the server.
type BuildType struct {
	ID        string `json:"id" mapstructure:"id" toml:"id"`
	Name      string `json:"name,omitempty" mapstructure:"name" toml:"name"`
	ProjectID string `json:"project_id,omitempty" mapstructure:"project_id" toml:"project_id"`
}
