// Package usage decides, per build, whether handle.exe has to be shipped to
// the agent running it.
package usage

import (
	"context"
	"log/slog"
	"strings"

	"github.com/loykin/swabra/internal/build"
	"github.com/loykin/swabra/internal/feature"
	"github.com/loykin/swabra/internal/handle"
	"github.com/loykin/swabra/internal/metrics"
	"github.com/loykin/swabra/internal/properties"
)

// ProvideToAllAgents forces the tool onto every agent when true.
const ProvideToAllAgents = "teamcity.tools.provideHandleToolToAllAgents"

// ToolLookup finds a tool version installed on the server by its id.
// It returns the install location when present.
type ToolLookup interface {
	FindInstalledTool(id string) (string, bool)
}

type Resolver struct {
	tools  ToolLookup
	props  properties.Properties
	logger *slog.Logger
}

func NewResolver(tools ToolLookup, props properties.Properties, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if props == nil {
		props = properties.NewMap(nil)
	}
	return &Resolver{tools: tools, props: props, logger: logger}
}

// RequiredTools returns the tool versions the run needs on its agent:
// the single handle.exe version or nothing.
func (r *Resolver) RequiredTools(ctx context.Context, run build.Run) []handle.Version {
	if r.IsRequired(ctx, run) {
		return []handle.Version{handle.SingleVersion}
	}
	return nil
}

// IsRequired reports whether the run needs handle.exe. Checks short-circuit in
// order: installed on the server, the provide-to-all override, agent OS, and
// finally the locking-processes setting of the merged build parameters.
func (r *Resolver) IsRequired(_ context.Context, run build.Run) bool {
	required := r.isRequired(run)
	metrics.IncToolRequired(required)
	r.logger.Debug("tool requirement resolved", "tool", handle.ToolName, "build", run.ID, "agent", run.Agent.Name, "required", required)
	return required
}

func (r *Resolver) isRequired(run build.Run) bool {
	if r.tools == nil {
		return false
	}
	if _, ok := r.tools.FindInstalledTool(handle.SingleVersion.ID()); !ok {
		return false
	}
	if r.props.Bool(ProvideToAllAgents, false) {
		return true
	}
	if !CompatibleWithAgent(run.Agent) {
		return false
	}
	return feature.IsLockingProcessesDetectionEnabled(MergedParameters(run))
}

// MergedParameters layers the first cleaner feature's parameters, then the
// agent configuration parameters, then the build's own parameters.
func MergedParameters(run build.Run) map[string]string {
	merged := make(map[string]string)
	if fs := run.FeaturesOfType(feature.Type); len(fs) > 0 {
		for k, v := range fs[0].Parameters {
			merged[k] = v
		}
	}
	for k, v := range run.Agent.ConfigurationParameters {
		merged[k] = v
	}
	for k, v := range run.OwnParameters {
		merged[k] = v
	}
	return merged
}

// CompatibleWithAgent reports whether handle.exe can run on the agent.
// An agent whose OS cannot be determined is treated as compatible.
func CompatibleWithAgent(agent build.Agent) bool {
	osName := agent.OSName
	if isUnknownOS(osName) {
		osName = agent.TypeOSName
	}
	if isUnknownOS(osName) {
		return true
	}
	osName = strings.ToLower(osName)
	return strings.HasPrefix(osName, "win") || strings.Contains(osName, "windows")
}

func isUnknownOS(osName string) bool {
	return osName == "" || strings.EqualFold(osName, "N/A") || strings.EqualFold(osName, "<unknown>")
}
