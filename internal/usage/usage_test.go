package usage

import (
	"context"
	"testing"

	"github.com/loykin/swabra/internal/build"
	"github.com/loykin/swabra/internal/feature"
	"github.com/loykin/swabra/internal/handle"
	"github.com/loykin/swabra/internal/properties"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTools map[string]string

func (f fakeTools) FindInstalledTool(id string) (string, bool) {
	p, ok := f[id]
	return p, ok
}

var installed = fakeTools{handle.SingleVersion.ID(): "/opt/tools/handle.latest"}

func windowsRun(featureParams map[string]string) build.Run {
	run := build.Run{ID: "1", BuildTypeID: "bt1", Agent: build.Agent{Name: "a1", OSName: "Windows 10"}}
	if featureParams != nil {
		run.Features = []build.Feature{{Type: feature.Type, Parameters: featureParams}}
	}
	return run
}

func TestNotInstalledNeverRequired(t *testing.T) {
	props := properties.NewMap(map[string]string{ProvideToAllAgents: "true"})
	r := NewResolver(fakeTools{}, props, nil)
	run := windowsRun(map[string]string{feature.LockingProcesses: "kill"})
	assert.False(t, r.IsRequired(context.Background(), run))
	assert.Empty(t, r.RequiredTools(context.Background(), run))
}

func TestOverrideRequiresOnAnyAgent(t *testing.T) {
	props := properties.NewMap(map[string]string{ProvideToAllAgents: "true"})
	r := NewResolver(installed, props, nil)
	run := build.Run{ID: "2", Agent: build.Agent{OSName: "Linux"}}
	assert.True(t, r.IsRequired(context.Background(), run))
	assert.Equal(t, []handle.Version{handle.SingleVersion}, r.RequiredTools(context.Background(), run))
}

func TestOverrideIsReadPerCall(t *testing.T) {
	props := properties.NewMap(nil)
	r := NewResolver(installed, props, nil)
	run := build.Run{Agent: build.Agent{OSName: "Mac OS X"}}
	require.False(t, r.IsRequired(context.Background(), run))
	props.Set(ProvideToAllAgents, "true")
	require.True(t, r.IsRequired(context.Background(), run))
}

func TestNonWindowsAgentNotRequired(t *testing.T) {
	r := NewResolver(installed, nil, nil)
	run := windowsRun(map[string]string{feature.LockingProcesses: "kill"})
	run.Agent.OSName = "Linux"
	assert.False(t, r.IsRequired(context.Background(), run))
}

func TestFeatureParameterEnablesTool(t *testing.T) {
	r := NewResolver(installed, nil, nil)
	assert.True(t, r.IsRequired(context.Background(), windowsRun(map[string]string{feature.LockingProcesses: "report"})))
	assert.False(t, r.IsRequired(context.Background(), windowsRun(map[string]string{feature.LockingProcesses: "no"})))
	assert.False(t, r.IsRequired(context.Background(), windowsRun(nil)))
}

func TestOwnParametersWinOverAgentAndFeature(t *testing.T) {
	r := NewResolver(installed, nil, nil)
	run := windowsRun(map[string]string{feature.LockingProcesses: "kill"})
	run.Agent.ConfigurationParameters = map[string]string{feature.LockingProcesses: "no"}
	assert.False(t, r.IsRequired(context.Background(), run), "agent parameter overrides feature")

	run.OwnParameters = map[string]string{feature.LockingProcesses: "kill"}
	assert.True(t, r.IsRequired(context.Background(), run), "own parameter overrides agent")
}

func TestOnlyFirstFeatureIsMerged(t *testing.T) {
	run := windowsRun(map[string]string{feature.LockingProcesses: "no"})
	run.Features = append(run.Features, build.Feature{Type: feature.Type, Parameters: map[string]string{feature.LockingProcesses: "kill"}})
	run.Features = append([]build.Feature{{Type: "other", Parameters: map[string]string{"x": "y"}}}, run.Features...)
	merged := MergedParameters(run)
	assert.Equal(t, "no", merged[feature.LockingProcesses])
	assert.NotContains(t, merged, "x")
}

func TestCompatibleWithAgent(t *testing.T) {
	cases := []struct {
		name   string
		agent  build.Agent
		expect bool
	}{
		{"windows server", build.Agent{OSName: "Windows Server 2019"}, true},
		{"win prefix", build.Agent{OSName: "win32"}, true},
		{"windows nt", build.Agent{OSName: "Windows_NT"}, true},
		{"contains windows", build.Agent{OSName: "Microsoft Windows"}, true},
		{"linux", build.Agent{OSName: "Linux"}, false},
		{"darwin", build.Agent{OSName: "Darwin"}, false},
		{"unknown uses type os", build.Agent{OSName: "N/A", TypeOSName: "Linux"}, false},
		{"unknown marker any case", build.Agent{OSName: "<UNKNOWN>", TypeOSName: "Windows 11"}, true},
		{"empty falls back", build.Agent{TypeOSName: "linux"}, false},
		{"both unknown", build.Agent{OSName: "", TypeOSName: "n/a"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, CompatibleWithAgent(tc.agent))
		})
	}
}
