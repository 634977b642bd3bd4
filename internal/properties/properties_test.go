package properties

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapDefaultsAndParsing(t *testing.T) {
	m := NewMap(map[string]string{
		"flag":   "true",
		"bad":    "maybe",
		"period": "1000",
		"nan":    "ten",
	})
	assert.True(t, m.Bool("flag", false))
	assert.False(t, m.Bool("bad", false))
	assert.True(t, m.Bool("missing", true))
	assert.Equal(t, int64(1000), m.Int64("period", 5))
	assert.Equal(t, int64(5), m.Int64("nan", 5))
	assert.Equal(t, "x", m.String("missing", "x"))

	m.Set("flag", "false")
	assert.False(t, m.Bool("flag", true))
}

func TestViperDottedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swabra.toml")
	content := `
[properties]
"teamcity.tools.provideHandleToolToAllAgents" = true
"teamcity.healthStatus.swabra.clean.checkout.builds.storage.period" = "86400000"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	require.NoError(t, v.ReadInConfig())

	p := NewViper(v, "")
	assert.True(t, p.Bool("teamcity.tools.provideHandleToolToAllAgents", false))
	assert.Equal(t, int64(86400000), p.Int64("teamcity.healthStatus.swabra.clean.checkout.builds.storage.period", 1))
	assert.Equal(t, int64(7), p.Int64("absent", 7))
}

func writeProps(t *testing.T, path string, provide bool, period int) {
	t.Helper()
	content := fmt.Sprintf(`
[properties]
"teamcity.tools.provideHandleToolToAllAgents" = %t
"teamcity.healthStatus.swabra.clean.checkout.builds.storage.period" = "%d"
`, provide, period)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func openViper(t *testing.T, path string) *Viper {
	t.Helper()
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	require.NoError(t, v.ReadInConfig())
	return NewViper(v, "")
}

func TestViperReloadKeepsValuesOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swabra.toml")
	writeProps(t, path, true, 1000)
	p := openViper(t, path)

	writeProps(t, path, false, 2000)
	require.NoError(t, p.Reload())
	assert.False(t, p.Bool("teamcity.tools.provideHandleToolToAllAgents", true))
	assert.Equal(t, int64(2000), p.Int64("teamcity.healthStatus.swabra.clean.checkout.builds.storage.period", 1))

	require.NoError(t, os.WriteFile(path, []byte("[properties\n"), 0o600))
	assert.Error(t, p.Reload())
	assert.Equal(t, int64(2000), p.Int64("teamcity.healthStatus.swabra.clean.checkout.builds.storage.period", 1))

	assert.Error(t, NewViper(viper.New(), "").Reload(), "nothing to reload without a file")
}

// Run with -race: reads must never observe the watcher's decoding.
func TestViperWatchWhileReading(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swabra.toml")
	writeProps(t, path, false, 1)
	p := openViper(t, path)
	require.NoError(t, p.Watch(nil))
	defer func() { assert.NoError(t, p.Close()) }()
	assert.Error(t, p.Watch(nil), "second watch must fail")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				p.Bool("teamcity.tools.provideHandleToolToAllAgents", false)
				p.Int64("teamcity.healthStatus.swabra.clean.checkout.builds.storage.period", 0)
			}
		}()
	}
	for i := 0; i < 40; i++ {
		writeProps(t, path, i%2 == 0, i)
		time.Sleep(5 * time.Millisecond)
	}
	writeProps(t, path, true, 4242)

	assert.Eventually(t, func() bool {
		return p.Int64("teamcity.healthStatus.swabra.clean.checkout.builds.storage.period", 0) == 4242 &&
			p.Bool("teamcity.tools.provideHandleToolToAllAgents", false)
	}, 5*time.Second, 20*time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestViperCloseWithoutWatch(t *testing.T) {
	assert.NoError(t, NewViper(viper.New(), "").Close())
	assert.Error(t, NewViper(viper.New(), "").Watch(nil))
}
