package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaredwolff/patina/internal/config"
)

func cliTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.WorkspacePath = filepath.Join(dir, "workspace")
	cfg.Providers = []config.ProviderProfile{
		{Provider: "anthropic", APIKey: "sk-ant-test-key"},
	}
	return cfg
}

func TestNewCLIRuntime(t *testing.T) {
	rt, err := newCLIRuntime(cliTestConfig(t))
	require.NoError(t, err)
	defer rt.Close()

	assert.NotNil(t, rt.loop)
	assert.NotNil(t, rt.store)
}

func TestNewCLIRuntimeRequiresProvider(t *testing.T) {
	cfg := cliTestConfig(t)
	cfg.Providers = nil

	_, err := newCLIRuntime(cfg)
	assert.ErrorContains(t, err, "no model providers")
}

func TestProviderFromConfigPicksLowestPriority(t *testing.T) {
	cfg := cliTestConfig(t)
	cfg.Providers = []config.ProviderProfile{
		{Provider: "openai", APIKey: "sk-x", Priority: 5},
		{Provider: "anthropic", APIKey: "sk-ant-x", Priority: 1},
	}

	p, err := providerFromConfig(cfg)
	require.NoError(t, err)
	assert.NotNil(t, p)
}
