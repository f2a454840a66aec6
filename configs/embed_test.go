package configs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/recyclix/internal/config"
)

func TestProjectConfigTemplate_IsValidConfig(t *testing.T) {
	// Given: the embedded template
	require.NotEmpty(t, ProjectConfigTemplate)

	// When: decoding it over the defaults
	cfg := config.NewConfig()
	require.NoError(t, yaml.Unmarshal([]byte(ProjectConfigTemplate), cfg))

	// Then: it validates and matches the built-in defaults where they overlap
	require.NoError(t, cfg.Validate())
	defaults := config.NewConfig()
	assert.Equal(t, defaults.Index, cfg.Index)
	assert.Equal(t, defaults.Commit, cfg.Commit)
	assert.Equal(t, defaults.Ingest, cfg.Ingest)
	assert.Equal(t, defaults.Server, cfg.Server)
	assert.Equal(t, "id", cfg.Schema.PrimaryKey)
}
