package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "api:\n  addr: \":9090\"\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.API.Addr)
	assert.Equal(t, "redis", cfg.Streams.Backend)
	assert.Equal(t, 1, cfg.Streams.Shards)
	assert.Equal(t, 2*time.Second, cfg.Streams.Block)

	s, err := cfg.Fees.Schedule()
	require.NoError(t, err)
	assert.Equal(t, "0.02", s.RootRate.String())
	assert.Equal(t, "0.2", s.TaxSharePayer.String())
}

func TestLoadNodesAndOverrides(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
streams:
  backend: memory
  shards: 4
  claimIdle: 5s
fees:
  nodeRate: "0.01"
trust:
  rootSeed: "`+strings.Repeat("ab", 32)+`"
  nodes:
    - id: n1
      providers: [p1, p2]
    - id: n2
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.Streams.Shards)
	assert.Equal(t, 5*time.Second, cfg.Streams.ClaimIdle)
	require.Len(t, cfg.Trust.Nodes, 2)
	assert.Equal(t, []string{"p1", "p2"}, cfg.Trust.Nodes[0].Providers)
	seed, err := cfg.Trust.Seed()
	require.NoError(t, err)
	assert.Len(t, seed, 32)
	s, err := cfg.Fees.Schedule()
	require.NoError(t, err)
	assert.Equal(t, "0.01", s.NodeRate.String())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"tax shares":  "fees:\n  taxSharePayer: \"0.3\"\n",
		"bad decimal": "fees:\n  rootRate: two\n",
		"backend":     "streams:\n  backend: kafka\n",
		"short seed":  "trust:\n  rootSeed: abcd\n",
		"dup node":    "trust:\n  nodes:\n    - id: n1\n    - id: n1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := config.Load(writeConfig(t, body))
			require.NoError(t, err)
			assert.Error(t, cfg.Validate())
		})
	}
}
