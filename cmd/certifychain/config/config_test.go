package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/certifychain/certifychain/storage"
)

const minimalConfig = `
external_url: https://certs.example.edu/
storage:
  data_dir: /tmp
chain:
  role_registry: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
  token: "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
  wallet:
    private_key: "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
pinning:
  backend: local
auth:
  secret: "0123456789abcdef0123456789abcdef"
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://certs.example.edu", c.ExternalURL)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, storage.DriverSQLite, c.Storage.Driver)
	assert.Equal(t, DefaultRPCURL, c.Chain.RPCURL)
	assert.Equal(t, int64(DefaultChainID), c.Chain.ChainIDInt().Int64())
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", c.Chain.RoleRegistryAddress().Hex())
	assert.Equal(t, 2*time.Minute, c.Chain.WriteTimeout.Duration())
	assert.Equal(t, "https://certs.example.edu", c.Pinning.Local.Gateway)
	assert.Equal(t, "https://certs.example.edu", c.Issuance.PublicBaseURL)
	assert.Equal(t, c.Issuance.PublicBaseURL, c.Issuance.ExternalURL)
	assert.Equal(t, 2*time.Hour, c.Issuance.WorkflowConfig().RunLifetime)
	assert.True(t, c.Issuance.VerifyTokenURI)

	auth := c.Auth.AuthConfig()
	assert.Equal(t, "HS256", auth.Algorithm.String())
	assert.Equal(t, 12*time.Hour, auth.SessionLifetime)
	assert.Len(t, auth.Secret, 32)

	w, err := c.Chain.LoadWallet(nil)
	require.NoError(t, err)
	_, ok := w.CurrentAddress()
	assert.True(t, ok)
}

func TestParseOverrides(t *testing.T) {
	c, err := Parse(
		[]byte(minimalConfig + `
issuance:
  public_base_url: https://verify.example.edu
  step_timeout: 10s
composer:
  width: 1086
  height: 768
`),
	)
	require.NoError(t, err)
	assert.Equal(t, "https://verify.example.edu", c.Issuance.PublicBaseURL)
	assert.Equal(t, 10*time.Second, c.Issuance.StepTimeout.Duration())
	opts := c.Composer.Options()
	assert.Equal(t, 1086, opts.Width)
	assert.Equal(t, 768, opts.Height)
	assert.Equal(t, "02/01/2006", opts.DateLayout)
}

func TestParseEnvironment(t *testing.T) {
	t.Setenv("CERTIFYCHAIN_AUTH_SECRET", "fedcba9876543210fedcba9876543210xx")
	t.Setenv("CERTIFYCHAIN_CHAIN_RPC_URL", "http://localhost:8545")
	c, err := Parse([]byte(minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "fedcba9876543210fedcba9876543210xx", c.Auth.Secret)
	assert.Equal(t, "http://localhost:8545", c.Chain.RPCURL)
}

func TestParseStorageDSN(t *testing.T) {
	data := strings.Replace(
		minimalConfig, "  data_dir: /tmp\n",
		"  driver: postgres\n  host: db.internal\n  password: s3cret\n", 1,
	)
	c, err := Parse([]byte(data))
	require.NoError(t, err)
	assert.Equal(
		t, "host=db.internal user=certifychain password=s3cret dbname=certifychain port=5432", c.Storage.DSN,
	)
}

// withValue returns minimalConfig with the value at the dot separated path
// replaced
func withValue(t *testing.T, path string, value any) []byte {
	t.Helper()
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(minimalConfig), &doc))
	keys := strings.Split(path, ".")
	m := doc
	for _, k := range keys[:len(keys)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[k] = next
		}
		m = next
	}
	m[keys[len(keys)-1]] = value
	data, err := yaml.Marshal(doc)
	require.NoError(t, err)
	return data
}

func TestParseRejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		value any
	}{
		{"short secret", "auth.secret", "short"},
		{"asymmetric algorithm", "auth.alg", "ES256"},
		{"unknown algorithm", "auth.alg", "none-such"},
		{"invalid token address", "chain.token", "not-an-address"},
		{"two wallets", "chain.wallet.keystore", "config_test.go"},
		{"missing keystore", "chain.wallet", map[string]any{"keystore": "/no/such/keystore.json"}},
		{"no chain id", "chain.chain_id", 0},
		{"pinata without jwt", "pinning.backend", "pinata"},
		{"unknown pinning backend", "pinning.backend", "s3"},
		{"unknown driver", "storage.driver", "oracle"},
		{"missing logging dir", "logging.internal.dir", "/no/such/dir"},
		{"missing external url", "external_url", ""},
	}
	for _, test := range tests {
		t.Run(
			test.name, func(t *testing.T) {
				_, err := Parse(withValue(t, test.path, test.value))
				assert.Error(t, err)
			},
		)
	}
}
