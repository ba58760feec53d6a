package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
host = "mq.internal"
port = 4152
version = "v2"
enforce_features = true
response_wait = "750ms"
response_interval = "50ms"

[features]
snappy = true
tls_v1 = true
`))
	require.NoError(t, err)

	assert.Equal(t, "mq.internal", cfg.Host)
	assert.Equal(t, 4152, cfg.Port)
	assert.True(t, cfg.EnforceFeatures)
	assert.Equal(t, true, cfg.Features["snappy"])
	assert.Equal(t, true, cfg.Features["tls_v1"])

	opts := cfg.ConnectionOptions()
	assert.Equal(t, 750*time.Millisecond, opts.ResponseWait)
	assert.Equal(t, 50*time.Millisecond, opts.ResponseInterval)
	assert.Zero(t, opts.ErrorWait, "unset durations stay zero for the connection defaults")
}

func TestTLSKnobs(t *testing.T) {
	cfg, err := Parse([]byte(`
host = "mq.internal"

[tls]
insecure_skip_verify = true
`))
	require.NoError(t, err)

	opts := cfg.ConnectionOptions()
	require.NotNil(t, opts.TLSConfig)
	assert.True(t, opts.TLSConfig.InsecureSkipVerify)
	assert.Equal(t, "mq.internal", opts.TLSConfig.ServerName, "server name falls back to the host")

	bare, err := Parse([]byte(`host = "mq.internal"`))
	require.NoError(t, err)
	assert.Nil(t, bare.ConnectionOptions().TLSConfig)
}

func TestDefaultPort(t *testing.T) {
	cfg, err := Parse([]byte(`host = "localhost"`))
	require.NoError(t, err)
	assert.Equal(t, 4150, cfg.Port)
}

func TestValidation(t *testing.T) {
	_, err := Parse([]byte(`port = 4150`))
	assert.ErrorContains(t, err, "missing host")

	_, err = Parse([]byte("host = \"x\"\nport = 70000"))
	assert.ErrorContains(t, err, "out of range")

	_, err = Parse([]byte("host = \"x\"\nversion = \"toolong\""))
	assert.ErrorContains(t, err, "longer than 4 bytes")
}

func TestBadDuration(t *testing.T) {
	_, err := Parse([]byte("host = \"x\"\nresponse_wait = \"soon\""))
	assert.Error(t, err)
}
