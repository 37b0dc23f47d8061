package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) Lookup {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestLoadServerDefaults(t *testing.T) {
	c, err := LoadServer("server", nil, env(nil))
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, SourceCSV, c.ModelSource)
	assert.Equal(t, int64(1000), c.Precision)
	assert.Equal(t, int64(64*1024*1024), c.MaxBodySize)
	assert.Empty(t, c.GRPCAddr)
}

func TestLoadServerFlagsOverrideEnv(t *testing.T) {
	c, err := LoadServer("server", []string{"-addr", ":9000", "-workers", "3"}, env(map[string]string{
		"INFER_ADDR":         ":7000",
		"INFER_GRPC_ADDR":    ":9090",
		"INFER_MODEL_SOURCE": "mysql",
		"INFER_MYSQL_DSN":    "u:p@tcp(db:3306)/models",
		"INFER_WORKERS":      "8",
		"INFER_PARAMS":       "compact",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":9000", c.Addr)
	assert.Equal(t, ":9090", c.GRPCAddr)
	assert.Equal(t, SourceMySQL, c.ModelSource)
	assert.Equal(t, 3, c.Workers)
	assert.Equal(t, "compact", c.Preset)
}

func TestLoadServerInvalid(t *testing.T) {
	tests := map[string]struct {
		args []string
		vars map[string]string
	}{
		"bad env int":        {vars: map[string]string{"INFER_WORKERS": "many"}},
		"unknown source":     {args: []string{"-models", "s3"}},
		"mysql without dsn":  {args: []string{"-models", "mysql"}},
		"zero precision":     {args: []string{"-precision", "0"}},
		"negative body":      {args: []string{"-max-body", "-1"}},
		"unknown preset":     {args: []string{"-params", "huge"}},
		"unknown flag":       {args: []string{"-nope"}},
		"zero max in flight": {vars: map[string]string{"INFER_MAX_CONCURRENT": "0"}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadServer("server", tc.args, env(tc.vars))
			assert.Error(t, err)
		})
	}
}

func TestLoadClient(t *testing.T) {
	c, err := LoadClient("client", []string{"-model", "FinancialFraud", "-input", "x.csv"}, env(map[string]string{
		"INFER_PRECISION":      "100",
		"INFER_TRANSPORT":      "grpc",
		"INFER_PUBLIC_KEY_OUT": "session.pub",
	}))
	require.NoError(t, err)
	assert.Equal(t, TransportGRPC, c.Transport)
	assert.Equal(t, "localhost:9090", c.GRPCAddr)
	assert.Equal(t, int64(100), c.Precision)
	assert.Equal(t, "session.pub", c.KeyOut)

	_, err = LoadClient("client", []string{"-input", "x.csv"}, env(nil))
	assert.Error(t, err)

	_, err = LoadClient("client", []string{"-model", "M", "-input", "x.csv", "-transport", "ws"}, env(nil))
	assert.Error(t, err)

	_, err = LoadClient("client", []string{"-model", "M", "-input", "x.csv", "-min-budget", "-2"}, env(nil))
	assert.Error(t, err)
}
