// Package config reads server and client settings from INFER_* environment
// variables and command-line flags. Flags override the environment.
package config

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"bfv-inference/he"
	"bfv-inference/precision"
	"bfv-inference/server"
)

// Lookup reads one environment variable; os.LookupEnv satisfies it.
type Lookup func(key string) (string, bool)

// Model sources.
const (
	SourceCSV   = "csv"
	SourceMySQL = "mysql"
)

// Transports.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Server holds evaluator settings.
type Server struct {
	Addr     string
	GRPCAddr string
	CertFile string
	KeyFile  string

	ModelSource string
	ModelDir    string
	MySQLDSN    string
	Precision   int64

	MaxBodySize   int64
	MaxConcurrent int
	Workers       int
	Preset        string
}

// DefaultServer returns the settings used when nothing is configured.
func DefaultServer() Server {
	return Server{
		Addr:          ":8080",
		CertFile:      "server.crt",
		KeyFile:       "server.key",
		ModelSource:   SourceCSV,
		ModelDir:      "models",
		Precision:     precision.Default,
		MaxBodySize:   server.DefaultMaxBodySize,
		MaxConcurrent: runtime.NumCPU(),
		Workers:       runtime.NumCPU(),
	}
}

func (c *Server) loadEnv(lookup Lookup) error {
	envString(lookup, "INFER_ADDR", &c.Addr)
	envString(lookup, "INFER_GRPC_ADDR", &c.GRPCAddr)
	envString(lookup, "INFER_TLS_CERT", &c.CertFile)
	envString(lookup, "INFER_TLS_KEY", &c.KeyFile)
	envString(lookup, "INFER_MODEL_SOURCE", &c.ModelSource)
	envString(lookup, "INFER_MODEL_DIR", &c.ModelDir)
	envString(lookup, "INFER_MYSQL_DSN", &c.MySQLDSN)
	envString(lookup, "INFER_PARAMS", &c.Preset)
	if err := envInt64(lookup, "INFER_PRECISION", &c.Precision); err != nil {
		return err
	}
	if err := envInt64(lookup, "INFER_MAX_BODY", &c.MaxBodySize); err != nil {
		return err
	}
	if err := envInt(lookup, "INFER_MAX_CONCURRENT", &c.MaxConcurrent); err != nil {
		return err
	}
	return envInt(lookup, "INFER_WORKERS", &c.Workers)
}

func (c *Server) registerFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "HTTP listen address")
	fs.StringVar(&c.GRPCAddr, "grpc-addr", c.GRPCAddr, "gRPC listen address (disabled when empty)")
	fs.StringVar(&c.CertFile, "cert", c.CertFile, "TLS certificate file")
	fs.StringVar(&c.KeyFile, "key", c.KeyFile, "TLS key file")
	fs.StringVar(&c.ModelSource, "models", c.ModelSource, "model source: csv or mysql")
	fs.StringVar(&c.ModelDir, "model-dir", c.ModelDir, "directory of <Name>.csv weight files")
	fs.StringVar(&c.MySQLDSN, "mysql-dsn", c.MySQLDSN, "MySQL DSN for the model store")
	fs.Int64Var(&c.Precision, "precision", c.Precision, "weight precision factor for CSV models")
	fs.Int64Var(&c.MaxBodySize, "max-body", c.MaxBodySize, "maximum request size in bytes")
	fs.IntVar(&c.MaxConcurrent, "max-concurrent", c.MaxConcurrent, "inferences computed at once")
	fs.IntVar(&c.Workers, "workers", c.Workers, "engine workers per inference")
	fs.StringVar(&c.Preset, "params", c.Preset, "HE parameter preset: default or compact")
}

// Validate rejects settings the server cannot start with.
func (c *Server) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address must be set")
	}
	switch c.ModelSource {
	case SourceCSV:
		if c.ModelDir == "" {
			return fmt.Errorf("model directory must be set for the csv source")
		}
	case SourceMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("MySQL DSN must be set for the mysql source")
		}
	default:
		return fmt.Errorf("model source must be %q or %q, got %q", SourceCSV, SourceMySQL, c.ModelSource)
	}
	if err := precision.Validate(c.Precision); err != nil {
		return err
	}
	if c.MaxBodySize <= 0 {
		return fmt.Errorf("max body size must be positive")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	_, err := he.Preset(c.Preset)
	return err
}

// LoadServer builds server settings from defaults, the environment and args.
func LoadServer(name string, args []string, lookup Lookup) (Server, error) {
	c := DefaultServer()
	if err := c.loadEnv(lookup); err != nil {
		return c, err
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	c.registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// Client holds key-holder settings.
type Client struct {
	ServerURL string
	GRPCAddr  string
	Transport string

	Model     string
	Input     string
	Precision int64
	KeyOut    string
	Preset    string
	MinBudget int
}

// DefaultClient returns the settings used when nothing is configured.
func DefaultClient() Client {
	return Client{
		ServerURL: "http://localhost:8080",
		GRPCAddr:  "localhost:9090",
		Transport: TransportHTTP,
	}
}

func (c *Client) loadEnv(lookup Lookup) error {
	envString(lookup, "INFER_SERVER_URL", &c.ServerURL)
	envString(lookup, "INFER_GRPC_ADDR", &c.GRPCAddr)
	envString(lookup, "INFER_TRANSPORT", &c.Transport)
	envString(lookup, "INFER_MODEL", &c.Model)
	envString(lookup, "INFER_INPUT", &c.Input)
	envString(lookup, "INFER_PUBLIC_KEY_OUT", &c.KeyOut)
	envString(lookup, "INFER_PARAMS", &c.Preset)
	if err := envInt64(lookup, "INFER_PRECISION", &c.Precision); err != nil {
		return err
	}
	return envInt(lookup, "INFER_MIN_BUDGET", &c.MinBudget)
}

func (c *Client) registerFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ServerURL, "server", c.ServerURL, "evaluator base URL")
	fs.StringVar(&c.GRPCAddr, "grpc-addr", c.GRPCAddr, "evaluator gRPC address")
	fs.StringVar(&c.Transport, "transport", c.Transport, "transport: http or grpc")
	fs.StringVar(&c.Model, "model", c.Model, "model name")
	fs.StringVar(&c.Input, "input", c.Input, "CSV file of feature rows")
	fs.Int64Var(&c.Precision, "precision", c.Precision, "feature precision factor (0 uses the model's)")
	fs.StringVar(&c.KeyOut, "public-key-out", c.KeyOut, "write the session public key to this file")
	fs.StringVar(&c.Preset, "params", c.Preset, "HE parameter preset: default or compact")
	fs.IntVar(&c.MinBudget, "min-budget", c.MinBudget, "refuse results at or below this noise budget")
}

// Validate rejects settings the client cannot run with.
func (c *Client) Validate() error {
	switch c.Transport {
	case TransportHTTP:
		if c.ServerURL == "" {
			return fmt.Errorf("server URL must be set for the http transport")
		}
	case TransportGRPC:
		if c.GRPCAddr == "" {
			return fmt.Errorf("gRPC address must be set for the grpc transport")
		}
	default:
		return fmt.Errorf("transport must be %q or %q, got %q", TransportHTTP, TransportGRPC, c.Transport)
	}
	if c.Model == "" {
		return fmt.Errorf("model name must be set")
	}
	if c.Input == "" {
		return fmt.Errorf("input file must be set")
	}
	if c.Precision < 0 {
		return fmt.Errorf("precision must not be negative")
	}
	if c.MinBudget < 0 {
		return fmt.Errorf("min budget must not be negative")
	}
	_, err := he.Preset(c.Preset)
	return err
}

// LoadClient builds client settings from defaults, the environment and args.
func LoadClient(name string, args []string, lookup Lookup) (Client, error) {
	c := DefaultClient()
	if err := c.loadEnv(lookup); err != nil {
		return c, err
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	c.registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// Environ is the Lookup for the process environment.
func Environ() Lookup { return os.LookupEnv }

func envString(lookup Lookup, key string, dst *string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func envInt64(lookup Lookup, key string, dst *int64) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envInt(lookup Lookup, key string, dst *int) error {
	n := int64(*dst)
	if err := envInt64(lookup, key, &n); err != nil {
		return err
	}
	*dst = int(n)
	return nil
}
