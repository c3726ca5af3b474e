// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)

// Package config loads the engine configuration from YAML or JSON files.
//
// Files are validated against an embedded CUE schema that also supplies the
// defaults. Environment variables are substituted before parsing:
//
//	users:
//	  - name: monitor
//	    authProtocol: sha256
//	    authPassphrase: "${SNMP_AUTH_PASS}"
//	    privProtocol: aes
//	    privPassphrase: "${SNMP_PRIV_PASS:-changeme123}"
//
// Load returns a typed Config; its methods convert the sections into the
// values taken by PowerSNMP.NewEngine and the Engine's table operations.
// Watcher reloads the file on change.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource string

// Supported file formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported config format")
	ErrInvalid           = errors.New("invalid configuration")
)

// Config is the decoded configuration file.
type Config struct {
	Engine      EngineSection     `json:"engine"`
	Logging     LoggingSection    `json:"logging"`
	Transports  []TransportConfig `json:"transports"`
	Users       []UserConfig      `json:"users"`
	Communities []CommunityConfig `json:"communities"`
	Targets     []TargetConfig    `json:"targets"`
	Responder   ResponderSection  `json:"responder"`
	Status      StatusSection     `json:"status"`
	Capture     CaptureSection    `json:"capture"`
}

type EngineSection struct {
	EngineID         string `json:"engineID,omitempty"`
	BootsFile        string `json:"bootsFile,omitempty"`
	PollInterval     string `json:"pollInterval"`
	DisableDiscovery bool   `json:"disableDiscovery"`
	TimelineTTL      string `json:"timelineTTL"`
	TimelineCapacity int    `json:"timelineCapacity"`
	MaxMsgSize       int    `json:"maxMsgSize"`
	DefaultTimeout   string `json:"defaultTimeout"`
	DefaultRetries   int    `json:"defaultRetries"`
}

type LoggingSection struct {
	Level     string `json:"level"`
	Format    string `json:"format"`
	Output    string `json:"output"`
	AddSource bool   `json:"addSource"`
}

// TransportConfig opens one transport domain. Address makes it a server.
type TransportConfig struct {
	Domain    string      `json:"domain"`
	Address   string      `json:"address,omitempty"`
	ReuseAddr bool        `json:"reuseAddr"`
	DTLS      *DTLSConfig `json:"dtls,omitempty"`
}

// DTLSConfig selects pre-shared key or certificate authentication.
type DTLSConfig struct {
	PSKIdentity        string `json:"pskIdentity,omitempty"`
	PSK                string `json:"psk,omitempty"`
	CertFile           string `json:"certFile,omitempty"`
	KeyFile            string `json:"keyFile,omitempty"`
	CAFile             string `json:"caFile,omitempty"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify"`
}

type UserConfig struct {
	Name           string `json:"name"`
	EngineID       string `json:"engineID,omitempty"`
	AuthProtocol   string `json:"authProtocol"`
	AuthPassphrase string `json:"authPassphrase,omitempty"`
	PrivProtocol   string `json:"privProtocol"`
	PrivPassphrase string `json:"privPassphrase,omitempty"`
}

type CommunityConfig struct {
	Name         string `json:"name,omitempty"`
	Community    string `json:"community"`
	SecurityName string `json:"securityName,omitempty"`
	Access       string `json:"access"`
	ContextName  string `json:"contextName"`
}

type TargetConfig struct {
	Name          string `json:"name"`
	Domain        string `json:"domain"`
	Address       string `json:"address"`
	Version       any    `json:"version"`
	Community     string `json:"community,omitempty"`
	SecurityName  string `json:"securityName,omitempty"`
	SecurityLevel string `json:"securityLevel"`
	EngineID      string `json:"engineID,omitempty"`
	ContextName   string `json:"contextName"`
	Timeout       string `json:"timeout,omitempty"`
	Retries       int    `json:"retries,omitempty"`
	MaxMsgSize    int    `json:"maxMsgSize,omitempty"`
}

type ResponderSection struct {
	Enabled bool           `json:"enabled"`
	Objects []ObjectConfig `json:"objects"`
}

// ObjectConfig is one scalar served by the command responder.
type ObjectConfig struct {
	OID      string `json:"oid"`
	Type     string `json:"type"`
	Value    any    `json:"value"`
	ReadOnly bool   `json:"readOnly"`
}

type StatusSection struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

type CaptureSection struct {
	File string `json:"file,omitempty"`
}

var (
	schemaOnce  sync.Once
	schemaCtx   *cue.Context
	schemaValue cue.Value
	schemaErr   error
)

// schema compiles the embedded schema once. cue.Context is not safe for
// concurrent use, so callers hold schemaMu.
func schema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("failed to compile CUE schema: %w", err)
			return
		}
		schemaValue = v.LookupPath(cue.ParsePath("#Config"))
		schemaErr = schemaValue.Err()
	})
	return schemaCtx, schemaValue, schemaErr
}

var schemaMu sync.Mutex

// Load reads, expands and validates the file at path. The format follows the
// extension: .yaml, .yml or .json.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	content, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}
	format, err := FormatOf(cleanPath)
	if err != nil {
		return nil, err
	}
	return parse(content, format, cleanPath)
}

// Parse validates content given in format.
func Parse(content []byte, format string) (*Config, error) {
	return parse(content, format, "config."+format)
}

// FormatOf maps a file extension to a format.
func FormatOf(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s (supported: .yaml, .yml, .json)", ErrUnsupportedFormat, ext)
	}
}

func parse(content []byte, format, filename string) (*Config, error) {
	content = expandEnvironmentVariables(content)

	schemaMu.Lock()
	defer schemaMu.Unlock()
	ctx, sch, err := schema()
	if err != nil {
		return nil, err
	}

	var data cue.Value
	switch format {
	case FormatYAML:
		if strings.TrimSpace(string(content)) == "" {
			data = ctx.CompileString("{}")
			break
		}
		f, err := yaml.Extract(filename, content)
		if err != nil {
			return nil, fmt.Errorf("failed to extract YAML config: %w", err)
		}
		data = ctx.BuildFile(f)
	case FormatJSON:
		data = ctx.CompileBytes(content, cue.Filename(filename))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err := data.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse %s config: %w", format, err)
	}

	unified := sch.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	cfg := &Config{}
	if err := unified.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.check(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, nil
}

// check covers the cross-field rules the schema does not express.
func (c *Config) check() error {
	var errs []error
	seen := make(map[string]bool)
	for _, t := range c.Targets {
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("target %s: duplicate name", t.Name))
		}
		seen[t.Name] = true
		if t.version() == "3" && t.SecurityName == "" {
			errs = append(errs, fmt.Errorf("target %s: securityName is required for version 3", t.Name))
		}
	}
	for _, u := range c.Users {
		if u.AuthProtocol == "none" && u.PrivProtocol != "none" {
			errs = append(errs, fmt.Errorf("user %s: privacy requires authentication", u.Name))
		}
		if u.AuthProtocol != "none" && u.AuthPassphrase == "" {
			errs = append(errs, fmt.Errorf("user %s: authPassphrase is required", u.Name))
		}
		if u.PrivProtocol != "none" && u.PrivPassphrase == "" {
			errs = append(errs, fmt.Errorf("user %s: privPassphrase is required", u.Name))
		}
	}
	for _, tc := range c.Transports {
		if tc.Domain == "unix" && tc.ReuseAddr {
			errs = append(errs, errors.New("transport unix: reuseAddr applies to UDP only"))
		}
		if tc.Domain == "dtls" && tc.Address != "" && (tc.DTLS == nil || (tc.DTLS.PSK == "" && tc.DTLS.CertFile == "")) {
			errs = append(errs, errors.New("transport dtls: a server needs a psk or a certificate"))
		}
	}
	return errors.Join(errs...)
}

// expandEnvironmentVariables replaces ${VAR:-default} first, then $VAR and
// ${VAR} through os.ExpandEnv.
func expandEnvironmentVariables(content []byte) []byte {
	return []byte(os.ExpandEnv(expandWithDefaults(string(content))))
}

func expandWithDefaults(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start
		expr := content[start+2 : end]
		name, def, ok := strings.Cut(expr, ":-")
		b.WriteString(content[:start])
		if ok {
			if v := os.Getenv(name); v != "" {
				b.WriteString(v)
			} else {
				b.WriteString(def)
			}
		} else {
			// left for os.ExpandEnv
			b.WriteString(content[start : end+1])
		}
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
