package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go-php-cli/protocol"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DisabledFunctions are switched off in the interpreter because the shim
// supplies replacements for them.
var DisabledFunctions = []string{
	"header",
	"header_remove",
	"headers_list",
	"headers_sent",
	"http_response_code",
	"getenv",
}

// Config controls how requests are turned into child processes.
type Config struct {
	// Interpreter is the binary spawned for every request.
	Interpreter string `json:"interpreter" yaml:"interpreter"`
	// Prelude is passed to the interpreter as auto_prepend_file.
	Prelude string `json:"prelude" yaml:"prelude"`
	// DocumentRoot is the child's working directory and the base for
	// URL-derived script paths.
	DocumentRoot string `json:"document_root" yaml:"document_root"`
	// DefaultScript runs when the URL path does not name a script.
	DefaultScript    string   `json:"default_script" yaml:"default_script"`
	ScriptExtensions []string `json:"script_extensions" yaml:"script_extensions"`

	TimeoutMs     int `json:"timeout_ms" yaml:"timeout_ms"`
	IdleTimeoutMs int `json:"idle_timeout_ms" yaml:"idle_timeout_ms"`

	RequestOrder string `json:"request_order" yaml:"request_order"`

	ServerName     string `json:"server_name" yaml:"server_name"`
	ServerSoftware string `json:"server_software" yaml:"server_software"`
	RemoteAddr     string `json:"remote_addr" yaml:"remote_addr"`

	// Env is added to the parent's environment for every child.
	Env map[string]string `json:"env" yaml:"env"`
}

// DefaultConfig returns the configuration used when no file is given or a
// value in it is invalid.
func DefaultConfig() *Config {
	return &Config{
		Interpreter:      "php",
		Prelude:          "",
		DocumentRoot:     ".",
		DefaultScript:    "index.php",
		ScriptExtensions: []string{".php"},
		TimeoutMs:        30000, // 30s
		IdleTimeoutMs:    0,
		RequestOrder:     protocol.DefaultRequestOrder,
		ServerName:       "localhost",
		ServerSoftware:   "go-php-cli",
		RemoteAddr:       "127.0.0.1",
		Env:              map[string]string{},
	}
}

// Timeout is the per-request deadline, 0 for none.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// IdleTimeout kills a child that produced no output for this long, 0 for none.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}

func (c *Config) clone() *Config {
	cp := *c
	cp.ScriptExtensions = append([]string(nil), c.ScriptExtensions...)
	cp.Env = make(map[string]string, len(c.Env))
	for k, v := range c.Env {
		cp.Env[k] = v
	}
	return &cp
}

// LoadConfig reads a YAML (.yaml, .yml) or JSON config file. A missing file
// yields the defaults; a file that cannot be parsed is an error. Invalid
// individual values fall back to their defaults with a warning. Environment
// overrides are applied last.
func LoadConfig(path string, log *zap.SugaredLogger) (*Config, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Infof("[config] no config found at %s, using defaults", path)
		cfg := DefaultConfig()
		applyEnv(cfg, log)
		return cfg, finalize(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	// keys the file leaves out keep their defaults
	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	validate(cfg, log)
	applyEnv(cfg, log)
	return cfg, finalize(cfg)
}

// validate replaces invalid values with defaults.
func validate(cfg *Config, log *zap.SugaredLogger) {
	def := DefaultConfig()

	if strings.TrimSpace(cfg.Interpreter) == "" {
		log.Warnf("[config] interpreter is empty, falling back to %q", def.Interpreter)
		cfg.Interpreter = def.Interpreter
	}

	if cfg.DocumentRoot == "" {
		log.Warnf("[config] document_root is empty, falling back to %q", def.DocumentRoot)
		cfg.DocumentRoot = def.DocumentRoot
	}

	if cfg.DefaultScript == "" {
		log.Warnf("[config] default_script is empty, falling back to %q", def.DefaultScript)
		cfg.DefaultScript = def.DefaultScript
	}

	if len(cfg.ScriptExtensions) == 0 {
		cfg.ScriptExtensions = def.ScriptExtensions
	} else {
		for i, ext := range cfg.ScriptExtensions {
			if !strings.HasPrefix(ext, ".") {
				log.Warnf("[config] script_extensions[%d]=%q does not start with '.', fixing", i, ext)
				cfg.ScriptExtensions[i] = "." + ext
			}
		}
	}

	if cfg.TimeoutMs <= 0 {
		log.Warnf("[config] timeout_ms=%d is invalid, falling back to %dms", cfg.TimeoutMs, def.TimeoutMs)
		cfg.TimeoutMs = def.TimeoutMs
	}

	if cfg.IdleTimeoutMs < 0 {
		log.Warnf("[config] idle_timeout_ms=%d is invalid, disabling idle timeout", cfg.IdleTimeoutMs)
		cfg.IdleTimeoutMs = 0
	}

	if cfg.RequestOrder == "" {
		cfg.RequestOrder = def.RequestOrder
	} else if strings.Trim(strings.ToUpper(cfg.RequestOrder), "GPCES") != "" {
		log.Warnf("[config] request_order=%q has unknown letters, falling back to %q", cfg.RequestOrder, def.RequestOrder)
		cfg.RequestOrder = def.RequestOrder
	}

	if cfg.ServerName == "" {
		cfg.ServerName = def.ServerName
	}
	if cfg.ServerSoftware == "" {
		cfg.ServerSoftware = def.ServerSoftware
	}
	if cfg.RemoteAddr == "" {
		cfg.RemoteAddr = def.RemoteAddr
	}
	if cfg.Env == nil {
		cfg.Env = map[string]string{}
	}
}

func applyEnv(cfg *Config, log *zap.SugaredLogger) {
	if v := os.Getenv("PHPCLI_INTERPRETER"); v != "" {
		cfg.Interpreter = v
	}
	if v := os.Getenv("PHPCLI_DOCUMENT_ROOT"); v != "" {
		cfg.DocumentRoot = v
	}
	if v := os.Getenv("PHPCLI_PRELUDE"); v != "" {
		cfg.Prelude = v
	}
	if v := os.Getenv("PHPCLI_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			log.Warnf("[config] PHPCLI_TIMEOUT_MS=%q is invalid, ignoring", v)
		} else {
			cfg.TimeoutMs = ms
		}
	}
}

// finalize resolves DocumentRoot to an absolute path.
func finalize(cfg *Config) error {
	root, err := filepath.Abs(cfg.DocumentRoot)
	if err != nil {
		return fmt.Errorf("resolving document_root %q: %w", cfg.DocumentRoot, err)
	}
	cfg.DocumentRoot = root
	return nil
}
