// Package config implements the server configuration record the
// daemon's external collaborator hands over, plus the object graph
// (serial/telnet/logfile definitions and their peer wiring) that seeds
// the multiplexor's object set at startup.
//
// Loading uses viper: a YAML file read in, overridable by environment
// variables, decoded into a typed struct. The repeating object-list
// shape doesn't fit viper's flat key model well, so that part is decoded
// directly with gopkg.in/yaml.v3 instead (same file, two decode passes).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Record is the server configuration record.
type Record struct {
	EnableKeepAlive bool   `yaml:"enableKeepAlive" mapstructure:"enableKeepAlive"`
	EnableLoopBack  bool   `yaml:"enableLoopBack" mapstructure:"enableLoopBack"`
	EnableTCPWrap   bool   `yaml:"enableTCPWrap" mapstructure:"enableTCPWrap"`
	EnableZeroLogs  bool   `yaml:"enableZeroLogs" mapstructure:"enableZeroLogs"`
	EnableVerbose   bool   `yaml:"enableVerbose" mapstructure:"enableVerbose"`
	Port            int    `yaml:"port" mapstructure:"port"`
	LogFileName     string `yaml:"logFileName" mapstructure:"logFileName"`
	LogFmtName      string `yaml:"logFmtName" mapstructure:"logFmtName"`
	LogFileLevel    string `yaml:"logFileLevel" mapstructure:"logFileLevel"`
	SyslogFacility  string `yaml:"syslogFacility" mapstructure:"syslogFacility"`
	ResetCmd        string `yaml:"resetCmd" mapstructure:"resetCmd"`
	TStampMinutes   int    `yaml:"tStampMinutes" mapstructure:"tStampMinutes"`

	// RingSize is the configuration-derived per-object ring buffer size
	// referenced by every object's ring buffers ("low tens of KiB per
	// object" is a reasonable default).
	RingSize int `yaml:"ringSize" mapstructure:"ringSize"`

	// ResetTimeoutSeconds bounds how long a reset command may run before
	// its process group is killed.
	ResetTimeoutSeconds int `yaml:"resetTimeoutSeconds" mapstructure:"resetTimeoutSeconds"`

	// Objects is decoded separately via yaml.v3, see Load.
	Objects []ObjectSpec `yaml:"objects" mapstructure:"-"`
}

// ObjectSpec describes one configured object (serial, telnet or logfile)
// and its peer wiring, prior to being turned into a live object.Object by
// internal/connio's openers.
type ObjectSpec struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"` // "serial", "telnet" or "logfile"

	// serial
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
	Bits   int    `yaml:"bits"`
	Parity string `yaml:"parity"`
	Flow   string `yaml:"flow"`

	// telnet
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// logfile
	Path string `yaml:"path"`

	// WritesTo names other objects whose output buffer should receive
	// this object's input stream; a console typically lists its logfile
	// and is in turn listed by attached clients at accept time.
	WritesTo []string `yaml:"writesTo"`
}

const (
	defaultRingSize            = 32 * 1024
	defaultResetTimeoutSeconds = 30
)

func defaults() Record {
	return Record{
		Port:                7766,
		LogFileLevel:        "notice",
		SyslogFacility:      "daemon",
		RingSize:            defaultRingSize,
		ResetTimeoutSeconds: defaultResetTimeoutSeconds,
	}
}

// Load reads path as YAML, applies environment overrides bound with the
// "CONSOLEMUX_" prefix (e.g. CONSOLEMUX_PORT), and returns the populated
// Record. A missing config file or missing object list is a
// startup-fatal error.
func Load(path string) (*Record, error) {
	rec := defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CONSOLEMUX")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: viper read %s: %w", path, err)
	}
	if err := v.Unmarshal(&rec); err != nil {
		return nil, fmt.Errorf("config: env-override decode: %w", err)
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Validate checks the structural invariants that are startup-fatal: no
// consoles defined, a port that can't possibly be bound, duplicate
// object names, and peer references to unknown objects.
func (r *Record) Validate() error {
	if r.Port <= 0 || r.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", r.Port)
	}
	if len(r.Objects) == 0 {
		return fmt.Errorf("config: no consoles defined")
	}

	seen := make(map[string]bool, len(r.Objects))
	for _, o := range r.Objects {
		if o.Name == "" {
			return fmt.Errorf("config: object with empty name")
		}
		if seen[o.Name] {
			return fmt.Errorf("config: duplicate object name %q", o.Name)
		}
		seen[o.Name] = true
		switch o.Kind {
		case "serial", "telnet", "logfile":
		default:
			return fmt.Errorf("config: object %q has unknown kind %q", o.Name, o.Kind)
		}
	}
	for _, o := range r.Objects {
		for _, peer := range o.WritesTo {
			if !seen[peer] {
				return fmt.Errorf("config: object %q writes to unknown peer %q", o.Name, peer)
			}
		}
	}
	return nil
}
