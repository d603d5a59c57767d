package conf

import (
	"net/http"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/omalloc/precache/internal/constants"
	"github.com/omalloc/precache/sourceinfo"
	"github.com/omalloc/precache/store"
)

// Variant selects the engine's transport implementation.
type Variant string

const (
	// VariantStandard builds a fresh transport per engine.
	VariantStandard Variant = "standard"
	// VariantPooled shares one tuned transport across engines.
	VariantPooled Variant = "pooled"
)

// HeaderInjector adds request headers before the source contacts the origin.
type HeaderInjector func(url string) http.Header

type SourceInfo struct {
	Driver string `json:"driver" yaml:"driver"` // memory | pebble | nutsdb
	Path   string `json:"path" yaml:"path"`
}

type Config struct {
	CacheRoot string  `json:"cache_root" yaml:"cache_root"`
	Variant   Variant `json:"variant" yaml:"variant"`

	// retention; the first non-zero limit wins, see DiskUsageFor.
	MaxCacheSize  int64  `json:"max_cache_size" yaml:"max_cache_size"`
	MaxCacheFiles int    `json:"max_cache_files" yaml:"max_cache_files"`
	MinDiskFree   uint64 `json:"min_disk_free" yaml:"min_disk_free"`

	// DownloadRateKbps caps origin downloads; 0 means unlimited.
	DownloadRateKbps int `json:"download_rate_kbps" yaml:"download_rate_kbps"`

	SourceInfo *SourceInfo `json:"source_info" yaml:"source_info"`

	// Encoding names the codec used for persisted records: cbor | json.
	Encoding string `json:"encoding" yaml:"encoding"`

	// LogFile switches logging to a size-rotated file when set.
	LogFile string `json:"log_file" yaml:"log_file"`
	Verbose bool   `json:"verbose" yaml:"verbose"`

	// EngineOptions holds variant-specific tuning, decoded on demand with
	// UnmarshalEngineOptions.
	EngineOptions map[string]any `json:"engine_options" yaml:"engine_options"`

	// runtime collaborators, never serialized

	Headers   HeaderInjector   `json:"-" yaml:"-"`
	InfoStore sourceinfo.Store `json:"-" yaml:"-"`
	DiskUsage store.DiskUsage  `json:"-" yaml:"-"`
}

func Default() *Config {
	return &Config{
		CacheRoot:    filepath.Join(os.TempDir(), constants.AppName),
		Variant:      VariantStandard,
		MaxCacheSize: 512 << 20,
		SourceInfo:   &SourceInfo{Driver: "memory"},
	}
}

// Load reads a YAML config file and fills unset fields from Default.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c := &Config{}
	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, err
	}
	if err := mergo.Merge(c, Default()); err != nil {
		return nil, err
	}
	return c, nil
}

// UnmarshalEngineOptions decodes EngineOptions into v.
func (c *Config) UnmarshalEngineOptions(v any) error {
	return mapstructure.Decode(c.EngineOptions, v)
}
