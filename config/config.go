// Package config loads the settings of the resumable-upload CLI.
//
// Values are layered, highest precedence first: command line flags,
// RESUMABLE_UPLOAD_* environment variables, the config file, defaults.
// The config file is read by viper (YAML, JSON, TOML) or, for .ini files,
// by a profile aware INI loader where [DEFAULT] is overlaid by the selected profile section.
package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/adrg/xdg"
	"github.com/bitrise-io/go-resumable-upload/objectkey"
	"github.com/bitrise-io/go-resumable-upload/upload"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/docker/go-units"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// EnvPrefix is prepended to every config key when looked up in the environment.
const EnvPrefix = "RESUMABLE_UPLOAD"

const (
	// ConfigFileKey holds the path of the optional config file.
	ConfigFileKey = "config"
	// ProfileKey selects the section of an INI config file.
	ProfileKey = "profile"
)

// Env vars set on Bitrise CI, used when the http backend settings are not configured explicitly.
const (
	bitriseAPIURLEnvKey   = "BITRISEIO_ABCS_API_URL"
	bitriseAPITokenEnvKey = "BITRISEIO_BITRISE_SERVICES_ACCESS_TOKEN"
)

// Config ...
type Config struct {
	Backend          string `mapstructure:"backend" validate:"required,oneof=s3 minio http storj"`
	Store            string `mapstructure:"store" validate:"required,oneof=file sqlite"`
	Bucket           string `mapstructure:"bucket" validate:"required_unless=Backend http"`
	KeyTemplate      string `mapstructure:"key_template" validate:"required"`
	PartSize         string `mapstructure:"part_size" validate:"required,partsize"`
	AccessPolicy     string `mapstructure:"access_policy" validate:"omitempty,oneof=private public-read public-read-write authenticated-read bucket-owner-read bucket-owner-full-control"`
	StateDir         string `mapstructure:"state_dir" validate:"required"`
	StagingDir       string `mapstructure:"staging_dir" validate:"required"`
	Compress         bool   `mapstructure:"compress"`
	CompressionLevel int    `mapstructure:"compression_level" validate:"min=1,max=22"`
	Progress         string `mapstructure:"progress" validate:"oneof=log json"`
	Analytics        bool   `mapstructure:"analytics"`
	Debug            bool   `mapstructure:"debug"`

	S3Region          string `mapstructure:"s3_region"`
	S3AccessKeyID     string `mapstructure:"s3_access_key_id" validate:"required_with=S3SecretAccessKey"`
	S3SecretAccessKey string `mapstructure:"s3_secret_access_key" validate:"required_with=S3AccessKeyID"`
	S3Endpoint        string `mapstructure:"s3_endpoint" validate:"required_if=Backend minio,omitempty,url"`
	S3UsePathStyle    bool   `mapstructure:"s3_use_path_style"`
	S3Retries         uint   `mapstructure:"s3_retries" validate:"max=10"`

	APIBaseURL string `mapstructure:"api_base_url" validate:"required_if=Backend http,omitempty,url"`
	APIToken   string `mapstructure:"api_token" validate:"required_if=Backend http"`

	StorjAccessGrant  string `mapstructure:"storj_access_grant" validate:"required_if=Backend storj"`
	StorjEnsureBucket bool   `mapstructure:"storj_ensure_bucket"`
}

// PartSizeBytes returns the part size in bytes.
func (c Config) PartSizeBytes() (int64, error) {
	return parsePartSize(c.PartSize)
}

// Policy returns the parsed access policy.
func (c Config) Policy() (upload.AccessPolicy, error) {
	return upload.ParseAccessPolicy(c.AccessPolicy)
}

func parsePartSize(s string) (int64, error) {
	size, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid part size %q: %w", s, err)
	}
	if size < upload.MinPartSize {
		return 0, fmt.Errorf("part size %s is below the minimum %s", units.BytesSize(float64(size)), units.BytesSize(float64(upload.MinPartSize)))
	}
	return size, nil
}

func defaults(stateDir string) map[string]interface{} {
	return map[string]interface{}{
		"backend":           "s3",
		"store":             "file",
		"key_template":      objectkey.DefaultTemplate,
		"part_size":         "5MiB",
		"access_policy":     string(upload.DefaultAccessPolicy),
		"state_dir":         stateDir,
		"staging_dir":       filepath.Join(stateDir, "staging"),
		"compression_level": 3,
		"progress":          "log",
		"analytics":         true,
		"s3_retries":        3,
	}
}

// Keys returns the config keys, in declaration order.
func Keys() []string {
	var keys []string
	rt := reflect.TypeOf(Config{})
	for i := 0; i < rt.NumField(); i++ {
		if key := rt.Field(i).Tag.Get("mapstructure"); key != "" && key != "-" {
			keys = append(keys, key)
		}
	}
	return keys
}

// EnvKey returns the environment variable name of a config key.
func EnvKey(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}

// Loader ...
type Loader struct {
	envRepo env.Repository
	flags   *pflag.FlagSet
	v       *viper.Viper
}

// NewLoader ...
func NewLoader(envRepo env.Repository) *Loader {
	return &Loader{envRepo: envRepo, v: viper.New()}
}

// Load merges defaults, the config file, the environment and the changed flags of flags (may be nil),
// then validates the result.
func (l *Loader) Load(flags *pflag.FlagSet) (Config, error) {
	for key, value := range defaults(defaultStateDir(l.envRepo)) {
		l.v.SetDefault(key, value)
	}

	if flags != nil {
		l.flags = flags
		if err := l.bindFlags(flags); err != nil {
			return Config{}, err
		}
	}

	if pth := l.lookup(ConfigFileKey); pth != "" {
		if err := l.readFile(pth, l.lookup(ProfileKey)); err != nil {
			return Config{}, err
		}
	}

	// The environment is merged on top of the file so that it wins over it, changed flags still win over both.
	if err := l.v.MergeConfigMap(l.environment()); err != nil {
		return Config{}, fmt.Errorf("merge environment: %w", err)
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	l.applyCIFallbacks(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// bindFlags binds every flag whose name, with dashes replaced by underscores, is a config key.
func (l *Loader) bindFlags(flags *pflag.FlagSet) error {
	known := map[string]bool{}
	for _, key := range Keys() {
		known[key] = true
	}

	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if !known[key] || bindErr != nil {
			return
		}
		if IsSecret(key) {
			bindErr = fmt.Errorf("%s can only be set in the environment or the config file", key)
			return
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

// lookup resolves the config file and profile keys, which can not come from the config file itself.
func (l *Loader) lookup(key string) string {
	if l.flags != nil {
		if f := l.flags.Lookup(key); f != nil && f.Changed {
			return f.Value.String()
		}
	}
	return l.envRepo.Get(EnvKey(key))
}

func (l *Loader) environment() map[string]interface{} {
	values := map[string]interface{}{}
	for _, key := range Keys() {
		if value := l.envRepo.Get(EnvKey(key)); value != "" {
			values[key] = value
		}
	}
	return values
}

func (l *Loader) readFile(pth, profile string) error {
	if strings.EqualFold(filepath.Ext(pth), ".ini") {
		values, err := readINIProfile(pth, profile)
		if err != nil {
			return err
		}
		return l.v.MergeConfigMap(values)
	}

	l.v.SetConfigFile(pth)
	if err := l.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", pth, err)
	}
	return nil
}

// readINIProfile returns the keys of the [DEFAULT] section overlaid by the keys of the profile section.
func readINIProfile(pth, profile string) (map[string]interface{}, error) {
	file, err := ini.Load(pth)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", pth, err)
	}

	values := map[string]interface{}{}
	for _, key := range file.Section(ini.DefaultSection).Keys() {
		values[key.Name()] = key.Value()
	}
	if profile == "" || strings.EqualFold(profile, ini.DefaultSection) {
		return values, nil
	}

	if !file.HasSection(profile) {
		return nil, fmt.Errorf("profile %s not found in %s", profile, pth)
	}
	for _, key := range file.Section(profile).Keys() {
		values[key.Name()] = key.Value()
	}
	return values, nil
}

func (l *Loader) applyCIFallbacks(cfg *Config) {
	if cfg.Backend != "http" {
		return
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = l.envRepo.Get(bitriseAPIURLEnvKey)
	}
	if cfg.APIToken == "" {
		cfg.APIToken = l.envRepo.Get(bitriseAPITokenEnvKey)
	}
}

func defaultStateDir(envRepo env.Repository) string {
	stateHome := envRepo.Get("XDG_STATE_HOME")
	if stateHome == "" {
		stateHome = xdg.StateHome
	}
	return filepath.Join(stateHome, "resumable-upload")
}
