package config

import (
	"reflect"
	"strings"

	"github.com/bitrise-io/go-utils/v2/env"
)

const (
	// SecretEnvKeyListEnvKey names the env var listing the keys of secret env vars on Bitrise CI.
	SecretEnvKeyListEnvKey = "BITRISE_SECRET_ENV_KEY_LIST"
	secretEnvKeySeparator  = ","

	redacted = "[REDACTED]"
)

var secretKeys = map[string]bool{
	"s3_secret_access_key": true,
	"api_token":            true,
	"storj_access_grant":   true,
}

// IsSecret reports whether the value of key must not be printed or passed as a flag.
func IsSecret(key string) bool {
	return secretKeys[key]
}

// Redacted returns the settings keyed like the config file, with secrets masked.
// Values of the env vars listed in BITRISE_SECRET_ENV_KEY_LIST are masked wherever they appear.
func (c Config) Redacted(envRepo env.Repository) map[string]interface{} {
	secretValues := loadSecretValues(envRepo)

	values := map[string]interface{}{}
	rv := reflect.ValueOf(c)
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		key := rt.Field(i).Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		value := rv.Field(i).Interface()
		if s, ok := value.(string); ok {
			if IsSecret(key) && s != "" {
				value = redacted
			} else {
				value = maskSecretValues(s, secretValues)
			}
		}
		values[key] = value
	}
	return values
}

func loadSecretValues(envRepo env.Repository) []string {
	var values []string
	for _, key := range strings.Split(envRepo.Get(SecretEnvKeyListEnvKey), secretEnvKeySeparator) {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if value := envRepo.Get(key); value != "" {
			values = append(values, value)
		}
	}
	return values
}

func maskSecretValues(s string, secretValues []string) string {
	for _, secret := range secretValues {
		s = strings.ReplaceAll(s, secret, redacted)
	}
	return s
}
