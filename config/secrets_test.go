package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Redacted(t *testing.T) {
	envRepo := newEnvRepository(map[string]string{
		SecretEnvKeyListEnvKey: "UPLOAD_HOST_TOKEN, ,EMPTY_SECRET",
		"UPLOAD_HOST_TOKEN":    "t0k3n",
	})
	cfg := Config{
		Backend:           "http",
		Bucket:            "builds",
		APIBaseURL:        "https://uploads.example.com/?token=t0k3n",
		APIToken:          "api-secret",
		S3SecretAccessKey: "",
		CompressionLevel:  3,
		Debug:             true,
	}

	values := cfg.Redacted(envRepo)

	assert.Equal(t, "[REDACTED]", values["api_token"])
	assert.Equal(t, "https://uploads.example.com/?token=[REDACTED]", values["api_base_url"])
	assert.Equal(t, "", values["s3_secret_access_key"], "empty secrets stay empty")
	assert.Equal(t, "builds", values["bucket"])
	assert.Equal(t, 3, values["compression_level"])
	assert.Equal(t, true, values["debug"])
	assert.Len(t, values, len(Keys()))
}

func TestIsSecret(t *testing.T) {
	assert.True(t, IsSecret("api_token"))
	assert.True(t, IsSecret("storj_access_grant"))
	assert.False(t, IsSecret("bucket"))
}
