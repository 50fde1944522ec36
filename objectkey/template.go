package objectkey

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// DefaultTemplate keys uploads by the hash of their absolute path.
const DefaultTemplate = "{{ .PathHash }}"

type Model struct {
	envRepo env.Repository
	logger  log.Logger
	os      string
	arch    string
}

type templateInventory struct {
	OS       string
	Arch     string
	FileName string
	Ext      string
	PathHash string
}

func NewModel(envRepo env.Repository, logger log.Logger) Model {
	return Model{
		envRepo: envRepo,
		logger:  logger,
		os:      runtime.GOOS,
		arch:    runtime.GOARCH,
	}
}

// Evaluate renders a key template for the given source file and validates the result.
//
// Besides the inventory fields the template can call getenv, checksum (BLAKE3 over the files
// matching the glob patterns) and contenthash (BLAKE3 of the source).
func (m Model) Evaluate(key string, sourcePath string) (string, error) {
	if key == "" {
		key = DefaultTemplate
	}

	funcMap := template.FuncMap{
		"getenv":   m.getEnvVar,
		"checksum": m.checksum,
		"contenthash": func() (string, error) {
			return FromContent(sourcePath)
		},
	}

	tmpl, err := template.New("").Funcs(funcMap).Parse(key)
	if err != nil {
		return "", fmt.Errorf("invalid template: %w", err)
	}

	pathHash, err := FromPath(sourcePath)
	if err != nil {
		return "", err
	}
	fileName := filepath.Base(sourcePath)
	inventory := templateInventory{
		OS:       m.os,
		Arch:     m.arch,
		FileName: fileName,
		Ext:      strings.TrimPrefix(filepath.Ext(fileName), "."),
		PathHash: pathHash,
	}

	resultBuffer := bytes.Buffer{}
	if err := tmpl.Execute(&resultBuffer, inventory); err != nil {
		return "", err
	}

	result, err := Validate(resultBuffer.String())
	if err != nil {
		return "", fmt.Errorf("template %q: %w", key, err)
	}
	m.logger.Debugf("Object key: %s", result)
	return result, nil
}

func (m Model) getEnvVar(key string) string {
	value := m.envRepo.Get(key)
	if value == "" {
		m.logger.Warnf("Environment variable %s is not defined", key)
	}
	return value
}
