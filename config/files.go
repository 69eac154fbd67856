package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/c360/espclient/errors"
)

// Limits on what the loader accepts from files and the environment
const (
	maxFileSize  = 10 << 20
	maxEnvLength = 10000
)

var fileFormats = []string{".yaml", ".yml", ".json"}

func checkFormat(method, path string) error {
	if path == "" {
		return errors.Invalidf(errors.ErrMissingConfig, "config", method, "empty config path")
	}
	if !slices.Contains(fileFormats, strings.ToLower(filepath.Ext(path))) {
		return errors.Invalidf(errors.ErrInvalidConfig, "config", method,
			"%s: config files must be YAML or JSON", path)
	}
	return nil
}

// readFile reads a YAML or JSON layer. Devices, directories and files over
// 10MB are refused.
func readFile(path string) ([]byte, error) {
	if err := checkFormat("readFile", path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "readFile", "stat "+path)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.Invalidf(errors.ErrInvalidConfig, "config", "readFile", "%s is not a regular file", path)
	}
	if info.Size() > maxFileSize {
		return nil, errors.Invalidf(errors.ErrInvalidConfig, "config", "readFile",
			"%s is %d bytes, limit %d", path, info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "readFile", "read "+path)
	}
	return data, nil
}

// writeFile saves a layer readable by the owner only; it may hold credentials
func writeFile(path string, data []byte) error {
	if err := checkFormat("writeFile", path); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.WrapTransient(err, "config", "writeFile", "write "+path)
	}
	return nil
}

func checkEnv(key, value string) error {
	if len(value) > maxEnvLength || strings.ContainsRune(value, 0) {
		return errors.Invalidf(errors.ErrInvalidConfig, "config", "env", "%s holds an unusable value", key)
	}
	return nil
}
