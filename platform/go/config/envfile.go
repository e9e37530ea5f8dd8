package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// LoadWithEnvFile reads a dotenv file and layers the process environment on top of it,
// so exported variables win over the file. An empty path is the same as Load.
func LoadWithEnvFile(path string) (Config, error) {
	if path == "" {
		return Load()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read env file %s: %w", path, err)
	}

	vars := make(map[string]string, len(v.AllKeys()))
	for _, key := range v.AllKeys() {
		vars[strings.ToUpper(key)] = v.GetString(key)
	}
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			vars[key] = value
		}
	}
	return LoadFrom(vars)
}
