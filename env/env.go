package env

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

var (
	mu          sync.Mutex
	validations = map[string]string{}
)

// RegisterValidation registers a validation rule for an environment variable. Rules are
// checked when ValidateEnv is called, typically from an init or main.
func RegisterValidation(key string, rule string) {
	mu.Lock()
	defer mu.Unlock()
	validations[key] = rule
}

// ValidateEnv checks every registered validation and returns an error describing the
// first variable that fails its rule.
func ValidateEnv() error {
	mu.Lock()
	defer mu.Unlock()
	for key, rule := range validations {
		switch rule {
		case "required":
			if strings.TrimSpace(viper.GetString(key)) == "" {
				return fmt.Errorf("env: %s is required but not set", key)
			}
		default:
			return fmt.Errorf("env: unknown validation rule %q for %s", rule, key)
		}
	}
	return nil
}

// MustValidateEnv panics if any registered validation fails.
func MustValidateEnv() {
	if err := ValidateEnv(); err != nil {
		panic(err)
	}
}

func init() {
	viper.AutomaticEnv()
}

// SetDefault sets a default value for an environment variable.
func SetDefault(key string, value any) {
	viper.SetDefault(key, value)
}

func GetString(key string) string {
	return viper.GetString(key)
}

func GetStringSlice(key string) []string {
	return viper.GetStringSlice(key)
}

func GetBool(key string) bool {
	return viper.GetBool(key)
}

func GetInt(key string) int {
	return viper.GetInt(key)
}

func GetInt64(key string) int64 {
	return viper.GetInt64(key)
}

func GetFloat64(key string) float64 {
	return viper.GetFloat64(key)
}
