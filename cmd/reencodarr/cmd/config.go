package cmd

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mjc/reencodarr-sub000/internal/config"
	"github.com/mjc/reencodarr-sub000/pkg/bytesize"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

Redirect this output to a file to create a configuration template:

  reencodarr config dump > config.yaml

Environment variables use the REENCODARR_ prefix and underscores for
nesting. Example: server.port -> REENCODARR_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags,
// formatting durations and sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = strings.ToLower(typ.Field(i).Name)
		}

		switch value := field.Interface().(type) {
		case time.Duration:
			result[key] = value.String()
		case config.ByteSize:
			result[key] = value.String()
		case bytesize.Size:
			result[key] = bytesize.Format(value)
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# reencodarr configuration")
	fmt.Println("#")
	fmt.Println("# All values shown are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 720h. Size format: 5MB, 1GB.")
	fmt.Println("#")
	fmt.Println("# Environment overrides: REENCODARR_SERVER_PORT,")
	fmt.Println("# REENCODARR_DATABASE_DSN, REENCODARR_LOGGING_LEVEL, etc.")
	fmt.Println("")
	fmt.Print(string(yamlData))
	return nil
}
