package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/kidsfeed/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

// optionalKeys are valid settings that carry no default.
var optionalKeys = []string{
	"storage.redis.password",
}

// secretKeys are redacted in dumps.
var secretKeys = map[string]bool{
	"storage.redis.password": true,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the kidsfeed configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	fileKeys, err := readConfigFile(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}
	unknownKeys := findUnknownKeys(fileKeys)

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(fileKeys, unknownKeys)

		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
	}

	return nil
}

// readConfigFile loads the config file on its own, without defaults or
// environment overrides.
func readConfigFile(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v, nil
}

// findUnknownKeys lists keys set in the file that kidsfeed does not read
func findUnknownKeys(file *viper.Viper) []string {
	if file == nil {
		return nil
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range file.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// getValidKeys returns a set of all valid configuration keys
func getValidKeys() map[string]bool {
	keys := make(map[string]bool)
	for _, key := range config.Defaults().AllKeys() {
		keys[key] = true
	}
	for _, key := range optionalKeys {
		keys[key] = true
	}
	return keys
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(file *viper.Viper, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	defaults := config.Defaults()

	keys := make([]string, 0, len(getValidKeys()))
	for key := range getValidKeys() {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	section := ""
	for _, key := range keys {
		head, name := splitKey(key)
		if head != section {
			section = head
			_, _ = cyan.Printf("\n[%s]\n", section)
		}

		defaultValue := defaults.Get(key)
		value := defaultValue
		if file != nil && file.IsSet(key) {
			value = file.Get(key)
		}
		if secretKeys[key] {
			value = redactPassword(fmt.Sprint(value))
			defaultValue = redactPassword(fmt.Sprint(defaultValue))
		}
		dumpField("  "+name, value, defaultValue, yellow, green)
	}

	// Display unknown keys if any
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		_, _ = cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}
}

// splitKey separates a dotted key into its section and the remainder
func splitKey(key string) (string, string) {
	section, name, found := strings.Cut(key, ".")
	if !found {
		return "", key
	}
	return section, name
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := fmt.Sprint(value) == fmt.Sprint(defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" || password == "<nil>" {
		return ""
	}
	return "***REDACTED***"
}
