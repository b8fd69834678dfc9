package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papapumpkin/weft/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "Regenerate derived Go artifacts from templates",
	Long: `Weft keeps generated files in sync with the Go definitions they are built from.

Templates (*.weft) declare an output file and the sources they read. When a
source or template changes, the affected templates are re-rendered and their
outputs rewritten only if the content differs.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	addConfigFlags(rootCmd)
}

// addConfigFlags registers the flags that override configuration values.
func addConfigFlags(c *cobra.Command) {
	c.PersistentFlags().String("config", "", "config file (default <root>/.weft.yaml)")
	c.PersistentFlags().String("root", "", "project root (default current directory)")
	c.PersistentFlags().String("host-version", "", "host version used to choose the metadata backend")
	c.PersistentFlags().String("backend", "", "force a metadata backend by name (ast, scan)")
	c.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"root":         "root",
	"host-version": "host.version",
	"backend":      "backend.force",
	"verbose":      "verbose",
}

// loadConfig resolves configuration for cmd from, in increasing precedence,
// built-in defaults, the config file, WEFT_* environment variables and flags.
// The returned Root is absolute.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	v := viper.New()
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return config.Config{}, fmt.Errorf("binding --%s: %w", flag, err)
			}
		}
	}

	v.SetEnvPrefix("WEFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".weft")
		v.SetConfigType("yaml")
		if root, _ := cmd.Flags().GetString("root"); root != "" {
			v.AddConfigPath(root)
		}
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; we use defaults.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config.Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, err
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return config.Config{}, fmt.Errorf("resolving root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	cfg.Root = root
	return cfg, nil
}
