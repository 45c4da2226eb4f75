package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nmoran/stepwise/internal/config"
	"github.com/nmoran/stepwise/pkg/toolregistry"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directory, config, and credentials template",
	Long: `Create the Stepwise data directory with a default config file, a
credentials template for Gemini API keys, the workspace, and an example
custom tool. Safe to run more than once; existing files are kept.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

const sampleManifest = `{
  "name": "word_count",
  "description": "Count the words in a piece of text.",
  "parameters": [
    {"name": "text", "type": "string", "description": "Text to count", "required": true}
  ],
  "command": ["sh", "run.sh"]
}
`

const sampleScript = `#!/bin/sh
# Parameters arrive as JSON on stdin; whatever is printed to stdout
# becomes the tool result.
tr -d '\n' | sed 's/.*"text"[[:space:]]*:[[:space:]]*"//; s/".*//' | wc -w
`

func runInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir, cfg.Tools.Dir, cfg.Memory.Dir, cfg.WorkspacePath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	configPath := loader.GetConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := loader.Save(cfg); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		color.Green("Created config %s", configPath)
	} else {
		fmt.Printf("Config %s already exists, keeping it.\n", configPath)
	}

	if err := config.WriteCredentialsTemplate(cfg.Gemini.KeysFile); err != nil {
		return fmt.Errorf("failed to write credentials template: %w", err)
	}
	color.Green("Credentials template at %s", cfg.Gemini.KeysFile)
	fmt.Printf("Replace %q with your Gemini API keys to enable the cloud provider.\n", config.PlaceholderKey)

	if err := writeSampleTool(cfg.Tools.Dir); err != nil {
		return fmt.Errorf("failed to write sample tool: %w", err)
	}

	color.Green("Workspace at %s", cfg.WorkspacePath)
	fmt.Println("Run `stepwise run` to start a session.")
	return nil
}

// writeSampleTool drops an example manifest tool into the tools
// directory so there is something to copy from. Existing files win.
func writeSampleTool(toolsDir string) error {
	dir := filepath.Join(toolsDir, "word_count")
	manifestPath := filepath.Join(dir, toolregistry.ManifestFileName)
	if _, err := os.Stat(manifestPath); err == nil {
		return nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(manifestPath, []byte(sampleManifest), 0644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "run.sh"), []byte(sampleScript), 0755); err != nil {
		return err
	}

	color.Green("Sample tool at %s", dir)
	return nil
}
