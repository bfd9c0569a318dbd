package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/marmos91/pagefs/pkg/config"
)

var initForce bool

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Long: `Write a commented default configuration file to the given path, or to
$XDG_CONFIG_HOME/pagefs/config.yaml when no path is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runConfigInit,
	}
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing file")
	configCmd.AddCommand(initCmd)

	schemaCmd := &cobra.Command{
		Use:   "schema [output-file]",
		Short: "Generate the JSON schema of the configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigSchema,
	}
	configCmd.AddCommand(schemaCmd)

	return configCmd
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		if err := config.InitConfigToPath(args[0], initForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", args[0])
		return nil
	}

	path, err := config.InitConfig(initForce)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	return nil
}

// configSchema reflects the JSON schema of config.Config.
func configSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true, // Inline all definitions for simplicity
		FieldNameTag:              "yaml",
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "PageFS Configuration"
	schema.Description = "Configuration schema for the PageFS node"
	schema.Version = "1.0.0"

	return json.MarshalIndent(schema, "", "  ")
}

func runConfigSchema(cmd *cobra.Command, args []string) error {
	schemaJSON, err := configSchema()
	if err != nil {
		return fmt.Errorf("error marshaling schema: %w", err)
	}

	if len(args) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), string(schemaJSON))
		return err
	}

	if err := os.WriteFile(args[0], schemaJSON, 0644); err != nil {
		return fmt.Errorf("error writing schema file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", args[0])
	return nil
}
