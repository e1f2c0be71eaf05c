package cmd

import (
	"github.com/MrEthical07/clinicguard"
	"github.com/MrEthical07/clinicguard/jwt"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and print its security report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEngineConfig()
		if err != nil {
			return err
		}
		keys, err := loadKeys()
		if err != nil {
			// The report does not depend on key material.
			keys, _ = jwt.NewStaticKeys()
		}
		engine, err := clinicguard.New().WithConfig(cfg).WithKeys(keys).Build()
		if err != nil {
			return err
		}
		defer func() { _ = engine.Close(cmd.Context()) }()

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(checkOutput{Valid: true, Report: engine.SecurityReport()})
	},
}

type checkOutput struct {
	Valid  bool                       `yaml:"valid"`
	Report clinicguard.SecurityReport `yaml:"report"`
}

func init() {
	configCmd.AddCommand(configCheckCmd)
}
