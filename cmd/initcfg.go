package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/playforge/reconcile-cli/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config.yaml with the default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		const path = "config.yaml"

		if !initForce {
			if _, err := os.Stat(path); err == nil {
				return eris.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}

		starter := config.Config{
			Store: config.StoreConfig{
				Driver:      "sqlite",
				DatabaseURL: "reconcile.db",
			},
			Pipeline: config.PipelineConfig{
				DataDir:          "data",
				ReportsDir:       "reports",
				ToleranceMinutes: 10,
				ROASThreshold:    1.0,
			},
			Auth: config.AuthConfig{
				JWTTTLMins: 120,
			},
			Server: config.ServerConfig{
				Port:           8080,
				AllowedOrigins: []string{"http://localhost:3000"},
				LoginRPS:       5,
				LoginBurst:     10,
			},
			Log: config.LogConfig{
				Level:  "info",
				Format: "json",
			},
		}

		data, err := yaml.Marshal(starter)
		if err != nil {
			return eris.Wrap(err, "marshal starter config")
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return eris.Wrap(err, "write starter config")
		}

		zap.L().Info("wrote starter config", zap.String("path", path))
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config.yaml")
	rootCmd.AddCommand(initCmd)
}
