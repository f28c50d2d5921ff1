package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalagman/lessonloop/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a lessonloop project",
		Long:  "Initialize a lessonloop project by creating the .lessonloop directory and installing a default config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := os.Getwd()
			if err != nil {
				return err
			}
			return initProject(root)
		},
	}
}

func initProject(root string) error {
	dir := stateDir(root)
	log.Info().Str("dir", dir).Msg("creating lessonloop directory")
	for _, sub := range []string{"locks", "figures"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create %s dir: %w", sub, err)
		}
	}

	configPath := config.Path(root)
	if _, err := os.Stat(configPath); err == nil {
		log.Info().Msg("config.json already exists, skipping")
		return nil
	}
	log.Info().Str("path", configPath).Msg("installing default config")
	data, err := json.MarshalIndent(config.Default(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	fmt.Println("lessonloop initialized successfully")
	return nil
}
