package main

import (
	"path/filepath"

	"github.com/metalagman/lessonloop/internal/config"
	"github.com/spf13/viper"
)

func configPath(root string) string {
	path := viper.GetString("config")
	if path == "" {
		return config.Path(root)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	return path
}

func loadConfig(root string) (config.Config, error) {
	return config.Load(configPath(root))
}
