package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/media-module/internal/config"
	"github.com/bigkaa/goartstore/media-module/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Применить миграции каталога и выйти",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
		}

		logger.Info("Применение миграций БД...", slog.String("version", config.Version))
		if err := database.Migrate(cfg, logger); err != nil {
			return fmt.Errorf("ошибка миграций БД: %w", err)
		}
		return nil
	},
}
