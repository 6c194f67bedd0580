// Точка входа Media Module — приём, обработка и выдача изображений фотогалереи.
// Команды:
//
//	serve      — HTTP API (по умолчанию)
//	migrate    — применить миграции каталога и выйти
//	reconcile  — разобрать журнал загрузок, выполнить один проход сборщика сирот
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/media-module/internal/config"
)

// rootCmd — корневая команда; без подкоманды запускает сервер.
var rootCmd = &cobra.Command{
	Use:           "media-module",
	Short:         "Media Module — приём и выдача изображений фотогалереи",
	Version:       config.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reconcileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Media Module завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// loadConfig загружает конфигурацию и настраивает логирование.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, config.SetupLogger(cfg), nil
}
