package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/media-module/internal/service"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Разобрать журнал загрузок и удалить осиротевшие blob-ы (один проход)",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c, err := openCore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer c.close()

		if err := c.recoverJournal(ctx, logger); err != nil {
			return err
		}

		sweep := service.NewSweepService(c.repo, c.store, c.journal, cfg.ReconcileInterval, cfg.OrphanGracePeriod, logger)
		result := sweep.RunOnce(ctx)
		if result.Errors > 0 {
			return fmt.Errorf("проход сборщика завершён с ошибками: %d", result.Errors)
		}
		return nil
	},
}
