package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"fieldsync/cmd/client/cmd/cmdutil"
	"fieldsync/internal/app/client"
	"fieldsync/internal/app/client/config"
	"fieldsync/internal/utils/logger"
)

const probeTimeout = 3 * time.Second

var (
	cfgFile   string
	cfg       *config.Config
	log       *slog.Logger
	app       *client.App
	debug     bool
	offline   bool
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "fieldsync - клиент полевого работника с офлайн-режимом",
	Long: `fieldsync работает с клиентами, объектами, выездами, сметами и счетами
без постоянной связи с сервером.

Изменения без связи сохраняются локально и ставятся в очередь. При появлении
связи очередь отправляется на сервер по порядку, а расхождения с серверной
версией выносятся на разрешение пользователю.`,
	PersistentPreRunE:  setupApp,
	PersistentPostRunE: closeApp,
	SilenceUsage:       true,
	SilenceErrors:      true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func setupApp(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	// Переопределяем настройки из флагов командной строки
	if serverURL != "" {
		cfg.APIURL = serverURL
	}

	if debug {
		log = logger.New(cfg.Env)
	} else {
		log = logger.Quiet()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err = client.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("ошибка инициализации приложения: %w", err)
	}

	if !offline {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		app.CheckConnection(probeCtx)
		cancel()
	}

	cmd.SetContext(cmdutil.WithApp(ctx, app))
	return nil
}

func closeApp(_ *cobra.Command, _ []string) error {
	if app != nil {
		app.Close()
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "конфигурационный файл (yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "включить отладочный режим")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "не обращаться к серверу")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "URL сервера")
}
