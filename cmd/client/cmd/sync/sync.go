package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fieldsync/cmd/client/cmd/cmdutil"
	"fieldsync/internal/app/client"
)

var (
	retryFailed bool
	preference  string
)

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Отправить очередь изменений на сервер",
	Long: `Отправляет накопленные изменения на сервер в порядке постановки.

Элементы, исчерпавшие попытки, остаются в очереди со статусом failed.
Флаг --retry-failed возвращает их в работу перед отправкой.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cmdutil.App(cmd)
		if err != nil {
			return err
		}
		return runSync(cmd.Context(), app)
	},
}

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Статус синхронизации",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cmdutil.App(cmd)
		if err != nil {
			return err
		}
		return showSyncStatus(cmd.Context(), app)
	},
}

func runSync(ctx context.Context, app *client.App) error {
	fmt.Println("=== Синхронизация данных ===")

	if !app.Monitor.Online() {
		return fmt.Errorf("сервер недоступен, изменения останутся в очереди")
	}

	if preference != "" {
		pref, err := cmdutil.ParsePreference(preference)
		if err != nil {
			return err
		}
		if _, err := app.Workflow.SetSessionPreference(ctx, pref); err != nil {
			return fmt.Errorf("ошибка установки предпочтения: %w", err)
		}
	}

	start := time.Now()
	var result client.SyncResult
	if retryFailed {
		result = app.Runner.RetryFailed(ctx)
	} else {
		result = app.Runner.SyncAll(ctx)
	}

	fmt.Println()
	if result.Success {
		fmt.Println("✅ Синхронизация завершена!")
	} else {
		fmt.Println("⚠️  Синхронизация завершена с ошибками")
	}
	fmt.Printf("Время выполнения: %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("Отправлено: %d\n", result.Synced)
	fmt.Printf("Отложено: %d\n", result.Skipped)
	fmt.Printf("Ошибок: %d (исчерпали попытки: %d)\n", result.Failed, result.Parked)

	for i, e := range result.Errors {
		if i == 3 {
			fmt.Printf("  ... и еще %d ошибок\n", len(result.Errors)-3)
			break
		}
		fmt.Printf("  • %s\n", e)
	}

	if n := app.Conflicts.Count(); n > 0 {
		fmt.Printf("\nНеразрешенных конфликтов: %d\n", n)
		fmt.Println("   Используйте 'fieldsync conflicts resolve' для разрешения")
	}

	return nil
}

func showSyncStatus(ctx context.Context, app *client.App) error {
	fmt.Println("=== Статус синхронизации ===")

	status, err := app.Workflow.Status(ctx)
	if err != nil {
		return fmt.Errorf("ошибка чтения статуса: %w", err)
	}

	fmt.Printf("  В очереди: %d\n", status.Pending)
	fmt.Printf("  Исчерпали попытки: %d\n", status.Failed)
	fmt.Printf("  Конфликтов: %d\n", status.Conflicts)

	fmt.Printf("\n🌐 Соединение с сервером: ")
	if app.Monitor.Online() {
		fmt.Printf("✅ OK\n")
	} else {
		fmt.Printf("❌ нет связи\n")
	}

	return nil
}

func init() {
	SyncCmd.AddCommand(StatusCmd)

	SyncCmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "вернуть failed элементы в работу")
	SyncCmd.Flags().StringVar(&preference, "prefer", "", "автоматически разрешать конфликты: always_local, always_server")
}
