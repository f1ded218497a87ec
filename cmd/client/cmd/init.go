package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"fieldsync/cmd/client/cmd/cmdutil"
	"fieldsync/cmd/client/cmd/conflicts"
	"fieldsync/cmd/client/cmd/entity"
	"fieldsync/cmd/client/cmd/queue"
	"fieldsync/cmd/client/cmd/sync"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Сохранить токен доступа к серверу",
	Long: `Команда init выполняет первоначальную настройку клиента:
	1. Запрашивает токен доступа к API
	2. Сохраняет его в файл токена с правами 0600
	3. Проверяет соединение с сервером`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("=== Инициализация fieldsync ===")
		fmt.Println()

		token, err := readToken()
		if err != nil {
			return err
		}
		if token == "" {
			return fmt.Errorf("токен не может быть пустым")
		}

		if err := os.MkdirAll(filepath.Dir(cfg.TokenPath), 0700); err != nil {
			return fmt.Errorf("ошибка создания директории: %w", err)
		}
		if err := os.WriteFile(cfg.TokenPath, []byte(token+"\n"), 0600); err != nil {
			return fmt.Errorf("ошибка сохранения токена: %w", err)
		}
		fmt.Printf("✓ Токен сохранен в %s\n", cfg.TokenPath)

		fmt.Println("Проверка соединения с сервером...")
		ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
		defer cancel()
		if app.CheckConnection(ctx) {
			fmt.Println("✓ Соединение с сервером установлено")
		} else {
			fmt.Printf("⚠️  Сервер %s недоступен\n", cfg.APIURL)
			fmt.Println("Вы можете работать в офлайн-режиме, изменения будут отправлены позже.")
		}

		fmt.Println()
		fmt.Println("✅ Инициализация успешно завершена!")
		fmt.Println()
		fmt.Println("Что дальше:")
		fmt.Println("1. Посмотрите клиентов: fieldsync entity list clients")
		fmt.Println("2. Создайте выезд: fieldsync entity create interventions -s chantierId=<id>")
		fmt.Println("3. Отправьте изменения: fieldsync sync")

		return nil
	},
}

func readToken() (string, error) {
	fmt.Print("Введите токен доступа: ")
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("ошибка чтения токена: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("ошибка чтения токена: %w", err)
	}
	fmt.Println()
	return strings.TrimSpace(line), nil
}

var runPreference string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Фоновая синхронизация до сигнала завершения",
	Long: `Следит за связью с сервером и отправляет очередь при каждом ее
восстановлении. Завершается по Ctrl+C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runPreference != "" {
			pref, err := cmdutil.ParsePreference(runPreference)
			if err != nil {
				return err
			}
			if _, err := app.Workflow.SetSessionPreference(cmd.Context(), pref); err != nil {
				return fmt.Errorf("ошибка установки предпочтения: %w", err)
			}
		}
		return app.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(initCmd, runCmd)
	rootCmd.AddCommand(entity.EntityCmd)
	rootCmd.AddCommand(sync.SyncCmd)
	rootCmd.AddCommand(queue.QueueCmd)
	rootCmd.AddCommand(conflicts.ConflictsCmd)

	runCmd.Flags().StringVar(&runPreference, "prefer", "", "автоматически разрешать конфликты: always_local, always_server")
}
