package entity

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fieldsync/cmd/client/cmd/cmdutil"
	"fieldsync/internal/domain/entity"
)

var (
	createData string
	createSet  []string
)

var CreateCmd = &cobra.Command{
	Use:   "create <type>",
	Short: "Создать запись",
	Long: `Создает запись из JSON (--data) и/или пар key=value (--set).

Без связи запись получает временный идентификатор temp-..., который
заменяется серверным после синхронизации.

Пример: fieldsync entity create chantiers --set nom="Parc Monceau" --set ville=Paris`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cmdutil.App(cmd)
		if err != nil {
			return err
		}
		t, err := cmdutil.ParseType(args[0])
		if err != nil {
			return err
		}
		data, err := cmdutil.ParseFields(createData, createSet)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return fmt.Errorf("укажите поля записи через --data или --set")
		}

		created, err := app.Store.Create(cmd.Context(), t, data)
		if err != nil {
			return fmt.Errorf("ошибка создания записи: %w", err)
		}

		if entity.IsTemporaryID(created.ID()) {
			fmt.Println("Нет связи с сервером, запись сохранена локально и поставлена в очередь.")
		}
		fmt.Printf("✓ %s создан: %s\n", t.DisplayName(), created.ID())
		return nil
	},
}

var (
	updateData string
	updateSet  []string
)

var UpdateCmd = &cobra.Command{
	Use:   "update <type> <id>",
	Short: "Изменить поля записи",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cmdutil.App(cmd)
		if err != nil {
			return err
		}
		t, err := cmdutil.ParseType(args[0])
		if err != nil {
			return err
		}
		partial, err := cmdutil.ParseFields(updateData, updateSet)
		if err != nil {
			return err
		}
		if len(partial) == 0 {
			return fmt.Errorf("укажите изменяемые поля через --data или --set")
		}

		updated, err := app.Store.Update(cmd.Context(), t, args[1], partial)
		if err != nil {
			return fmt.Errorf("ошибка изменения записи: %w", err)
		}

		if updated.SyncedAt() == entity.SyncedAtUnconfirmed {
			fmt.Println("Изменение сохранено локально и поставлено в очередь.")
		}
		printEntity(t, updated)
		return nil
	},
}

var DeleteCmd = &cobra.Command{
	Use:   "delete <type> <id>",
	Short: "Удалить запись",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cmdutil.App(cmd)
		if err != nil {
			return err
		}
		t, err := cmdutil.ParseType(args[0])
		if err != nil {
			return err
		}

		if err := app.Store.Delete(cmd.Context(), t, args[1]); err != nil {
			return fmt.Errorf("ошибка удаления записи: %w", err)
		}
		fmt.Fprintf(os.Stdout, "✓ %s %s удален\n", t.DisplayName(), args[1])
		return nil
	},
}

func init() {
	CreateCmd.Flags().StringVarP(&createData, "data", "d", "", "поля записи в JSON")
	CreateCmd.Flags().StringArrayVarP(&createSet, "set", "s", nil, "поле key=value, можно повторять")

	UpdateCmd.Flags().StringVarP(&updateData, "data", "d", "", "изменяемые поля в JSON")
	UpdateCmd.Flags().StringArrayVarP(&updateSet, "set", "s", nil, "поле key=value, можно повторять")
}
