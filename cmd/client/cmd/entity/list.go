package entity

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fieldsync/cmd/client/cmd/cmdutil"
	"fieldsync/internal/domain/conflict"
	"fieldsync/internal/domain/entity"
)

var (
	listWhere  []string
	listFormat string
)

var ListCmd = &cobra.Command{
	Use:   "list <type>",
	Short: "Список записей",
	Long: `Список записей типа с необязательным фильтром по точному значению поля.

Пример: fieldsync entity list interventions --where chantierId=42`,
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
		where, err := cmdutil.ParseWhere(listWhere)
		if err != nil {
			return err
		}

		items, err := app.Store.List(cmd.Context(), t, where)
		if err != nil {
			return fmt.Errorf("ошибка получения списка записей: %w", err)
		}

		switch listFormat {
		case "json":
			return cmdutil.PrintJSON(os.Stdout, items)
		default:
			return printTable(t, items)
		}
	},
}

func printTable(t entity.Type, items []entity.Entity) error {
	if len(items) == 0 {
		fmt.Println("Записи не найдены")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tНазвание\tВерсия\tОбновлено\tСинхр.\t\n")
	fmt.Fprintf(w, "---\t---\t---\t---\t---\t\n")

	for _, e := range items {
		synced := "да"
		if e.SyncedAt() == entity.SyncedAtUnconfirmed {
			synced = "нет"
		}
		updated := "-"
		if ts, ok := e.UpdatedAt(); ok {
			updated = ts.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t\n",
			e.ID(),
			cmdutil.Truncate(conflict.GenerateEntityLabel(t, e), 40),
			e.Version(),
			updated,
			synced,
		)
	}

	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nВсего записей: %d\n", len(items))
	return nil
}

func init() {
	ListCmd.Flags().StringArrayVarP(&listWhere, "where", "w", nil, "фильтр key=value, можно повторять")
	ListCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "формат вывода (table, json)")
}
