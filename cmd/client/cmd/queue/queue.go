package queue

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fieldsync/cmd/client/cmd/cmdutil"
	"fieldsync/internal/domain/queue"
)

var listFormat string

var QueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Очередь неотправленных изменений",
}

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Показать очередь",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cmdutil.App(cmd)
		if err != nil {
			return err
		}

		items, err := app.Queue.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка чтения очереди: %w", err)
		}

		if listFormat == "json" {
			return cmdutil.PrintJSON(os.Stdout, items)
		}

		if len(items) == 0 {
			fmt.Println("Очередь пуста")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tОПЕРАЦИЯ\tТИП\tЗАПИСЬ\tСТАТУС\tПОПЫТКИ\tОШИБКА")
		for _, item := range items {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
				item.ID,
				item.Operation,
				item.EntityType,
				cmdutil.Truncate(item.EntityID, 24),
				item.Status,
				item.RetryCount,
				cmdutil.Truncate(item.LastError, 40),
			)
		}
		return w.Flush()
	},
}

var DiscardCmd = &cobra.Command{
	Use:   "discard <id>",
	Short: "Удалить изменение из очереди без отправки",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cmdutil.App(cmd)
		if err != nil {
			return err
		}

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("некорректный ID элемента: %s", args[0])
		}

		item, err := app.Queue.Discard(cmd.Context(), id)
		if err != nil {
			if queue.IsNotFound(err) {
				return fmt.Errorf("элемент %d не найден в очереди", id)
			}
			return fmt.Errorf("ошибка удаления элемента: %w", err)
		}

		fmt.Printf("✅ Изменение удалено: %s %s %s\n", item.Operation, item.EntityType, item.EntityID)
		return nil
	},
}

func init() {
	QueueCmd.AddCommand(ListCmd, DiscardCmd)

	ListCmd.Flags().StringVar(&listFormat, "format", "table", "формат вывода: table, json")
}
