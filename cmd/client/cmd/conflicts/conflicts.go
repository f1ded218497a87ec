package conflicts

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"fieldsync/cmd/client/cmd/cmdutil"
	"fieldsync/internal/domain/conflict"
)

var (
	listFormat  string
	showHistory bool
)

var ConflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Конфликты синхронизации",
}

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Неразрешенные конфликты",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cmdutil.App(cmd)
		if err != nil {
			return err
		}

		if showHistory {
			history := app.Conflicts.History()
			if listFormat == "json" {
				return cmdutil.PrintJSON(os.Stdout, history)
			}
			if len(history) == 0 {
				fmt.Println("История разрешений пуста")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "КОНФЛИКТ\tРЕШЕНИЕ\tКОГДА")
			for _, r := range history {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.ConflictID, r.Resolution, r.Timestamp.Local().Format(time.DateTime))
			}
			return w.Flush()
		}

		list := app.Conflicts.List()
		if listFormat == "json" {
			return cmdutil.PrintJSON(os.Stdout, list)
		}
		if len(list) == 0 {
			fmt.Println("✅ Конфликтов нет")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tТИП\tЗАПИСЬ\tПОЛЯ\tОБНАРУЖЕН")
		for _, c := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				c.ID,
				c.EntityType.DisplayName(),
				cmdutil.Truncate(c.EntityLabel, 30),
				len(c.ConflictingFields),
				c.DetectedAt.Local().Format(time.DateTime),
			)
		}
		return w.Flush()
	},
}

var PreferCmd = &cobra.Command{
	Use:   "prefer <always_local|always_server|none>",
	Short: "Автоматическое разрешение до конца сессии",
	Long: `Устанавливает предпочтение на время работы процесса. Существующие
конфликты разрешаются сразу, новые будут разрешаться при обнаружении.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cmdutil.App(cmd)
		if err != nil {
			return err
		}
		pref, err := cmdutil.ParsePreference(args[0])
		if err != nil {
			return err
		}

		results, err := app.Workflow.SetSessionPreference(cmd.Context(), pref)
		if err != nil {
			return fmt.Errorf("ошибка установки предпочтения: %w", err)
		}

		if pref == conflict.PreferNone {
			fmt.Println("Автоматическое разрешение выключено")
			return nil
		}
		fmt.Printf("✅ Предпочтение %s, разрешено конфликтов: %d\n", pref, len(results))
		syncAfterResolve(cmd, app, len(results))
		return nil
	},
}

var ClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Удалить все конфликты без разрешения",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cmdutil.App(cmd)
		if err != nil {
			return err
		}
		n := app.Conflicts.Count()
		if err := app.Workflow.ClearAll(cmd.Context()); err != nil {
			return fmt.Errorf("ошибка очистки конфликтов: %w", err)
		}
		fmt.Printf("Удалено конфликтов: %d\n", n)
		return nil
	},
}

func init() {
	ConflictsCmd.AddCommand(ListCmd, ResolveCmd, PreferCmd, ClearCmd)

	ListCmd.Flags().StringVar(&listFormat, "format", "table", "формат вывода: table, json")
	ListCmd.Flags().BoolVar(&showHistory, "history", false, "показать историю разрешений")

	ResolveCmd.Flags().StringVarP(&resolution, "resolution", "r", "", "стратегия: keep_local, keep_server, merge")
	ResolveCmd.Flags().StringVar(&conflictID, "id", "", "ID конфликта, по умолчанию первый")
	ResolveCmd.Flags().BoolVar(&applyAll, "all", false, "применить стратегию ко всем оставшимся конфликтам")
	ResolveCmd.Flags().StringVar(&mergedJSON, "merged", "", "данные слияния в JSON, по умолчанию локальные значения поверх серверных")
}
