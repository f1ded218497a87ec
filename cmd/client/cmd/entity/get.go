package entity

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fieldsync/cmd/client/cmd/cmdutil"
	"fieldsync/internal/domain/entity"
)

var getJSON bool

var GetCmd = &cobra.Command{
	Use:   "get <type> <id>",
	Short: "Показать запись",
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

		e, err := app.Store.Get(cmd.Context(), t, args[1])
		if errors.Is(err, entity.ErrNotFound) {
			return fmt.Errorf("%s %s не найден", t.DisplayName(), args[1])
		}
		if err != nil {
			return fmt.Errorf("ошибка получения записи: %w", err)
		}

		if getJSON {
			return cmdutil.PrintJSON(os.Stdout, e)
		}
		printEntity(t, e)
		return nil
	},
}

func printEntity(t entity.Type, e entity.Entity) {
	state := "синхронизирована"
	if e.SyncedAt() == entity.SyncedAtUnconfirmed {
		state = "не подтверждена сервером"
	}
	fmt.Printf("%s (%s)\n", t.DisplayName(), state)
	cmdutil.PrintEntity(os.Stdout, e)
}

func init() {
	GetCmd.Flags().BoolVar(&getJSON, "json", false, "вывод в формате JSON")
}
