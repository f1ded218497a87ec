package entity

import (
	"github.com/spf13/cobra"
)

// EntityCmd родительская команда для работы с записями
var EntityCmd = &cobra.Command{
	Use:   "entity",
	Short: "Управление записями",
	Long: `Просмотр, создание, изменение и удаление записей.

Типы записей: clients, chantiers, interventions, devis, factures.
Без связи с сервером чтение идет из локального кэша, а изменения
ставятся в очередь синхронизации.`,
}

func init() {
	EntityCmd.AddCommand(GetCmd, ListCmd, CreateCmd, UpdateCmd, DeleteCmd)
}
