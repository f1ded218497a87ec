package conflicts

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"fieldsync/cmd/client/cmd/cmdutil"
	"fieldsync/internal/app/client"
	"fieldsync/internal/domain/conflict"
	"fieldsync/internal/domain/entity"
)

const columnWidth = 32

var (
	resolution string
	conflictID string
	applyAll   bool
	mergedJSON string
)

var (
	headerColor   = color.New(color.Bold)
	conflictColor = color.New(color.FgRed, color.Bold)
	mutedColor    = color.New(color.FgHiBlack)
)

var ResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Разрешить конфликты",
	Long: `Без флагов в терминале показывает конфликты по одному: локальная и
серверная версии рядом, расходящиеся поля выделены.

С флагом --resolution работает без вопросов:
  fieldsync conflicts resolve -r keep_server --all
  fieldsync conflicts resolve -r merge --id <id> --merged '{"notes":"..."}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cmdutil.App(cmd)
		if err != nil {
			return err
		}

		if !app.Conflicts.HasConflicts() {
			fmt.Println("✅ Конфликтов нет")
			return nil
		}

		if resolution != "" {
			return resolveWithFlags(cmd, app)
		}
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("не терминал: укажите --resolution")
		}
		return resolveInteractive(cmd, app, bufio.NewReader(os.Stdin))
	},
}

func resolveWithFlags(cmd *cobra.Command, app *client.App) error {
	r, err := cmdutil.ParseResolution(resolution)
	if err != nil {
		return err
	}

	if conflictID != "" {
		if err := seek(app.Workflow, conflictID); err != nil {
			return err
		}
	}

	req := client.ResolveRequest{Resolution: r, ApplyToRemaining: applyAll}
	if r == conflict.Merge {
		if req.MergedData, err = mergedData(app.Workflow); err != nil {
			return err
		}
	}

	results, err := app.Workflow.Resolve(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("ошибка разрешения конфликта: %w", err)
	}

	fmt.Printf("✅ Разрешено конфликтов: %d, осталось: %d\n", len(results), app.Workflow.Total())
	syncAfterResolve(cmd, app, len(results))
	return nil
}

func resolveInteractive(cmd *cobra.Command, app *client.App, in *bufio.Reader) error {
	ctx := cmd.Context()
	resolved := 0

	defer func() {
		syncAfterResolve(cmd, app, resolved)
	}()

	for {
		if err := app.Workflow.Refresh(ctx); err != nil {
			return fmt.Errorf("ошибка чтения конфликтов: %w", err)
		}

		c, ok := app.Workflow.Current()
		if !ok {
			fmt.Println("\n✅ Все конфликты разрешены")
			return nil
		}

		printConflict(os.Stdout, c, app.Workflow.Index(), app.Workflow.Total())

		answer, err := prompt(in, "[l] локальная  [s] серверная  [m] слияние  [a] ко всем  [n]/[p] навигация  [q] выход: ")
		if err != nil {
			return err
		}

		req := client.ResolveRequest{}
		switch answer {
		case "l":
			req.Resolution = conflict.KeepLocal
		case "s":
			req.Resolution = conflict.KeepServer
		case "m":
			req.Resolution = conflict.Merge
			if req.MergedData, err = chooseFields(in, c); err != nil {
				return err
			}
		case "a":
			choice, err := prompt(in, "Применить ко всем оставшимся: [l] локальная  [s] серверная: ")
			if err != nil {
				return err
			}
			switch choice {
			case "l":
				req.Resolution = conflict.KeepLocal
			case "s":
				req.Resolution = conflict.KeepServer
			default:
				continue
			}
			req.ApplyToRemaining = true
		case "n":
			app.Workflow.Next()
			continue
		case "p":
			app.Workflow.Previous()
			continue
		case "q", "":
			fmt.Printf("Осталось конфликтов: %d\n", app.Workflow.Total())
			return nil
		default:
			fmt.Println("Неизвестная команда")
			continue
		}

		results, err := app.Workflow.Resolve(ctx, req)
		if err != nil {
			fmt.Printf("❌ Ошибка: %v\n", err)
			continue
		}
		resolved += len(results)
		fmt.Printf("✅ Разрешено: %d\n", len(results))
	}
}

// chooseFields спрашивает источник для каждого расходящегося поля
func chooseFields(in *bufio.Reader, c conflict.SyncConflict) (entity.Entity, error) {
	merged := conflict.AutoMerge(c)
	for _, f := range c.ConflictingFields {
		question := fmt.Sprintf("  %s: [l] %s  [s] %s (l): ",
			f,
			cmdutil.Truncate(cmdutil.FormatValue(c.LocalVersion[f]), columnWidth),
			cmdutil.Truncate(cmdutil.FormatValue(c.ServerVersion[f]), columnWidth),
		)
		answer, err := prompt(in, question)
		if err != nil {
			return nil, err
		}
		if answer != "s" {
			continue
		}
		if v, ok := c.ServerVersion[f]; ok {
			merged[f] = v
		} else {
			delete(merged, f)
		}
	}
	return merged, nil
}

func prompt(in *bufio.Reader, question string) (string, error) {
	fmt.Print(question)
	line, err := in.ReadString('\n')
	switch {
	case errors.Is(err, io.EOF) && line == "":
		return "q", nil
	case err != nil && !errors.Is(err, io.EOF):
		return "", fmt.Errorf("ошибка чтения ввода: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(line)), nil
}

func printConflict(w io.Writer, c conflict.SyncConflict, index, total int) {
	fmt.Fprintln(w)
	headerColor.Fprintf(w, "Конфликт %d из %d: %s\n", index+1, total, c.EntityLabel)
	fmt.Fprintf(w, "Тип: %s, ID: %s, обнаружен %s\n\n",
		c.EntityType.DisplayName(), c.EntityID, c.DetectedAt.Local().Format(time.DateTime))

	conflicting := make(map[string]struct{}, len(c.ConflictingFields))
	for _, f := range c.ConflictingFields {
		conflicting[f] = struct{}{}
	}

	fmt.Fprintf(w, "  %-16s %s %s\n", "", pad("ЛОКАЛЬНАЯ"), pad("СЕРВЕРНАЯ"))
	for _, f := range cmdutil.SortedFields(c.LocalVersion, c.ServerVersion) {
		local := pad(cmdutil.FormatValue(c.LocalVersion[f]))
		server := pad(cmdutil.FormatValue(c.ServerVersion[f]))

		switch _, isConflict := conflicting[f]; {
		case isConflict:
			fmt.Fprintf(w, "* %-16s %s %s\n", f, conflictColor.Sprint(local), conflictColor.Sprint(server))
		case entity.IsTechnicalField(f):
			mutedColor.Fprintf(w, "  %-16s %s %s\n", f, local, server)
		default:
			fmt.Fprintf(w, "  %-16s %s %s\n", f, local, server)
		}
	}
	fmt.Fprintln(w)
}

func pad(s string) string {
	s = cmdutil.Truncate(s, columnWidth)
	if n := len([]rune(s)); n < columnWidth {
		s += strings.Repeat(" ", columnWidth-n)
	}
	return s
}

// seek делает конфликт с указанным ID текущим
func seek(w *client.Workflow, id string) error {
	total := w.Total()
	for i := 0; i < total; i++ {
		w.Previous()
	}
	for i := 0; i < total; i++ {
		if c, ok := w.Current(); ok && c.ID == id {
			return nil
		}
		w.Next()
	}
	return fmt.Errorf("конфликт %s не найден", id)
}

func mergedData(w *client.Workflow) (entity.Entity, error) {
	if mergedJSON != "" {
		return cmdutil.ParseFields(mergedJSON, nil)
	}
	c, ok := w.Current()
	if !ok {
		return nil, client.ErrNoCurrentConflict
	}
	return conflict.AutoMerge(c), nil
}

// syncAfterResolve отправляет разрешения сразу, не дожидаясь отложенного прохода
func syncAfterResolve(cmd *cobra.Command, app *client.App, resolved int) {
	if resolved == 0 || !app.Monitor.Online() {
		return
	}
	result := app.Runner.SyncAll(cmd.Context())
	fmt.Printf("Отправлено на сервер: %d\n", result.Synced)
}
