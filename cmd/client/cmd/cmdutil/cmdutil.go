// Package cmdutil общее для команд клиента: доступ к приложению и вывод
package cmdutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"fieldsync/internal/app/client"
	"fieldsync/internal/domain/conflict"
	"fieldsync/internal/domain/entity"
)

type appKey struct{}

// WithApp кладет приложение в контекст команды
func WithApp(ctx context.Context, app *client.App) context.Context {
	return context.WithValue(ctx, appKey{}, app)
}

// App приложение, созданное в PersistentPreRunE корневой команды
func App(cmd *cobra.Command) (*client.App, error) {
	app, ok := cmd.Context().Value(appKey{}).(*client.App)
	if !ok || app == nil {
		return nil, fmt.Errorf("приложение не инициализировано")
	}
	return app, nil
}

// ParseType тип записи из аргумента командной строки
func ParseType(arg string) (entity.Type, error) {
	t, err := entity.ParseType(arg)
	if err != nil {
		names := make([]string, 0, len(entity.Types()))
		for _, known := range entity.Types() {
			names = append(names, known.String())
		}
		return "", fmt.Errorf("неизвестный тип %q, допустимые: %s", arg, strings.Join(names, ", "))
	}
	return t, nil
}

// ParseFields собирает запись из JSON объекта и пар key=value.
// Пары применяются поверх JSON.
func ParseFields(data string, pairs []string) (entity.Entity, error) {
	out := entity.Entity{}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &out); err != nil {
			return nil, fmt.Errorf("некорректный JSON: %w", err)
		}
	}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("ожидается key=value, получено %q", p)
		}
		out[k] = v
	}
	return out, nil
}

// ParseWhere фильтр списка из пар key=value
func ParseWhere(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	where := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("ожидается key=value, получено %q", p)
		}
		where[k] = v
	}
	return where, nil
}

func PrintJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// PrintEntity поля записи по одному на строку, служебные первыми
func PrintEntity(w io.Writer, e entity.Entity) {
	for _, k := range SortedFields(e) {
		fmt.Fprintf(w, "  %-14s %s\n", k+":", FormatValue(e[k]))
	}
}

// SortedFields имена полей: id, version, updatedAt, затем остальные по алфавиту
func SortedFields(maps ...entity.Entity) []string {
	seen := make(map[string]struct{})
	var technical, regular []string
	for _, m := range maps {
		for k := range m {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			if entity.IsTechnicalField(k) {
				technical = append(technical, k)
			} else {
				regular = append(regular, k)
			}
		}
	}
	order := map[string]int{
		entity.FieldID:        0,
		entity.FieldVersion:   1,
		entity.FieldUpdatedAt: 2,
		entity.FieldCreatedAt: 3,
		entity.FieldSyncedAt:  4,
	}
	sort.Slice(technical, func(i, j int) bool { return order[technical[i]] < order[technical[j]] })
	sort.Strings(regular)
	return append(technical, regular...)
}

func FormatValue(v any) string {
	switch s := v.(type) {
	case nil:
		return "-"
	case string:
		return s
	default:
		raw, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprint(s)
		}
		return string(raw)
	}
}

func Truncate(s string, length int) string {
	runes := []rune(s)
	if len(runes) <= length {
		return s
	}
	return string(runes[:length-3]) + "..."
}

// ParsePreference предпочтение сессии из аргумента: always_local, always_server или none
func ParsePreference(arg string) (conflict.SessionPreference, error) {
	switch p := conflict.SessionPreference(arg); p {
	case conflict.AlwaysLocal, conflict.AlwaysServer:
		return p, nil
	case "none", conflict.PreferNone:
		return conflict.PreferNone, nil
	}
	return "", fmt.Errorf("неизвестное предпочтение %q, допустимые: always_local, always_server, none", arg)
}

// ParseResolution стратегия разрешения из аргумента
func ParseResolution(arg string) (conflict.Resolution, error) {
	r := conflict.Resolution(arg)
	if !r.Valid() {
		return "", fmt.Errorf("неизвестная стратегия %q, допустимые: keep_local, keep_server, merge", arg)
	}
	return r, nil
}
