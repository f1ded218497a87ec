package entity

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Технические поля, которые не участвуют в сравнении содержимого
const (
	FieldID        = "id"
	FieldVersion   = "version"
	FieldUpdatedAt = "updatedAt"
	FieldCreatedAt = "createdAt"
	FieldSyncedAt  = "syncedAt"
)

var technicalFields = map[string]struct{}{
	FieldID:        {},
	FieldVersion:   {},
	FieldUpdatedAt: {},
	FieldCreatedAt: {},
	FieldSyncedAt:  {},
}

// IsTechnicalField сообщает, является ли поле служебным
func IsTechnicalField(name string) bool {
	_, ok := technicalFields[name]
	return ok
}

// Entity плоский набор полей записи. Ядро синхронизации знает только
// про id, version, updatedAt и syncedAt, остальные поля непрозрачны.
type Entity map[string]any

// SyncedAtUnconfirmed значение syncedAt для записи, не подтвержденной сервером
const SyncedAtUnconfirmed int64 = 0

func (e Entity) ID() string {
	switch v := e[FieldID].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return toString(v)
	}
}

// Version возвращает версию записи, 0 если сервер её ещё не видел
func (e Entity) Version() int64 {
	n, ok := toInt64(e[FieldVersion])
	if !ok {
		return 0
	}
	return n
}

// HasVersion известна ли версия, от которой локальная копия отсчитывает
// изменения
func (e Entity) HasVersion() bool {
	_, ok := e[FieldVersion]
	return ok
}

// UpdatedAt возвращает момент последнего изменения, если он известен
func (e Entity) UpdatedAt() (time.Time, bool) {
	return ParseTimestamp(e[FieldUpdatedAt])
}

// SyncedAt unix-миллисекунды последнего подтверждения сервером
func (e Entity) SyncedAt() int64 {
	n, _ := toInt64(e[FieldSyncedAt])
	return n
}

func (e Entity) SetID(id string) Entity {
	e[FieldID] = id
	return e
}

func (e Entity) SetVersion(v int64) Entity {
	e[FieldVersion] = v
	return e
}

func (e Entity) SetUpdatedAt(t time.Time) Entity {
	e[FieldUpdatedAt] = FormatTimestamp(t)
	return e
}

func (e Entity) SetSyncedAt(ms int64) Entity {
	e[FieldSyncedAt] = ms
	return e
}

// Clone глубокая копия через JSON, чтобы вложенные структуры не разделялись
func (e Entity) Clone() Entity {
	if e == nil {
		return nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		out := make(Entity, len(e))
		for k, v := range e {
			out[k] = v
		}
		return out
	}
	var out Entity
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// Merge возвращает копию записи с наложенными полями partial
func (e Entity) Merge(partial Entity) Entity {
	out := e.Clone()
	if out == nil {
		out = Entity{}
	}
	for k, v := range partial.Clone() {
		out[k] = v
	}
	return out
}

// WithoutTechnical копия без служебных полей
func (e Entity) WithoutTechnical() Entity {
	out := e.Clone()
	for k := range technicalFields {
		delete(out, k)
	}
	return out
}

// String значение строкового поля или пустая строка
func (e Entity) String(field string) string {
	v, ok := e[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return toString(v)
}

// ParseTimestamp понимает ISO-8601 строки и epoch в миллисекундах
func ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return t, !t.IsZero()
	case string:
		if t == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, true
			}
		}
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.UnixMilli(ms), true
		}
		return time.Time{}, false
	default:
		ms, ok := toInt64(v)
		if !ok {
			return time.Time{}, false
		}
		return time.UnixMilli(ms), true
	}
}

// FormatTimestamp формат меток времени, которые пишет клиент
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case float32:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case float64:
		if s == math.Trunc(s) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	default:
		raw, err := json.Marshal(s)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
