package conflict

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"fieldsync/internal/domain/entity"
)

// HasConflict решает, потеряет ли локальное изменение данные сервера.
// Если локальная версия не старше серверной, конфликта нет. Иначе конфликт
// есть только если метки времени указывают на разные моменты; отсутствующая
// метка считается эпохой, а без обеих меток независимого изменения нет.
func HasConflict(local, server entity.Entity) bool {
	if local.Version() >= server.Version() {
		return false
	}

	lt, lok := local.UpdatedAt()
	st, sok := server.UpdatedAt()
	if !lok && !sok {
		return false
	}
	if !lok {
		lt = time.UnixMilli(0)
	}
	if !sok {
		st = time.UnixMilli(0)
	}

	return !lt.Equal(st)
}

// DetectConflictingFields возвращает отсортированный список содержательных
// полей, значения которых различаются. Поле, присутствующее только с одной
// стороны, тоже считается конфликтным.
func DetectConflictingFields(local, server entity.Entity) []string {
	keys := make(map[string]struct{}, len(local)+len(server))
	for k := range local {
		keys[k] = struct{}{}
	}
	for k := range server {
		keys[k] = struct{}{}
	}

	fields := make([]string, 0)
	for k := range keys {
		if entity.IsTechnicalField(k) {
			continue
		}

		lv, lok := local[k]
		sv, sok := server[k]
		if lok != sok {
			fields = append(fields, k)
			continue
		}
		if !sameValue(lv, sv) {
			fields = append(fields, k)
		}
	}

	sort.Strings(fields)
	return fields
}

// sameValue сравнивает сериализованные формы; json сортирует ключи map,
// поэтому вложенные объекты сравниваются структурно
func sameValue(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(ra) == string(rb)
}

// GenerateEntityLabel подпись записи для интерфейса
func GenerateEntityLabel(t entity.Type, e entity.Entity) string {
	fallback := fmt.Sprintf("%s #%s", t.DisplayName(), e.ID())

	switch t {
	case entity.TypeClient:
		nom := strings.TrimSpace(e.String("nom"))
		prenom := strings.TrimSpace(e.String("prenom"))
		switch {
		case nom != "" && prenom != "":
			return prenom + " " + nom
		case nom != "":
			return nom
		case e.String("raisonSociale") != "":
			return e.String("raisonSociale")
		}
	case entity.TypeChantier:
		if nom := e.String("nom"); nom != "" {
			return nom
		}
		if adresse := e.String("adresse"); adresse != "" {
			return adresse
		}
	case entity.TypeIntervention:
		if titre := e.String("titre"); titre != "" {
			return titre
		}
	case entity.TypeDevis, entity.TypeFacture:
		if numero := e.String("numero"); numero != "" {
			return t.DisplayName() + " " + numero
		}
	}

	return fallback
}

// ConflictID conflict-<type>-<id>-<epochMillis>
func ConflictID(t entity.Type, entityID string, at time.Time) string {
	return fmt.Sprintf("conflict-%s-%s-%d", t, entityID, at.UnixMilli())
}

// CreateSyncConflict собирает полную запись о конфликте
func CreateSyncConflict(t entity.Type, entityID string, local, server entity.Entity, at time.Time) SyncConflict {
	lt, _ := local.UpdatedAt()
	st, _ := server.UpdatedAt()

	label := GenerateEntityLabel(t, local)
	if local.ID() == "" {
		label = GenerateEntityLabel(t, local.Merge(entity.Entity{entity.FieldID: entityID}))
	}

	return SyncConflict{
		ID:                ConflictID(t, entityID, at),
		EntityType:        t,
		EntityID:          entityID,
		EntityLabel:       label,
		LocalVersion:      local.Clone(),
		ServerVersion:     server.Clone(),
		LocalTimestamp:    lt,
		ServerTimestamp:   st,
		ConflictingFields: DetectConflictingFields(local, server),
		DetectedAt:        at,
	}
}

// Detect объединяет HasConflict и проверку полей: конфликт без
// содержательных различий не возвращается
func Detect(t entity.Type, entityID string, local, server entity.Entity, at time.Time) (SyncConflict, bool) {
	if !HasConflict(local, server) {
		return SyncConflict{}, false
	}

	c := CreateSyncConflict(t, entityID, local, server, at)
	if len(c.ConflictingFields) == 0 {
		return SyncConflict{}, false
	}
	return c, true
}
