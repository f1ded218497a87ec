package entity

import "fmt"

// Type тип сущности, синхронизируемой с сервером
type Type string

const (
	TypeClient       Type = "clients"
	TypeChantier     Type = "chantiers"
	TypeIntervention Type = "interventions"
	TypeDevis        Type = "devis"
	TypeFacture      Type = "factures"
)

var types = []Type{TypeClient, TypeChantier, TypeIntervention, TypeDevis, TypeFacture}

var displayNames = map[Type]string{
	TypeClient:       "Client",
	TypeChantier:     "Chantier",
	TypeIntervention: "Intervention",
	TypeDevis:        "Devis",
	TypeFacture:      "Facture",
}

// Types возвращает закрытый список типов в фиксированном порядке
func Types() []Type {
	out := make([]Type, len(types))
	copy(out, types)
	return out
}

// ParseType проверяет, что строка является известным типом
func ParseType(s string) (Type, error) {
	t := Type(s)
	if _, ok := displayNames[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

func (t Type) Valid() bool {
	_, ok := displayNames[t]
	return ok
}

// BasePath путь коллекции на сервере, например /clients
func (t Type) BasePath() string {
	return "/" + string(t)
}

// DisplayName человекочитаемое имя типа
func (t Type) DisplayName() string {
	if name, ok := displayNames[t]; ok {
		return name
	}
	return string(t)
}

func (t Type) String() string {
	return string(t)
}
