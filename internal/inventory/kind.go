package inventory

import (
	"strings"

	"github.com/imrishuroy/go-clothing-orderflow/internal/validation"
)

// StandardCare is the care text used by kinds that do not override it.
const StandardCare = "Standard care: wash at 30C, do not bleach."

// Kind is the behaviour that varies between clothing types. Price, stock and
// validation are shared by every kind through Item.
type Kind interface {
	Label() string
	CareInstructions() string
}

type standardCare struct{}

func (standardCare) CareInstructions() string { return StandardCare }

// Shirt uses the standard care text.
type Shirt struct{ standardCare }

func (Shirt) Label() string { return "Shirt" }

// Trousers override the care text.
type Trousers struct{}

func (Trousers) Label() string { return "Trousers" }

func (Trousers) CareInstructions() string {
	return "Wash inside out at 30C, hang to dry, iron on medium heat."
}

// KindFor resolves a persisted label ("Shirt", "trousers", ...) to a Kind.
func KindFor(label string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "shirt":
		return Shirt{}, nil
	case "trousers":
		return Trousers{}, nil
	default:
		return nil, validation.Errorf("Kind", "unknown item kind %q", label)
	}
}

// Kinds lists the labels KindFor accepts.
func Kinds() []string {
	return []string{Shirt{}.Label(), Trousers{}.Label()}
}
