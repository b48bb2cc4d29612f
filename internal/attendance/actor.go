package attendance

import (
	"fmt"
	"strings"
)

// Actor is the person requesting an action. Identity is supplied by an
// external auth collaborator; this package never invents one.
type Actor struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
}

// Validate requires both an id and a display name.
func (a Actor) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("actor id is required")
	}
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("actor name is required")
	}
	return nil
}

// HasRole reports whether the actor carries role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Module is the clinic area an action belongs to.
type Module string

const (
	ModuleInitialListening Module = "initial-listening"
	ModuleAttendance       Module = "attendance"
	ModuleVaccination      Module = "vaccination"
	ModuleSystem           Module = "system"
)

// AllModules lists every module in a stable order.
var AllModules = []Module{
	ModuleInitialListening,
	ModuleAttendance,
	ModuleVaccination,
	ModuleSystem,
}

// ParseModule converts s to a Module.
func ParseModule(s string) (Module, error) {
	m := Module(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown module %q", s)
	}
	return m, nil
}

func (m Module) Valid() bool {
	switch m {
	case ModuleInitialListening, ModuleAttendance, ModuleVaccination, ModuleSystem:
		return true
	}
	return false
}

func (m Module) String() string { return string(m) }

// ModuleFor infers the module responsible for entering status to.
func ModuleFor(to Status) Module {
	switch to {
	case StatusInitialListening:
		return ModuleInitialListening
	case StatusVaccination:
		return ModuleVaccination
	default:
		return ModuleAttendance
	}
}
