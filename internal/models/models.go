// Package models defines the persisted entities and request bodies.
package models

// All lists every table in migration order
func All() []any {
	return []any{
		&User{},
		&Persona{},
		&PersonaVersion{},
		&Chat{},
		&Message{},
		&UserTokenBalance{},
		&ImageJob{},
	}
}
