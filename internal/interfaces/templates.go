package interfaces

import "errors"

// ErrTemplateNotFound indicates no template exists by that name
var ErrTemplateNotFound = errors.New("template not found")

// TemplateResolver maps template names to validated template documents
type TemplateResolver interface {
	// Resolve returns the parsed template document for a name.
	// Returns ErrTemplateNotFound for unknown names.
	Resolve(name string) (map[string]interface{}, error)

	// List returns the names of all available templates
	List() ([]string, error)
}
