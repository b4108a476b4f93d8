package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
)

// ReferenceResolver maps reference keys to the materials registered for them
// in the row being imported. One resolver belongs to one import run and is
// reset at the start of every row.
type ReferenceResolver struct {
	refs map[string]*models.Material
}

// NewReferenceResolver creates an empty resolver.
func NewReferenceResolver() *ReferenceResolver {
	return &ReferenceResolver{refs: make(map[string]*models.Material)}
}

// Register binds key to m. A later registration of the same key wins.
func (r *ReferenceResolver) Register(key string, m *models.Material) {
	if key == "" || m == nil {
		return
	}
	r.refs[key] = m
}

// Resolve returns the material registered under key.
// Unknown keys return an error wrapping apperrors.ErrReferenceNotRegistered.
func (r *ReferenceResolver) Resolve(key string) (*models.Material, error) {
	m, ok := r.refs[key]
	if !ok {
		registered := "none"
		if keys := r.keys(); len(keys) > 0 {
			registered = strings.Join(keys, ", ")
		}
		return nil, fmt.Errorf("%w: %q (registered: %s)", apperrors.ErrReferenceNotRegistered, key, registered)
	}
	return m, nil
}

// Reset forgets every registration.
func (r *ReferenceResolver) Reset() {
	clear(r.refs)
}

// keys returns the registered keys in sorted order.
func (r *ReferenceResolver) keys() []string {
	keys := make([]string, 0, len(r.refs))
	for k := range r.refs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
