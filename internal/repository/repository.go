// Package repository supplies composition documents: over HTTP from a
// remote repository, from a local directory of YAML files, and through a
// Redis read-through cache.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/satindergrewal/whitenoise/internal/timeline"
)

// ErrNotFound means no composition has the requested id.
var ErrNotFound = errors.New("composition not found")

// Repository lists and fetches compositions.
type Repository interface {
	List(ctx context.Context) ([]timeline.Summary, error)
	Get(ctx context.Context, id string) (*timeline.Composition, error)
}

// LoadError reports a composition that could not be obtained: the
// repository was unreachable or the document was malformed.
type LoadError struct {
	ID  string
	Err error
}

func (e *LoadError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("load compositions: %v", e.Err)
	}
	return fmt.Sprintf("load composition %s: %v", e.ID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RenderResult is the wire answer of the render endpoints. Exactly one of
// Cached, Rendering or Ready is set on success.
type RenderResult struct {
	Success   *bool  `json:"success,omitempty"`
	Cached    bool   `json:"cached,omitempty"`
	Rendering bool   `json:"rendering,omitempty"`
	Ready     bool   `json:"ready,omitempty"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Failed reports an explicit {success:false}.
func (r RenderResult) Failed() bool {
	return r.Success != nil && !*r.Success
}

// Bool returns a pointer to b, for RenderResult.Success.
func Bool(b bool) *bool { return &b }
