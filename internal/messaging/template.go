package messaging

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"
)

// Renderer renders campaign subject/body templates with Liquid.
// Parsed templates are cached; the engine is safe for concurrent use.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // template source → *liquid.Template
}

// NewRenderer creates a renderer with the campaign filters registered.
func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// {{ first_name | default: "there" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	return &Renderer{engine: engine}
}

// Render expands one template with the given bindings. Missing variables
// render empty rather than failing a production send.
func (r *Renderer) Render(source string, vars map[string]interface{}) (string, error) {
	if source == "" {
		return "", nil
	}

	var tmpl *liquid.Template
	if cached, ok := r.cache.Load(source); ok {
		tmpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(source)
		if err != nil {
			return "", fmt.Errorf("parse template: %w", err)
		}
		r.cache.Store(source, parsed)
		tmpl = parsed
	}

	out, err := tmpl.RenderString(vars)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}
