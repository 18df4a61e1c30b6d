// Package render turns an order into the HTML confirmation document.
//
// The template is parsed once by New and shared by every call to Render; it
// is never reloaded. html/template escapes all order strings for the context
// they appear in.
package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"strings"

	"github.com/example/emailservice/internal/models"
)

// DefaultTemplateName is the identifier of the confirmation template.
const DefaultTemplateName = "confirmation.html"

//go:embed templates/confirmation.html
var embedded embed.FS

// RenderError reports that an order could not be substituted into the
// confirmation template, typically because a record the template needs is
// missing.
type RenderError struct {
	OrderID string
	Err     error
}

func (e *RenderError) Error() string {
	if e.OrderID == "" {
		return fmt.Sprintf("render: confirmation: %v", e.Err)
	}
	return fmt.Sprintf("render: confirmation for order %s: %v", e.OrderID, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Option customises how the template is located.
type Option func(*options)

type options struct {
	fsys fs.FS
	name string
}

// WithDir loads the template from a directory on disk instead of the copy
// compiled into the binary.
func WithDir(dir string) Option {
	return func(o *options) {
		if strings.TrimSpace(dir) != "" {
			o.fsys = os.DirFS(dir)
		}
	}
}

// WithFS loads the template from an arbitrary file system.
func WithFS(fsys fs.FS) Option {
	return func(o *options) {
		if fsys != nil {
			o.fsys = fsys
		}
	}
}

// WithName overrides the template identifier looked up in the file system.
func WithName(name string) Option {
	return func(o *options) {
		if strings.TrimSpace(name) != "" {
			o.name = strings.TrimSpace(name)
		}
	}
}

// Renderer renders confirmation documents. It is safe for concurrent use.
type Renderer struct {
	name string
	tmpl *template.Template
}

// New parses the confirmation template. A missing or malformed template is
// returned as an error; callers treat it as fatal at startup.
func New(opts ...Option) (*Renderer, error) {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, fmt.Errorf("render: embedded templates: %w", err)
	}

	o := &options{fsys: sub, name: DefaultTemplateName}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	tmpl, err := template.New(o.name).Funcs(funcs()).ParseFS(o.fsys, o.name)
	if err != nil {
		return nil, fmt.Errorf("render: load template %s: %w", o.name, err)
	}
	if tmpl.Lookup(o.name) == nil {
		return nil, fmt.Errorf("render: template %s is empty", o.name)
	}

	return &Renderer{name: o.name, tmpl: tmpl}, nil
}

// Name returns the identifier of the loaded template.
func (r *Renderer) Name() string { return r.name }

// Render substitutes order into the template. Any failure is returned as a
// *RenderError and no partial document is returned.
func (r *Renderer) Render(order *models.Order) (string, error) {
	data := struct {
		Order *models.Order
	}{Order: order}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, r.name, data); err != nil {
		return "", &RenderError{OrderID: orderID(order), Err: err}
	}
	if buf.Len() == 0 {
		return "", &RenderError{OrderID: orderID(order), Err: errors.New("template produced an empty document")}
	}
	return buf.String(), nil
}

func orderID(order *models.Order) string {
	if order == nil {
		return ""
	}
	return order.OrderID
}
