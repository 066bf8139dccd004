// Package catalog holds the definitions of the apps a tenant can enable.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jinzhu/inflection"
	"gopkg.in/yaml.v3"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
	"github.com/chemforge-inc/chemforge-engine/pkg/models"
)

// SharedDataTable stores rows of apps without a dedicated table.
const SharedDataTable = "app_data"

//go:embed apps.yaml
var appsYAML []byte

// Field describes one field of an app's records.
type Field struct {
	Name     string   `yaml:"name" json:"name"`
	Type     string   `yaml:"type" json:"type"`
	Required bool     `yaml:"required,omitempty" json:"required,omitempty"`
	Options  []string `yaml:"options,omitempty" json:"options,omitempty"`
	Target   string   `yaml:"target,omitempty" json:"target,omitempty"`
}

// App is one catalog definition.
type App struct {
	Key         string  `yaml:"key"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Icon        string  `yaml:"icon"`
	Color       string  `yaml:"color"`
	Entity      string  `yaml:"entity"`
	Dedicated   bool    `yaml:"dedicated"`
	Fields      []Field `yaml:"fields"`
}

// TableName is the tenant table holding the app's records.
func (a *App) TableName() string {
	if a.Dedicated {
		return inflection.Plural(a.Entity)
	}
	return SharedDataTable
}

// Entry builds the apps-table row for this definition.
func (a *App) Entry() (*models.AppCatalogEntry, error) {
	schema, err := json.Marshal(map[string]any{"entity": a.Entity, "fields": a.Fields})
	if err != nil {
		return nil, fmt.Errorf("marshal field schema of %s: %w", a.Key, err)
	}
	return &models.AppCatalogEntry{
		AppKey:      a.Key,
		Name:        a.Name,
		Description: a.Description,
		Icon:        a.Icon,
		Color:       a.Color,
		TableName:   a.TableName(),
		FieldSchema: schema,
		Status:      models.AppStatusActive,
	}, nil
}

// Catalog is an immutable set of app definitions.
type Catalog struct {
	apps map[string]*App
}

// Parse reads a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Apps []*App `yaml:"apps"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse app catalog: %w", err)
	}

	c := &Catalog{apps: make(map[string]*App, len(doc.Apps))}
	for _, app := range doc.Apps {
		if app.Key == "" || app.Entity == "" {
			return nil, fmt.Errorf("app catalog: entry %q needs key and entity", app.Name)
		}
		if _, dup := c.apps[app.Key]; dup {
			return nil, fmt.Errorf("app catalog: duplicate key %q", app.Key)
		}
		c.apps[app.Key] = app
	}
	return c, nil
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(appsYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the definition of key.
func (c *Catalog) Lookup(key string) (*App, bool) {
	app, ok := c.apps[key]
	return app, ok
}

// Keys returns all app keys in sorted order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.apps))
	for k := range c.apps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Resolve maps keys to definitions, failing on the first unknown key.
// Duplicate keys are collapsed.
func (c *Catalog) Resolve(keys []string) ([]*App, error) {
	seen := make(map[string]bool, len(keys))
	apps := make([]*App, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		app, ok := c.apps[k]
		if !ok {
			return nil, fmt.Errorf("%w: unknown app %q", apperrors.ErrInvalidRequest, k)
		}
		seen[k] = true
		apps = append(apps, app)
	}
	return apps, nil
}
