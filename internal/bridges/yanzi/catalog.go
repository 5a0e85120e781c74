package yanzi

import (
	_ "embed"
	"fmt"
	"maps"

	"github.com/BurntSushi/toml"
)

// DefaultManufacturer is reported for every Yanzi device.
const DefaultManufacturer = "Yanzi Networks"

//go:embed models.toml
var embeddedModels string

type catalogFile struct {
	Manufacturer string            `toml:"manufacturer"`
	Models       map[string]string `toml:"models"`
}

// Catalog maps Yanzi product types to model names.
//
// A Catalog is immutable once loaded and safe for concurrent use.
type Catalog struct {
	manufacturer string
	models       map[string]string
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() *Catalog {
	c, err := parseCatalog(embeddedModels)
	if err != nil {
		panic(fmt.Sprintf("yanzi: embedded models.toml: %v", err))
	}
	return c
}

// LoadCatalog returns the embedded catalog overlaid with the entries of the
// TOML file at path. An empty path returns the embedded catalog.
func LoadCatalog(path string) (*Catalog, error) {
	c := DefaultCatalog()
	if path == "" {
		return c, nil
	}

	var extra catalogFile
	if _, err := toml.DecodeFile(path, &extra); err != nil {
		return nil, fmt.Errorf("loading device catalog %s: %w", path, err)
	}

	if extra.Manufacturer != "" {
		c.manufacturer = extra.Manufacturer
	}
	maps.Copy(c.models, extra.Models)
	return c, nil
}

func parseCatalog(doc string) (*Catalog, error) {
	var f catalogFile
	if _, err := toml.Decode(doc, &f); err != nil {
		return nil, err
	}

	c := &Catalog{
		manufacturer: f.Manufacturer,
		models:       f.Models,
	}
	if c.manufacturer == "" {
		c.manufacturer = DefaultManufacturer
	}
	if c.models == nil {
		c.models = make(map[string]string)
	}
	return c, nil
}

// Model returns the model name for productType, or productType itself when
// it is not catalogued.
func (c *Catalog) Model(productType string) string {
	if m, ok := c.models[productType]; ok {
		return m
	}
	return productType
}

// Manufacturer returns the manufacturer name.
func (c *Catalog) Manufacturer() string {
	return c.manufacturer
}

// Len returns the number of catalogued product types.
func (c *Catalog) Len() int {
	return len(c.models)
}
