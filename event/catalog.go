package event

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

/* Catalog is the closed set of event types the platform emits.
 * Registrations are validated against it so a subscription can never
 * name an event that will never fire.
 */

// defaultTypes covers the marketplace domains: bids, RFQs, documents
// and business verification.
var defaultTypes = []string{
	"bid.created",
	"bid.updated",
	"bid.withdrawn",
	"bid.accepted",
	"rfq.created",
	"rfq.updated",
	"rfq.closed",
	"rfq.awarded",
	"document.uploaded",
	"document.signed",
	"document.rejected",
	"business.verified",
	"business.rejected",
}

// catalogFile represents the structure of events.yaml
type catalogFile struct {
	Events []catalogEntry `yaml:"events"`
}

// catalogEntry represents a single event type in the YAML file
type catalogEntry struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// Catalog holds the recognized event types
type Catalog struct {
	types map[string]struct{}
}

// NewCatalog creates a catalog with the built-in marketplace event types
func NewCatalog() *Catalog {
	c := &Catalog{types: make(map[string]struct{}, len(defaultTypes))}
	for _, t := range defaultTypes {
		c.types[t] = struct{}{}
	}
	return c
}

// LoadCatalog reads and parses an events.yaml file into a catalog,
// replacing the built-in set.
func LoadCatalog(filePath string) (*Catalog, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading events file: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing events YAML: %w", err)
	}

	if len(file.Events) == 0 {
		return nil, fmt.Errorf("events file declares no event types")
	}

	c := &Catalog{types: make(map[string]struct{}, len(file.Events))}
	for _, entry := range file.Events {
		if err := ValidateType(entry.Type); err != nil {
			return nil, fmt.Errorf("validating event type: %w", err)
		}
		if entry.Type == TypePing {
			return nil, fmt.Errorf("event type %q is reserved", TypePing)
		}
		c.types[entry.Type] = struct{}{}
	}

	return c, nil
}

// Recognizes reports whether the given type belongs to the catalog
func (c *Catalog) Recognizes(eventType string) bool {
	_, ok := c.types[eventType]
	return ok
}

// ValidateSubscribed checks that every entry in types is a recognized
// event type. Used on registration and update.
func (c *Catalog) ValidateSubscribed(types []string) error {
	if len(types) == 0 {
		return fmt.Errorf("at least one event type is required")
	}
	for _, t := range types {
		if !c.Recognizes(t) {
			return fmt.Errorf("unknown event type: %s", t)
		}
	}
	return nil
}

// Types returns the recognized event types in sorted order
func (c *Catalog) Types() []string {
	types := make([]string, 0, len(c.types))
	for t := range c.types {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
