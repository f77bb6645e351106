// Package catalog loads the read-only challenge definition. The item
// list is fixed at definition time; the rest of the system reads the
// catalog size from here instead of assuming a constant.
package catalog

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/terra-clan/challenge-board/internal/models"
)

// Load reads and validates a challenge catalog from a YAML file.
func Load(path string) (*models.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var c models.Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}

	if err := validate(&c); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}

	slog.Info("catalog loaded", "id", c.ID, "name", c.Name, "items", c.Size())
	return &c, nil
}

func validate(c *models.Catalog) error {
	if c.ID == "" {
		return fmt.Errorf("catalog id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("catalog name is required")
	}
	if len(c.Items) == 0 {
		return fmt.Errorf("catalog has no items")
	}

	seen := make(map[string]bool, len(c.Items))
	for i, item := range c.Items {
		if item.ID == "" {
			return fmt.Errorf("item %d has no id", i)
		}
		if item.DisplayName == "" {
			return fmt.Errorf("item %q has no name", item.ID)
		}
		if seen[item.ID] {
			return fmt.Errorf("duplicate item id %q", item.ID)
		}
		seen[item.ID] = true
	}

	return nil
}
