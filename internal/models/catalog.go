package models

// ChecklistItem is one entry of the challenge catalog.
type ChecklistItem struct {
	ID          string `yaml:"id" json:"id"`
	DisplayName string `yaml:"name" json:"name"`
	Category    string `yaml:"category" json:"category"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// Catalog is the fixed, read-only challenge definition all participants
// work through. Item order is catalog order.
type Catalog struct {
	ID    string          `yaml:"id" json:"id"`
	Name  string          `yaml:"name" json:"name"`
	Date  string          `yaml:"date" json:"date,omitempty"`
	Venue string          `yaml:"venue" json:"venue,omitempty"`
	Items []ChecklistItem `yaml:"items" json:"items"`
}

// Size is the number of checklist items. Completion is defined as
// CompletedCount reaching this value.
func (c *Catalog) Size() int {
	return len(c.Items)
}

// Item returns the catalog item with the given id, or nil.
func (c *Catalog) Item(id string) *ChecklistItem {
	for i := range c.Items {
		if c.Items[i].ID == id {
			return &c.Items[i]
		}
	}
	return nil
}
