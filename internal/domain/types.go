package domain

// Metadata is an unstructured metadata container for domain entities.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	copy := make(Metadata, len(m))
	for k, v := range m {
		copy[k] = v
	}
	return copy
}

// Row holds one dataset row's values keyed by column name.
type Row map[string]any

// Column describes one typed dataset column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}
