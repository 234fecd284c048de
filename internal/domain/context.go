package domain

// ContextKind distinguishes file-derived from inline context.
type ContextKind string

const (
	ContextFile   ContextKind = "file"
	ContextInline ContextKind = "inline"
)

// ContextItem is one piece of augmentation injected before the prompt.
// Tokens is the estimated cost of the item's formatted block.
type ContextItem struct {
	Kind     ContextKind `json:"kind"`
	Label    string      `json:"label"`
	Content  string      `json:"content"`
	Language string      `json:"language"`
	Tokens   int         `json:"tokens"`
}

// PromptTemplate is a reusable prompt skeleton with {var} placeholders.
type PromptTemplate struct {
	Name      string   `yaml:"name" json:"name"`
	Category  Category `yaml:"category" json:"category"`
	Variables []string `yaml:"variables" json:"variables"`
	System    string   `yaml:"system,omitempty" json:"system,omitempty"`
	Body      string   `yaml:"body" json:"body"`

	// Source is the file the template was loaded from.
	Source string `yaml:"-" json:"source,omitempty"`
}
