package prompt

import "text/template"

// Config describes a prompt definition loaded from YAML.
type Config struct {
	Slug         string `yaml:"slug" json:"slug"`
	Name         string `yaml:"name,omitempty" json:"name,omitempty"`
	Description  string `yaml:"description,omitempty" json:"description,omitempty"`
	Version      string `yaml:"version,omitempty" json:"version,omitempty"`
	UserTemplate string `yaml:"user_template,omitempty" json:"user_template,omitempty"`
}

// Prompt wraps a validated prompt configuration with its source.
type Prompt struct {
	Config Config
	Source string

	tmpl *template.Template
}

// Build is the hardware description a roast is generated for. Fields are
// inserted into the template verbatim.
type Build struct {
	Processor   string
	GPU         string
	Motherboard string
	PSU         string
	RAM         string
	Storage     string
	UseCase     string
}
