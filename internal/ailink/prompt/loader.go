package prompt

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Load parses a prompt definition from YAML bytes. Markdown with YAML
// frontmatter is accepted too; the body then becomes the user template.
func Load(source string, data []byte) (*Prompt, error) {
	config, body, err := parseYAMLWithFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", source, err)
	}

	if strings.TrimSpace(config.UserTemplate) == "" {
		config.UserTemplate = strings.TrimSpace(body)
	}
	if strings.TrimSpace(config.UserTemplate) == "" {
		return nil, fmt.Errorf("prompt %s missing user_template", source)
	}
	if strings.TrimSpace(config.Slug) == "" {
		config.Slug = DefaultSlug
	}

	return compile(config, source)
}

// LoadFile reads a prompt definition from path. An empty path yields the
// built-in prompt.
func LoadFile(path string) (*Prompt, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- prompt path is operator-provided
	if err != nil {
		return nil, fmt.Errorf("read prompt %s: %w", path, err)
	}
	return Load(path, data)
}

func compile(config Config, source string) (*Prompt, error) {
	p := &Prompt{Config: config, Source: source}

	tmpl, err := template.New(config.Slug).Option("missingkey=error").Parse(config.UserTemplate)
	if err != nil {
		return nil, fmt.Errorf("validate prompt %s: %w", source, err)
	}
	p.tmpl = tmpl

	// Catch references to fields Build does not have before the first request.
	if _, err := p.Render(Build{}); err != nil {
		return nil, fmt.Errorf("validate prompt %s: %w", source, err)
	}

	return p, nil
}

func parseYAMLWithFrontmatter(data []byte) (Config, string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Config{}, "", fmt.Errorf("empty prompt")
	}

	lines := bufio.NewScanner(bytes.NewReader(trimmed))
	lines.Split(bufio.ScanLines)

	var (
		frontmatter []string
		body        []string
		inFront     bool
		headerSeen  bool
	)

	for lines.Scan() {
		line := lines.Text()
		switch {
		case !headerSeen && strings.TrimSpace(line) == "---":
			headerSeen = true
			inFront = true
		case headerSeen && inFront && strings.TrimSpace(line) == "---":
			inFront = false
		default:
			if inFront {
				frontmatter = append(frontmatter, line)
			} else {
				body = append(body, line)
			}
		}
	}
	if err := lines.Err(); err != nil {
		return Config{}, "", err
	}

	var cfg Config
	if !headerSeen {
		// Plain YAML has no body; the template must come from user_template.
		if err := yaml.Unmarshal(trimmed, &cfg); err != nil {
			return Config{}, "", fmt.Errorf("invalid yaml: %w", err)
		}
		return cfg, "", nil
	}

	if err := yaml.Unmarshal([]byte(strings.Join(frontmatter, "\n")), &cfg); err != nil {
		return Config{}, "", fmt.Errorf("invalid frontmatter: %w", err)
	}
	return cfg, strings.Join(body, "\n"), nil
}
