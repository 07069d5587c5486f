package prompt

import (
	"fmt"
	"strings"
)

// Render fills the template for b.
func (p *Prompt) Render(b Build) (string, error) {
	if p == nil || p.tmpl == nil {
		return "", fmt.Errorf("prompt not configured")
	}

	var sb strings.Builder
	if err := p.tmpl.Execute(&sb, b); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", p.Config.Slug, err)
	}
	return sb.String(), nil
}
