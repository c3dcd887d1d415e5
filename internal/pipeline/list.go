package pipeline

import "strings"

// Entry describes one runnable name for listings.
type Entry struct {
	Name        string
	Kind        string
	Description string
	// Targets for multi-target tasks; steps for aliases.
	Items []string
}

// Tasks lists registered tasks in registration order.
func (p *Pipeline) Tasks() []Entry {
	defs := p.registry.Definitions()
	out := make([]Entry, 0, len(defs))
	for _, d := range defs {
		out = append(out, Entry{
			Name:        d.Name,
			Kind:        d.Kind.String(),
			Description: d.Description,
			Items:       d.Targets,
		})
	}
	return out
}

// Aliases lists aliases in definition order.
func (p *Pipeline) Aliases() []Entry {
	names := p.resolver.Names()
	out := make([]Entry, 0, len(names))
	for _, n := range names {
		a, _ := p.resolver.Alias(n)
		items := make([]string, len(a.Steps))
		for i, s := range a.Steps {
			items[i] = s.String()
		}
		out = append(out, Entry{Name: n, Kind: "alias", Description: a.Description, Items: items})
	}
	return out
}

// Describe renders a one-line summary of e.
func (e Entry) Describe() string {
	var b strings.Builder
	b.WriteString(e.Description)
	if len(e.Items) > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString("[" + strings.Join(e.Items, ", ") + "]")
	}
	return b.String()
}
