package sovereign

import (
	"regexp"
	"strings"
)

// markdownLinkPattern matches inline markdown links: [text](target).
// Targets starting with http(s):// are tagged LINKS_TO rather than
// REFERENCES, since they leave the sovereign store's own graph.
var markdownLinkPattern = regexp.MustCompile(`\[[^\]]*\]\(([^)\s]+)\)`)

// MarkdownLinkParser extracts REFERENCES/LINKS_TO edges from markdown
// inline links. It is the default EdgeParser for .md documents and
// returns no edges for anything else.
type MarkdownLinkParser struct{}

func (MarkdownLinkParser) Parse(path string, content []byte) ([]DiscoveredEdge, error) {
	if !strings.HasSuffix(path, ".md") && !strings.HasSuffix(path, ".markdown") {
		return nil, nil
	}

	var edges []DiscoveredEdge
	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		matches := markdownLinkPattern.FindAllStringSubmatch(line, -1)
		for _, m := range matches {
			target := m[1]
			kind := "REFERENCES"
			if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
				kind = "LINKS_TO"
			}
			lineNo := i + 1
			edges = append(edges, DiscoveredEdge{
				Kind:       kind,
				Target:     target,
				LineNumber: &lineNo,
				Context:    strings.TrimSpace(line),
			})
		}
	}
	return edges, nil
}
