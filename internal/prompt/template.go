package prompt

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
)

// ErrTemplateSyntax is matched by every error returned for unparsable template text.
var ErrTemplateSyntax = errors.New("template syntax error")

// SyntaxError reports template text that could not be parsed.
type SyntaxError struct {
	Line   int
	Column int
	Reason string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("template syntax error at line %d, column %d: %s", e.Line, e.Column, e.Reason)
	}
	return "template syntax error: " + e.Reason
}

func (e *SyntaxError) Is(target error) bool {
	return target == ErrTemplateSyntax
}

// RenderError reports a template that parsed but failed while executing.
type RenderError struct {
	Reason string
}

func (e *RenderError) Error() string {
	return "template render error: " + e.Reason
}

// printRoot matches a print tag and captures the root identifier and the rest
// of the expression up to the closing braces.
var printRoot = regexp.MustCompile(`\{\{-?\s*([A-Za-z_][A-Za-z0-9_]*)([^}]*)\}\}`)

// printTag splits a print tag into its whitespace markers, root identifier
// and trailing expression.
var printTag = regexp.MustCompile(`\{\{(-?)\s*([A-Za-z_][A-Za-z0-9_]*)([^}]*?)\s*(-?)\}\}`)

// lookupChain matches attribute and index access followed by an optional
// filter chain, e.g. ".name", ".0|upper" or "[1]".
var lookupChain = regexp.MustCompile(`^((?:\s*\.\s*[A-Za-z0-9_]+|\s*\[[^\]]*\])*)\s*(\|.*)?$`)

var (
	loopTarget  = regexp.MustCompile(`\{%-?\s*for\s+([A-Za-z0-9_,\s]+?)\s+in\b`)
	setTarget   = regexp.MustCompile(`\{%-?\s*set\s+([A-Za-z_][A-Za-z0-9_]*)\s*=`)
	withTag     = regexp.MustCompile(`\{%-?\s*with\s+([^%]*)-?%\}`)
	macroArgs   = regexp.MustCompile(`\{%-?\s*macro\s+[A-Za-z_][A-Za-z0-9_]*\s*\(([^)]*)\)`)
	asTarget    = regexp.MustCompile(`\bas\s+([A-Za-z_][A-Za-z0-9_]*)\s*-?%\}`)
	assignment  = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*=`)
	identifier  = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	verbatimTag = regexp.MustCompile(`(?s)\{% verbatim %\}.*?\{% endverbatim %\}`)
)

// validName mirrors the identifiers pongo2 accepts as context keys.
var validName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

var bannedTags = []string{"include", "extends", "import", "ssi"}

var templates = newTemplateSet()

// parseMu serializes parsing; TemplateSet.FromString mutates the set without
// locking. Executing a parsed template is safe concurrently.
var parseMu sync.Mutex

func init() {
	pongo2.SetAutoescape(false)
}

func newTemplateSet() *pongo2.TemplateSet {
	set := pongo2.NewSet("prompts", refusingLoader{})
	for _, tag := range bannedTags {
		_ = set.BanTag(tag)
	}
	return set
}

func parse(text string) (*pongo2.Template, error) {
	parseMu.Lock()
	defer parseMu.Unlock()
	return templates.FromString(text)
}

// refusingLoader keeps stored templates from reading anything off disk.
type refusingLoader struct{}

func (refusingLoader) Abs(_, name string) string { return name }

func (refusingLoader) Get(path string) (io.Reader, error) {
	return nil, fmt.Errorf("template loading is disabled: %s", path)
}

// Resolve renders template against bindings. A print whose root variable has
// no binding renders as a literal placeholder of the printed expression, e.g.
// "{{ user.name }}", with any filters applied to that text. Unbound variables
// stay undefined everywhere else, so conditions treat them as false and loops
// over them are empty. Unparsable template text returns a *SyntaxError;
// execution failures a *RenderError.
func Resolve(template string, bindings map[string]any) (string, error) {
	tpl, err := parse(template)
	if err != nil {
		return "", newSyntaxError(err)
	}

	ctx := make(pongo2.Context, len(bindings))
	for name, value := range bindings {
		if validName.MatchString(name) {
			ctx[name] = value
		}
	}

	if text, placeholders := rewriteUnbound(template, ctx); len(placeholders) > 0 {
		if tpl, err = parse(text); err != nil {
			return "", newSyntaxError(err)
		}
		for name, value := range placeholders {
			ctx[name] = value
		}
	}

	out, err := tpl.Execute(ctx)
	if err != nil {
		return "", &RenderError{Reason: err.Error()}
	}
	return out, nil
}

// ExtractVariables returns the unique root identifiers printed by the template,
// in the order they first appear.
func ExtractVariables(template string) []string {
	seen := make(map[string]bool)
	var vars []string
	for _, m := range printRoot.FindAllStringSubmatch(template, -1) {
		if name := m[1]; !seen[name] && !isKeyword(name) {
			vars = append(vars, name)
			seen[name] = true
		}
	}
	return vars
}

// rewriteUnbound replaces every print of an unbound root with a print of a
// generated variable holding the placeholder text. Prints that fall back
// through the default filter, names the template binds itself and
// expressions other than a lookup chain are left to the engine.
func rewriteUnbound(template string, ctx pongo2.Context) (string, map[string]string) {
	local := localNames(template)
	verbatim := verbatimTag.FindAllStringIndex(template, -1)
	placeholders := make(map[string]string)

	var b strings.Builder
	last := 0
	for _, m := range printTag.FindAllStringSubmatchIndex(template, -1) {
		if within(verbatim, m[0]) {
			continue
		}
		open, name, rest, closing := template[m[2]:m[3]], template[m[4]:m[5]], template[m[6]:m[7]], template[m[8]:m[9]]
		if _, ok := ctx[name]; ok || local[name] || isKeyword(name) {
			continue
		}
		chain := lookupChain.FindStringSubmatch(rest)
		if chain == nil || strings.Contains(chain[2], "default") {
			continue
		}

		key := fmt.Sprintf("_unbound%d", len(placeholders))
		placeholders[key] = "{{ " + name + strings.Join(strings.Fields(chain[1]), "") + " }}"

		b.WriteString(template[last:m[0]])
		b.WriteString("{{" + open + " " + key + chain[2] + " " + closing + "}}")
		last = m[1]
	}
	if len(placeholders) == 0 {
		return template, nil
	}
	b.WriteString(template[last:])
	return b.String(), placeholders
}

// localNames collects variables the template binds for itself through loops,
// set, with, macro arguments and "as" clauses.
func localNames(template string) map[string]bool {
	names := map[string]bool{"forloop": true}
	add := func(s string) {
		for _, id := range identifier.FindAllString(s, -1) {
			names[id] = true
		}
	}
	for _, m := range loopTarget.FindAllStringSubmatch(template, -1) {
		add(m[1])
	}
	for _, m := range setTarget.FindAllStringSubmatch(template, -1) {
		add(m[1])
	}
	for _, m := range asTarget.FindAllStringSubmatch(template, -1) {
		add(m[1])
	}
	for _, m := range withTag.FindAllStringSubmatch(template, -1) {
		for _, a := range assignment.FindAllStringSubmatch(m[1], -1) {
			add(a[1])
		}
	}
	for _, m := range macroArgs.FindAllStringSubmatch(template, -1) {
		for _, arg := range strings.Split(m[1], ",") {
			if id := identifier.FindString(arg); id != "" {
				names[id] = true
			}
		}
	}
	return names
}

func within(ranges [][]int, pos int) bool {
	for _, r := range ranges {
		if pos >= r[0] && pos < r[1] {
			return true
		}
	}
	return false
}

func isKeyword(name string) bool {
	switch name {
	case "true", "false", "True", "False", "None", "nil", "not", "in", "and", "or":
		return true
	}
	return false
}

func newSyntaxError(err error) *SyntaxError {
	var perr *pongo2.Error
	if errors.As(err, &perr) {
		reason := err.Error()
		if perr.OrigError != nil {
			reason = perr.OrigError.Error()
		}
		return &SyntaxError{Line: perr.Line, Column: perr.Column, Reason: reason}
	}
	return &SyntaxError{Reason: err.Error()}
}
