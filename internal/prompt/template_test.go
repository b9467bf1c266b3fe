package prompt

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		template string
		bindings map[string]any
		want     string
	}{
		{"plain text", "no variables here", nil, "no variables here"},
		{"interpolation", "You are {{persona}}", map[string]any{"persona": "a pirate"}, "You are a pirate"},
		{"undefined variable", "Hello {{name}}", nil, "Hello {{ name }}"},
		{"undefined with spaces", "Hello {{ name }}!", map[string]any{}, "Hello {{ name }}!"},
		{"mixed", "{{ greeting }}, {{ name }}", map[string]any{"greeting": "Hi"}, "Hi, {{ name }}"},
		{"conditional", "{% if formal %}Dear{% else %}Hey{% endif %} {{ who }}", map[string]any{"formal": "", "who": "Sam"}, "Hey Sam"},
		{"loop", "{% for t in topics %}[{{ t }}]{% endfor %}", map[string]any{"topics": []string{"go", "sql"}}, "[go][sql]"},
		{"default filter", `{{ tone|default:"neutral" }}`, nil, "neutral"},
		{"filter on bound", "{{ name|upper }}", map[string]any{"name": "ada"}, "ADA"},
		{"no autoescape", "{{ html }}", map[string]any{"html": "<b>&</b>"}, "<b>&</b>"},
		{"invalid binding key ignored", "ok {{ a }}", map[string]any{"a": "1", "not-valid": "x"}, "ok 1"},
		{"dotted access on unbound root", "Hi {{ user.name }}", map[string]any{}, "Hi {{ user.name }}"},
		{"indexed access on unbound root", "{{ items.0 }}", nil, "{{ items.0 }}"},
		{"bracket index on unbound root", "{{ items[1] }}", nil, "{{ items[1] }}"},
		{"bare and dotted unbound", "{{ name }} and {{ name.first }}", nil, "{{ name }} and {{ name.first }}"},
		{"filter on placeholder", "{{ name|upper }}", nil, "{{ NAME }}"},
		{"filter on dotted placeholder", "{{ user.name|lower }}", nil, "{{ user.name }}"},
		{"whitespace control on placeholder", "a {{- name -}} b", nil, "a{{ name }}b"},
		{"missing in condition", "{% if missing %}yes{% else %}no{% endif %}", nil, "no"},
		{"missing in condition and printed", "{% if missing %}yes{% else %}no{% endif %} {{ missing }}", nil, "no {{ missing }}"},
		{"negated missing", "{% if not missing %}absent{% endif %}", nil, "absent"},
		{"loop over missing", "{% for x in missing %}[{{ x }}]{% endfor %}", nil, ""},
		{"loop over missing with empty", "{% for x in missing %}{{ x }}{% empty %}none{% endfor %}", nil, "none"},
		{"loop variable not replaced", "{% for t in topics %}{{ t.title }};{% endfor %}", map[string]any{"topics": []map[string]string{{"title": "go"}}}, "go;"},
		{"dotted access on bound root", "{{ user.name }}", map[string]any{"user": map[string]any{"name": "Ada"}}, "Ada"},
		{"default on dotted unbound", `{{ user.name|default:"anon" }}`, nil, "anon"},
		{"verbatim untouched", "{% verbatim %}{{ raw }}{% endverbatim %}", nil, "{{ raw }}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.template, tt.bindings)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveSyntaxErrors(t *testing.T) {
	for _, tpl := range []string{
		"{% if %}",
		"{% bad %}",
		"{% if x %}never closed",
		"{% for %}{% endfor %}",
		`{% include "/etc/passwd" %}`,
		`{% extends "base.html" %}`,
		"{{ x|nosuchfilter }}",
	} {
		t.Run(tpl, func(t *testing.T) {
			_, err := Resolve(tpl, map[string]any{"x": "1"})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTemplateSyntax)

			var syn *SyntaxError
			require.True(t, errors.As(err, &syn))
			assert.NotEmpty(t, syn.Reason)
		})
	}
}

// TestResolveConcurrent is meant to run under the race detector.
func TestResolveConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("n=%d {{ missing }} {{ user.name }}", i)
			got, err := Resolve("n={{ n }} {{ missing }} {{ user.name }}", map[string]any{"n": i})
			if err == nil && got == want {
				got, err = Resolve(fmt.Sprintf("plain %d", i), nil)
				want = fmt.Sprintf("plain %d", i)
			}
			if err != nil {
				errs <- err
				return
			}
			if got != want {
				errs <- fmt.Errorf("got %q, want %q", got, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestExtractVariables(t *testing.T) {
	got := ExtractVariables("{{ a }} {{b|upper}} {{ a }} {{ user.name }} {% if c %}{{ true }}{% endif %}")
	assert.Equal(t, []string{"a", "b", "user"}, got)
	assert.Empty(t, ExtractVariables("nothing to see"))
}
