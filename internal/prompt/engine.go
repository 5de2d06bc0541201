// Package prompt renders the templated prompts handed to agents: the master
// prompt returned by register, the registration rules injected into the
// agent's context, and the DM/mention prompts built by the invocation engine.
//
// The template language is deliberately tiny: `{{ var }}` substitution,
// `{% include 'file' %}`, and `{% if var %}...{% else %}...{% endif %}` where
// an empty or whitespace-only value is falsy. Templates are loaded from the
// configured prompts directory when present, falling back to the embedded
// defaults.
package prompt

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

//go:embed templates/*.md
var defaults embed.FS

// maxIncludeDepth bounds include recursion.
const maxIncludeDepth = 8

// Engine renders named templates with variable maps.
type Engine struct {
	dir string // optional override directory; "" = embedded only
}

// NewEngine creates an engine. dir may be empty, in which case only the
// embedded templates are used. Files in dir shadow embedded templates of the
// same name.
func NewEngine(dir string) *Engine {
	return &Engine{dir: dir}
}

func (e *Engine) load(name string) (string, error) {
	if e.dir != "" {
		if b, err := os.ReadFile(filepath.Join(e.dir, name)); err == nil {
			return string(b), nil
		}
	}
	b, err := defaults.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("template %q not found: %w", name, err)
	}
	return string(b), nil
}

// Render loads and renders the named template with vars.
func (e *Engine) Render(name string, vars map[string]string) (string, error) {
	return e.render(name, vars, 0)
}

func (e *Engine) render(name string, vars map[string]string, depth int) (string, error) {
	if depth > maxIncludeDepth {
		return "", fmt.Errorf("template %q: include depth exceeded", name)
	}
	tpl, err := e.load(name)
	if err != nil {
		return "", err
	}
	expanded, err := e.expandIncludes(tpl, vars, depth)
	if err != nil {
		return "", fmt.Errorf("template %q: %w", name, err)
	}
	out, err := evalConditionals(expanded, vars)
	if err != nil {
		return "", fmt.Errorf("template %q: %w", name, err)
	}
	return substitute(out, vars), nil
}

var includeRe = regexp.MustCompile(`\{%\s*include\s+'([^']+)'\s*%\}`)

func (e *Engine) expandIncludes(tpl string, vars map[string]string, depth int) (string, error) {
	var firstErr error
	out := includeRe.ReplaceAllStringFunc(tpl, func(m string) string {
		name := includeRe.FindStringSubmatch(m)[1]
		sub, err := e.render(name, vars, depth+1)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return sub
	})
	return out, firstErr
}

var (
	ifRe    = regexp.MustCompile(`\{%\s*if\s+(\w+)\s*%\}`)
	elseRe  = regexp.MustCompile(`^\{%\s*else\s*%\}$`)
	endifRe = regexp.MustCompile(`^\{%\s*endif\s*%\}$`)
	tagRe   = regexp.MustCompile(`\{%\s*(?:if\s+\w+|else|endif)\s*%\}`)
	varRe   = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)
)

// evalConditionals resolves if/else/endif blocks, innermost-first is not
// required: the token walk tracks nesting depth explicitly.
func evalConditionals(tpl string, vars map[string]string) (string, error) {
	tags := tagRe.FindAllStringIndex(tpl, -1)
	var out strings.Builder
	pos := 0
	i := 0
	var eval func(emit bool) error
	eval = func(emit bool) error {
		for i < len(tags) {
			start, end := tags[i][0], tags[i][1]
			tag := tpl[start:end]
			if emit {
				out.WriteString(tpl[pos:start])
			}
			pos = end
			i++
			switch {
			case ifRe.MatchString(tag):
				cond := ifRe.FindStringSubmatch(tag)[1]
				truthy := strings.TrimSpace(vars[cond]) != ""
				if err := evalBranch(tpl, vars, tags, &i, &pos, &out, emit && truthy, emit && !truthy); err != nil {
					return err
				}
			case elseRe.MatchString(tag), endifRe.MatchString(tag):
				// Handled by evalBranch; reaching one here means it is unmatched.
				return fmt.Errorf("unmatched %s", tag)
			}
		}
		if emit {
			out.WriteString(tpl[pos:])
		}
		return nil
	}
	if err := eval(true); err != nil {
		return "", err
	}
	return out.String(), nil
}

// evalBranch consumes tokens up to the matching endif, emitting the then
// branch or the else branch as directed.
func evalBranch(tpl string, vars map[string]string, tags [][]int, i, pos *int, out *strings.Builder, emitThen, emitElse bool) error {
	emit := emitThen
	for *i < len(tags) {
		start, end := tags[*i][0], tags[*i][1]
		tag := tpl[start:end]
		if emit {
			out.WriteString(tpl[*pos:start])
		}
		*pos = end
		*i++
		switch {
		case ifRe.MatchString(tag):
			cond := ifRe.FindStringSubmatch(tag)[1]
			truthy := strings.TrimSpace(vars[cond]) != ""
			if err := evalBranch(tpl, vars, tags, i, pos, out, emit && truthy, emit && !truthy); err != nil {
				return err
			}
		case elseRe.MatchString(tag):
			emit = emitElse
		case endifRe.MatchString(tag):
			return nil
		}
	}
	return fmt.Errorf("missing endif")
}

func substitute(tpl string, vars map[string]string) string {
	return varRe.ReplaceAllStringFunc(tpl, func(m string) string {
		name := varRe.FindStringSubmatch(m)[1]
		return vars[name]
	})
}

// MasterPrompt renders the master prompt returned to an agent by register.
func (e *Engine) MasterPrompt(vars map[string]string) (string, error) {
	return e.Render("master.md", vars)
}

// InjectPrompt renders the registration rules an agent is told to follow.
func (e *Engine) InjectPrompt(vars map[string]string) (string, error) {
	return e.Render("inject.md", vars)
}

// DMPrompt renders the prompt dispatched for a direct message.
func (e *Engine) DMPrompt(vars map[string]string) (string, error) {
	return e.Render("dm.md", vars)
}

// MentionPrompt renders the prompt dispatched for a channel @-mention.
func (e *Engine) MentionPrompt(vars map[string]string) (string, error) {
	return e.Render("mention.md", vars)
}
