package prompt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nikhilbhutani/promptlib/internal/models"
)

const templateErrorType = "CustomTemplateError"

// TemplateError locates a template syntax error inside a predict payload.
// Loc is ["context"] or ["messages", index].
type TemplateError struct {
	Msg string
	Loc []any
	Err error
}

func (e *TemplateError) Error() string {
	parts := make([]string, len(e.Loc))
	for i, l := range e.Loc {
		switch v := l.(type) {
		case string:
			parts[i] = v
		case int:
			parts[i] = strconv.Itoa(v)
		}
	}
	return fmt.Sprintf("%s at %s: %v", e.Msg, strings.Join(parts, "."), e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

func (e *TemplateError) Type() string { return templateErrorType }

// TemplateErrorDetail is the client-facing form of a TemplateError.
type TemplateErrorDetail struct {
	OK   bool   `json:"ok"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
	Loc  []any  `json:"loc"`
}

func (e *TemplateError) Detail() TemplateErrorDetail {
	return TemplateErrorDetail{OK: false, Msg: e.Msg, Type: templateErrorType, Loc: e.Loc}
}

// PrepareConversation renders a merged payload into the ordered message list
// sent to the model: context, templated messages, chat history, user input.
// The first template syntax error aborts with a *TemplateError.
func PrepareConversation(p *PredictPayload) ([]Message, error) {
	vars := p.Bindings()
	messages := make([]Message, 0, len(p.Messages.Value)+len(p.ChatHistory.Value)+2)

	if tpl := p.Context.Value; tpl != "" {
		content, err := Resolve(tpl, vars)
		if err != nil {
			return nil, localize(err, "Context template error", "context")
		}
		messages = append(messages, Message{Role: models.RoleSystem, Content: content})
	}

	for idx, m := range p.Messages.Value {
		content, err := Resolve(m.Content, vars)
		if err != nil {
			return nil, localize(err, "Message template error", "messages", idx)
		}
		m.Content = content
		messages = append(messages, m)
	}

	messages = append(messages, p.ChatHistory.Value...)

	if input := p.UserInput.Value; input != "" {
		messages = append(messages, Message{
			Role:    models.RoleUser,
			Content: input,
			Name:    p.UserName.Value,
		})
	}
	return messages, nil
}

func localize(err error, msg string, loc ...any) error {
	if errors.Is(err, ErrTemplateSyntax) {
		return &TemplateError{Msg: msg, Loc: loc, Err: err}
	}
	return fmt.Errorf("%s: %w", strings.ToLower(msg), err)
}
