package service

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"yarn-agent/model"
)

//go:embed replies.yaml
var defaultReplies []byte

// ResponseSelector turns a reply selector into text.
type ResponseSelector interface {
	Select(sel model.ReplySelector) string
}

type replyTemplates struct {
	Crisis string                                      `yaml:"crisis"`
	Open   string                                      `yaml:"open"`
	Steps  map[model.Step]map[model.Subcategory]string `yaml:"steps"`
}

// TemplateSelector picks one fixed line per step and subcategory. When the
// selector names a next step, that step's prompt follows.
type TemplateSelector struct {
	t replyTemplates
}

// NewTemplateSelector parses a reply file. Nil data loads the built-in replies.
func NewTemplateSelector(data []byte) (*TemplateSelector, error) {
	if data == nil {
		data = defaultReplies
	}
	var t replyTemplates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse replies: %w", err)
	}
	if t.Crisis == "" {
		return nil, fmt.Errorf("parse replies: crisis message is empty")
	}
	return &TemplateSelector{t: t}, nil
}

func (s *TemplateSelector) Select(sel model.ReplySelector) string {
	switch sel.Subcategory {
	case model.SubCrisis:
		return s.t.Crisis
	case model.SubOpen:
		return s.t.Open
	}

	text := s.line(sel.Step, sel.Subcategory, sel.Sentiment)
	if sel.NextStep != "" && sel.NextStep != sel.Step {
		if prompt := s.line(sel.NextStep, model.SubPrompt, ""); prompt != "" {
			text = strings.TrimSpace(text + " " + prompt)
		}
	}
	if text == "" {
		return s.line(sel.Step, model.SubPrompt, "")
	}
	return text
}

// line prefers a sentiment-specific variant such as acknowledgment_negative.
func (s *TemplateSelector) line(step model.Step, sub model.Subcategory, sentiment model.Label) string {
	lines := s.t.Steps[step]
	if sentiment != "" {
		if v, ok := lines[model.Subcategory(string(sub)+"_"+string(sentiment))]; ok {
			return v
		}
	}
	return lines[sub]
}
