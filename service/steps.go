package service

import (
	"strings"

	"yarn-agent/model"
)

// minWelcomeLen is the length a welcome reply must exceed to move on.
const minWelcomeLen = 3

// expectedLabels lists the intent labels that answer a step. Both the topic
// and its "no_" counterpart count: "I don't really have anyone" is a real
// answer to the support question.
func expectedLabels(step model.Step) []model.Label {
	switch step {
	case model.StepSupportPeople:
		return []model.Label{model.LabelSupportPeople, model.LabelNoSupport}
	case model.StepStrengths:
		return []model.Label{model.LabelStrengths, model.LabelNoStrengths, model.LabelNegation}
	case model.StepWorries:
		return []model.Label{model.LabelWorries, model.LabelNoWorries, model.LabelNegation}
	case model.StepGoals:
		return []model.Label{model.LabelGoals, model.LabelNoGoals, model.LabelNegation}
	default:
		return nil
	}
}

// answers reports whether the text counts as an answer to step. The welcome
// step goes by length alone.
func answers(step model.Step, intent model.ClassificationResult, text string) bool {
	if step == model.StepWelcome {
		return len(strings.TrimSpace(text)) > minWelcomeLen
	}
	if intent.Method == model.MethodAllFailed || intent.Method == model.MethodEmptyInput {
		return false
	}
	for _, l := range expectedLabels(step) {
		if intent.Label == l {
			return true
		}
	}
	return false
}
