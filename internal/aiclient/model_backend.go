package aiclient

import (
	"context"
	"fmt"

	"yarn-agent/internal/classifier"
	"yarn-agent/model"
)

// ModelBackend adapts the zero-shot model service to a classifier tier member.
type ModelBackend struct {
	client *Client
	task   Task
}

func NewModelBackend(client *Client, task Task) *ModelBackend {
	return &ModelBackend{client: client, task: task}
}

func (b *ModelBackend) Name() string { return "model" }

func (b *ModelBackend) Infer(ctx context.Context, text string, _ classifier.Hint) (*classifier.Prediction, error) {
	resp, err := b.client.ZeroShot(ctx, ZeroShotRequest{
		Task:       b.task.Name,
		Text:       text,
		Candidates: b.task.Candidates,
	})
	if err != nil {
		return nil, err
	}

	scores := make(map[model.Label]float64, len(resp.Labels))
	for i, raw := range resp.Labels {
		label, ok := b.task.normalize(raw)
		if !ok {
			continue
		}
		if resp.Scores[i] > scores[label] {
			scores[label] = resp.Scores[i]
		}
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("%w: no known labels in %v", ErrBadResponse, resp.Labels)
	}

	var best model.Label
	for l, s := range scores {
		if best == "" || s > scores[best] || (s == scores[best] && l < best) {
			best = l
		}
	}
	return &classifier.Prediction{Label: best, Confidence: scores[best], Scores: scores}, nil
}
