package usecase

import (
	"context"
	"errors"

	"semantic-chat/internal/domain"
)

const defaultMaxConversationTokens = 4000

// MessageLister returns the messages of a session in chronological order.
type MessageLister interface {
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)
}

// WindowAssembler selects the most recent messages of a session that fit a
// token budget.
type WindowAssembler struct {
	messages MessageLister
	budget   int
}

func NewWindowAssembler(messages MessageLister, budget int) (*WindowAssembler, error) {
	if messages == nil {
		return nil, errors.New("usecase: message lister must not be nil")
	}
	if budget <= 0 {
		budget = defaultMaxConversationTokens
	}
	return &WindowAssembler{messages: messages, budget: budget}, nil
}

// Assemble returns the context window of a session, oldest first.
func (a *WindowAssembler) Assemble(ctx context.Context, sessionID string) ([]domain.Message, error) {
	msgs, err := a.messages.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return selectWindow(msgs, a.budget), nil
}

// selectWindow scans msgs from newest to oldest and keeps turns while their
// summed cost stays within budget. The newest turn is always kept, and a turn
// is never split. msgs must be chronological; so is the result.
func selectWindow(msgs []domain.Message, budget int) []domain.Message {
	if len(msgs) == 0 {
		return nil
	}
	total := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := msgs[i].Tokens()
		if i < len(msgs)-1 && total+cost > budget {
			break
		}
		total += cost
		start = i
	}
	window := make([]domain.Message, len(msgs)-start)
	copy(window, msgs[start:])
	return window
}
