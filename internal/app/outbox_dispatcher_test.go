package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/learnary/payment-service/internal/store"
)

type outboxRepoStub struct {
	store.Repository

	messages  []store.OutboxMessage
	published []int64
	failed    map[int64]int
}

func (s *outboxRepoStub) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]store.OutboxMessage, error) {
	return s.messages, nil
}

func (s *outboxRepoStub) MarkOutboxPublished(ctx context.Context, id int64) error {
	s.published = append(s.published, id)
	return nil
}

func (s *outboxRepoStub) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	if s.failed == nil {
		s.failed = map[int64]int{}
	}
	s.failed[id] = retryAfterSeconds
	return nil
}

type publisherStub struct {
	failFor map[string]bool
	sent    []string
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, payload []byte, messageID string) error {
	if p.failFor[routingKey] {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, messageID)
	return nil
}

func (p *publisherStub) Close() {}

func TestOutboxDispatcher_FlushOnce(t *testing.T) {
	repo := &outboxRepoStub{messages: []store.OutboxMessage{
		{ID: 1, Exchange: "learnary.events", RoutingKey: "payment.enrollment.confirmed", Payload: []byte(`{}`), Attempts: 1},
		{ID: 2, Exchange: "learnary.events", RoutingKey: "withdraw.rejected", Payload: []byte(`{}`), Attempts: 4},
	}}
	publisher := &publisherStub{failFor: map[string]bool{"withdraw.rejected": true}}
	dispatcher := NewOutboxDispatcher(repo, publisher, slog.New(slog.NewTextHandler(io.Discard, nil)), 10, 0)

	published, err := dispatcher.flushOnce(context.Background())
	if err != nil {
		t.Fatalf("flushOnce returned error: %v", err)
	}
	if published != 1 || len(repo.published) != 1 || repo.published[0] != 1 {
		t.Fatalf("expected message 1 to be published, got %v", repo.published)
	}
	if publisher.sent[0] != "1" {
		t.Fatalf("expected outbox id as message id, got %q", publisher.sent[0])
	}
	if repo.failed[2] != 16 {
		t.Fatalf("expected retry after 16s for attempt 4, got %d", repo.failed[2])
	}
}

func TestRetryDelaySeconds(t *testing.T) {
	tests := []struct {
		attempt int
		want    int
	}{
		{attempt: 0, want: 1},
		{attempt: 1, want: 2},
		{attempt: 5, want: 32},
		{attempt: 8, want: 256},
		{attempt: 20, want: 256},
	}
	for _, tt := range tests {
		if got := retryDelaySeconds(tt.attempt); got != tt.want {
			t.Fatalf("attempt %d: expected %d, got %d", tt.attempt, tt.want, got)
		}
	}
}
