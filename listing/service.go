package listing

import (
	"context"

	"dealflow/deal"
)

// SummaryReader abstracts repository operations for the service.
type SummaryReader interface {
	GetByID(ctx context.Context, id string) (Summary, error)
	Open(ctx context.Context, kind deal.Kind, limit int) ([]Summary, error)
	ByParticipant(ctx context.Context, participantID string, limit int) ([]Summary, error)
}

// Service exposes read-only browsing over deals.
type Service struct {
	repo SummaryReader
}

// NewService builds a Service using the provided repository.
func NewService(repo SummaryReader) *Service {
	return &Service{repo: repo}
}

// GetByID returns the summary for the given deal.
func (s *Service) GetByID(ctx context.Context, id string) (Summary, error) {
	return s.repo.GetByID(ctx, id)
}

// Open returns up to limit open deals of a kind.
func (s *Service) Open(ctx context.Context, kind deal.Kind, limit int) ([]Summary, error) {
	if !kind.Valid() {
		return nil, deal.ErrNotFound
	}
	return s.repo.Open(ctx, kind, limit)
}

// ByParticipant returns up to limit deals involving a participant.
func (s *Service) ByParticipant(ctx context.Context, participantID string, limit int) ([]Summary, error) {
	return s.repo.ByParticipant(ctx, participantID, limit)
}
