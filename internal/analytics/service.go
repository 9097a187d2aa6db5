package analytics

import (
	"context"
	"fmt"
	"time"

	"ms-restaurant/internal/models"
)

// LedgerReader is implemented by the order database.
type LedgerReader interface {
	LedgerSince(ctx context.Context, since time.Time) ([]models.StatusLogEntry, error)
}

// Service handles analytics operations
type Service struct {
	Ledger LedgerReader
	Now    func() time.Time
}

// NewService creates a new analytics service
func NewService(ledger LedgerReader) *Service {
	return &Service{Ledger: ledger, Now: time.Now}
}

// StatusReport is the kitchen timing report for orders touched since a cutoff.
type StatusReport struct {
	Since    time.Time       `json:"since"`
	Orders   int             `json:"orders"`
	Averages []StatusAverage `json:"averages"`
}

func (s *Service) AverageTimeInStatus(ctx context.Context, since time.Time) (*StatusReport, error) {
	entries, err := s.Ledger.LedgerSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load ledger since %s: %w", since.Format(time.RFC3339), err)
	}

	orders := make(map[string]struct{})
	for _, e := range entries {
		orders[e.OrderID] = struct{}{}
	}

	return &StatusReport{
		Since:    since,
		Orders:   len(orders),
		Averages: Averages(TimeInStatus(entries, s.Now())),
	}, nil
}
