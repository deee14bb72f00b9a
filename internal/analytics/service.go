package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rkohli77/chatbot/internal/metrics"
	"github.com/rkohli77/chatbot/internal/models"
	"github.com/rkohli77/chatbot/internal/util"
)

var ErrInvalidDateRange = errors.New("invalid date range")

// Service computes live stats and writes daily rollups.
type Service struct {
	source      Source
	history     HistoryReader
	sinks       []Sink
	now         func() time.Time
	concurrency int
	logger      *zap.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSinks adds rollup destinations.
func WithSinks(sinks ...Sink) Option {
	return func(s *Service) { s.sinks = append(s.sinks, sinks...) }
}

func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(source Source, history HistoryReader, opts ...Option) *Service {
	s := &Service{
		source:      source,
		history:     history,
		now:         time.Now,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = util.Named("analytics")
	}
	return s
}

// LiveStats computes today's (UTC) stats for one chatbot from raw rows.
func (s *Service) LiveStats(ctx context.Context, chatbotID string) (*models.LiveStats, error) {
	now := s.now().UTC()
	from, to := DayRange(now)

	stats, err := s.compute(ctx, chatbotID, from, to)
	if err != nil {
		return nil, err
	}
	stats.UpdatedAt = now
	return &models.LiveStats{DailyStats: stats, ComputedAt: now}, nil
}

func (s *Service) compute(ctx context.Context, chatbotID string, from, to time.Time) (models.DailyStats, error) {
	var (
		sessions SessionAggregate
		messages MessageAggregate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		agg, err := s.source.SessionAggregate(gctx, chatbotID, from, to)
		if err != nil {
			return fmt.Errorf("failed to aggregate sessions: %w", err)
		}
		sessions = agg
		return nil
	})
	g.Go(func() error {
		agg, err := s.source.MessageAggregate(gctx, chatbotID, from, to)
		if err != nil {
			return fmt.Errorf("failed to aggregate messages: %w", err)
		}
		messages = agg
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.DailyStats{}, err
	}

	return Aggregate(chatbotID, from.Format(models.DateLayout), sessions, messages), nil
}

// Rollup aggregates the UTC day containing date for every chatbot with
// activity that day and upserts the rows into all sinks. Re-running it for
// the same day overwrites the same rows.
func (s *Service) Rollup(ctx context.Context, date time.Time) (int, error) {
	from, to := DayRange(date)
	day := from.Format(models.DateLayout)

	chatbots, err := s.source.ActiveChatbots(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to list active chatbots: %w", err)
	}
	if len(chatbots) == 0 {
		s.logger.Info("No activity to roll up", zap.String("date", day))
		return 0, nil
	}

	rows := make([]models.DailyStats, len(chatbots))
	updatedAt := s.now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, chatbotID := range chatbots {
		g.Go(func() error {
			stats, err := s.compute(gctx, chatbotID, from, to)
			if err != nil {
				return fmt.Errorf("chatbot %s: %w", chatbotID, err)
			}
			stats.UpdatedAt = updatedAt
			rows[i] = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("failed to compute rollup for %s: %w", day, err)
	}

	if err := s.write(ctx, rows); err != nil {
		return 0, err
	}

	s.logger.Info("Daily rollup written",
		zap.String("date", day),
		zap.Int("rows", len(rows)),
		zap.Int("sinks", len(s.sinks)))
	return len(rows), nil
}

func (s *Service) write(ctx context.Context, rows []models.DailyStats) error {
	errs := make([]error, len(s.sinks))
	g, gctx := errgroup.WithContext(ctx)
	for i, sink := range s.sinks {
		g.Go(func() error {
			if err := sink.UpsertDailyStats(gctx, rows); err != nil {
				errs[i] = fmt.Errorf("sink %s: %w", sink.Name(), err)
				return nil
			}
			metrics.RollupRows.WithLabelValues(sink.Name()).Add(float64(len(rows)))
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to write rollup: %w", err)
	}
	return nil
}

// History returns stored rollup rows for dates in [from, to] (YYYY-MM-DD).
func (s *Service) History(ctx context.Context, chatbotID, from, to string) ([]models.DailyStats, error) {
	fromDay, err := time.Parse(models.DateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("%w: from %q", ErrInvalidDateRange, from)
	}
	toDay, err := time.Parse(models.DateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("%w: to %q", ErrInvalidDateRange, to)
	}
	if toDay.Before(fromDay) {
		return nil, fmt.Errorf("%w: %s is before %s", ErrInvalidDateRange, to, from)
	}
	if toDay.Sub(fromDay) > 366*24*time.Hour {
		return nil, fmt.Errorf("%w: range exceeds one year", ErrInvalidDateRange)
	}

	rows, err := s.history.DailyStatsBetween(ctx, chatbotID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read daily stats: %w", err)
	}
	return rows, nil
}
