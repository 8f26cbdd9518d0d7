package showing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

var ErrNotFound = errors.New("showing not found")

// Registry holds the scheduled showings. A showing is immutable once created;
// creating one also seeds a free seat row per layout entry so the seat map
// and the showing can never disagree about which seats exist.
type Registry struct {
	db  *bun.DB
	log *logger.Logger
}

func NewRegistry(db *bun.DB, log *logger.Logger) *Registry {
	return &Registry{db: db, log: log}
}

func (r *Registry) Create(ctx context.Context, req models.ShowingRequest) (*models.Showing, error) {
	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		return nil, fmt.Errorf("invalid starts_at %q: %w", req.StartsAt, err)
	}
	if !startsAt.After(time.Now()) {
		return nil, errors.New("starts_at must be in the future")
	}
	if req.Price <= 0 {
		return nil, errors.New("price must be positive")
	}
	if len(req.SeatLayout) == 0 {
		return nil, errors.New("seat_layout must not be empty")
	}
	seen := make(map[string]bool, len(req.SeatLayout))
	for _, seatID := range req.SeatLayout {
		if seatID == "" {
			return nil, errors.New("seat_layout contains an empty seat id")
		}
		if seen[seatID] {
			return nil, fmt.Errorf("seat_layout contains duplicate seat %s", seatID)
		}
		seen[seatID] = true
	}

	showing := &models.Showing{
		ShowingID:  uuid.NewString(),
		MovieID:    req.MovieID,
		Title:      req.Title,
		StartsAt:   startsAt,
		Price:      req.Price,
		SeatLayout: req.SeatLayout,
		CreatedAt:  time.Now(),
	}

	seats := make([]models.SeatRow, len(req.SeatLayout))
	for i, seatID := range req.SeatLayout {
		seats[i] = models.SeatRow{
			ShowingID: showing.ShowingID,
			SeatID:    seatID,
			Status:    models.SeatFree,
		}
	}

	err = r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(showing).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(&seats).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create showing: %w", err)
	}

	r.log.Info("SHOWING", fmt.Sprintf("Created showing %s (%s, %d seats)",
		showing.ShowingID, showing.Title, len(showing.SeatLayout)))
	return showing, nil
}

func (r *Registry) Get(ctx context.Context, showingID string) (*models.Showing, error) {
	var showing models.Showing
	err := r.db.NewSelect().
		Model(&showing).
		Where("showing_id = ?", showingID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &showing, nil
}

// ListUpcoming returns showings that have not started yet, soonest first.
func (r *Registry) ListUpcoming(ctx context.Context) ([]models.Showing, error) {
	var showings []models.Showing
	err := r.db.NewSelect().
		Model(&showings).
		Where("starts_at > ?", time.Now()).
		Order("starts_at").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return showings, nil
}
