package repository

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/loyalty-system/internal/model"
)

func TestHasSeat(t *testing.T) {
	capacity := int64(5)

	tests := []struct {
		name     string
		capacity *int64
		guests   int64
		want     bool
	}{
		{"unlimited", nil, 1_000_000, true},
		{"seats remain", &capacity, 3, true},
		{"last seat", &capacity, 4, true},
		{"full", &capacity, 5, false},
		{"over capacity", &capacity, 6, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasSeat(tt.capacity, tt.guests); got != tt.want {
				t.Fatalf("hasSeat(%v, %d) = %v, want %v", tt.capacity, tt.guests, got, tt.want)
			}
		})
	}
}

func TestPoolCovers(t *testing.T) {
	tests := []struct {
		name   string
		remain int64
		amount int64
		n      int64
		want   bool
	}{
		{"single award fits", 200, 20, 1, true},
		{"single award exact", 200, 200, 1, true},
		{"single award over", 200, 201, 1, false},
		{"bulk exact fit", 180, 60, 3, true},
		{"bulk one point short", 59, 20, 3, false},
		{"six guests at ten against fifty", 50, 10, 6, false},
		{"empty pool", 0, 1, 1, false},
		{"no recipients", 100, 10, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := poolCovers(tt.remain, tt.amount, tt.n); got != tt.want {
				t.Fatalf("poolCovers(%d, %d, %d) = %v, want %v", tt.remain, tt.amount, tt.n, got, tt.want)
			}
		})
	}
}

func TestPoolCovers_ProductOverflow(t *testing.T) {
	// 1e18 * 19 переполняет int64 и после переноса становится меньше остатка,
	// поэтому прямое сравнение произведения пропустило бы начисление,
	// в 19 раз превышающее пул.
	remain := int64(1_000_000_000_000_000_000)
	amount := int64(1_000_000_000_000_000_000)
	n := int64(19)

	if wrapped := amount * n; wrapped > remain {
		t.Fatalf("test premise broken: wrapped product %d does not pass a direct check", wrapped)
	}

	if poolCovers(remain, amount, n) {
		t.Fatalf("poolCovers(%d, %d, %d) = true, award would exceed the pool", remain, amount, n)
	}
}

func TestCoversDebit(t *testing.T) {
	tests := []struct {
		name    string
		balance int64
		amount  int64
		want    bool
	}{
		{"debit within balance", 100, -50, true},
		{"debit to zero", 50, -50, true},
		{"debit of fifty against thirty", 30, -50, false},
		{"zero balance debit", 0, -1, false},
		{"credit always covered", 0, 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := coversDebit(tt.balance, tt.amount); got != tt.want {
				t.Fatalf("coversDebit(%d, %d) = %v, want %v", tt.balance, tt.amount, got, tt.want)
			}
		})
	}
}

func TestApplyEventUpdate(t *testing.T) {
	starts := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	ends := starts.Add(4 * time.Hour)

	newEvent := func() *model.Event {
		return &model.Event{Name: "Launch party", Location: "HQ", StartsAt: starts, EndsAt: ends}
	}

	t.Run("merges partial fields", func(t *testing.T) {
		e := newEvent()
		name := "Release party"
		newEnds := ends.Add(time.Hour)

		err := applyEventUpdate(e, EventUpdate{Name: &name, EndsAt: &newEnds})
		if err != nil {
			t.Fatalf("applyEventUpdate error: %v", err)
		}
		if e.Name != name || !e.EndsAt.Equal(newEnds) {
			t.Fatalf("update not applied: %+v", e)
		}
		if e.Location != "HQ" || !e.StartsAt.Equal(starts) {
			t.Fatalf("untouched fields changed: %+v", e)
		}
	})

	t.Run("end moved before stored start", func(t *testing.T) {
		e := newEvent()
		newEnds := starts.Add(-time.Minute)

		err := applyEventUpdate(e, EventUpdate{EndsAt: &newEnds})
		if !errors.Is(err, ErrInvalidEventTime) {
			t.Fatalf("expected ErrInvalidEventTime, got %v", err)
		}
	})

	t.Run("start moved past stored end", func(t *testing.T) {
		e := newEvent()
		newStarts := ends.Add(time.Minute)

		err := applyEventUpdate(e, EventUpdate{StartsAt: &newStarts})
		if !errors.Is(err, ErrInvalidEventTime) {
			t.Fatalf("expected ErrInvalidEventTime, got %v", err)
		}
	})

	t.Run("both bounds moved consistently", func(t *testing.T) {
		e := newEvent()
		newStarts := starts.AddDate(0, 0, 7)
		newEnds := ends.AddDate(0, 0, 7)

		if err := applyEventUpdate(e, EventUpdate{StartsAt: &newStarts, EndsAt: &newEnds}); err != nil {
			t.Fatalf("applyEventUpdate error: %v", err)
		}
	})
}

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: pgerrcode.UniqueViolation}

	if !isUniqueViolation(unique) {
		t.Fatalf("unique violation not recognized")
	}
	if !isUniqueViolation(fmt.Errorf("insert guest: %w", unique)) {
		t.Fatalf("wrapped unique violation not recognized")
	}
	if isUniqueViolation(&pgconn.PgError{Code: pgerrcode.SerializationFailure}) {
		t.Fatalf("serialization failure mistaken for unique violation")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatalf("plain error mistaken for unique violation")
	}
}
