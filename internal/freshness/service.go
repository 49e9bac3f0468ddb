package freshness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ariefcatur/lavanda-orders/internal/stock"
	"github.com/ariefcatur/lavanda-orders/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/ariefcatur/lavanda-orders/internal/freshness")

// ItemLookup resolves the stock item a batch belongs to. *stock.Service implements it.
type ItemLookup interface {
	GetItem(ctx context.Context, id string) (stock.Item, error)
}

type Service struct {
	Store  Store
	Items  ItemLookup // optional; when set, batches may only reference flowers
	Logger *slog.Logger
	Now    func() time.Time
}

func (s *Service) today() time.Time {
	if s.Now == nil {
		return Date(time.Now())
	}
	return Date(s.Now())
}

func (s *Service) log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default().With("component", "freshness")
	}
	return s.Logger
}

type NewBatch struct {
	ItemID            string     `json:"item_id"`
	BatchNumber       string     `json:"batch_number"`
	Quantity          int        `json:"quantity"`
	DeliveryDate      *time.Time `json:"delivery_date"`
	ExpiryDate        *time.Time `json:"expiry_date"`
	Discount          *int       `json:"discount_percentage"`
	StorageConditions string     `json:"storage_conditions"`
	TemperatureC      *int       `json:"temperature_c"`
	HumidityPct       *int       `json:"humidity_pct"`
	Notes             string     `json:"notes"`
}

func (s *Service) CreateBatch(ctx context.Context, in NewBatch) (Batch, error) {
	ctx, span := tracer.Start(ctx, "freshness.CreateBatch")
	b, err := s.create(ctx, in)
	telemetry.End(span, err)
	return b, err
}

func (s *Service) create(ctx context.Context, in NewBatch) (Batch, error) {
	if strings.TrimSpace(in.ItemID) == "" {
		return Batch{}, fmt.Errorf("%w: item id is required", ErrInvalidBatch)
	}
	if in.Quantity <= 0 {
		return Batch{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidBatch)
	}
	if in.Discount != nil && (*in.Discount < 0 || *in.Discount > 100) {
		return Batch{}, ErrInvalidDiscount
	}
	if s.Items != nil {
		it, err := s.Items.GetItem(ctx, in.ItemID)
		if err != nil {
			return Batch{}, err
		}
		if it.Kind != stock.KindFlower {
			return Batch{}, fmt.Errorf("%w: item %s is not a flower", ErrInvalidBatch, in.ItemID)
		}
	}

	today := s.today()
	delivery := today
	if in.DeliveryDate != nil {
		delivery = Date(*in.DeliveryDate)
	}
	var expiry *time.Time
	if in.ExpiryDate != nil {
		e := Date(*in.ExpiryDate)
		if e.Before(delivery) {
			return Batch{}, fmt.Errorf("%w: expiry date is before delivery date", ErrInvalidBatch)
		}
		expiry = &e
	}

	// 0 means no operator discount
	discount := in.Discount
	if discount != nil && *discount == 0 {
		discount = nil
	}

	now := time.Now().UTC()
	b := Batch{
		ID:                uuid.NewString(),
		ItemID:            in.ItemID,
		BatchNumber:       in.BatchNumber,
		Quantity:          in.Quantity,
		DeliveryDate:      delivery,
		ExpiryDate:        expiry,
		Discount:          discount,
		DiscountExplicit:  discount != nil,
		StorageConditions: in.StorageConditions,
		TemperatureC:      in.TemperatureC,
		HumidityPct:       in.HumidityPct,
		Notes:             in.Notes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	Recompute(&b, today)
	if err := s.Store.Create(ctx, b); err != nil {
		return Batch{}, err
	}
	s.log().Info("freshness batch created", "batch_id", b.ID, "item_id", b.ItemID, "status", b.Status)
	return b, nil
}

// CreateForDelivery records a batch received today with the default storage conditions.
func (s *Service) CreateForDelivery(ctx context.Context, itemID string, qty int, batchNumber string, expiry time.Time) (Batch, error) {
	temp, hum := 2, 85
	return s.CreateBatch(ctx, NewBatch{
		ItemID:            itemID,
		BatchNumber:       batchNumber,
		Quantity:          qty,
		ExpiryDate:        &expiry,
		StorageConditions: DefaultStorage,
		TemperatureC:      &temp,
		HumidityPct:       &hum,
	})
}

func (s *Service) Get(ctx context.Context, id string) (Batch, error) {
	b, err := s.Store.Get(ctx, id)
	if err != nil {
		return Batch{}, err
	}
	Recompute(&b, s.today())
	return b, nil
}

// view lists batches with their status derived for today. Nothing is written back.
func (s *Service) view(ctx context.Context, q Query, keep func(Batch) bool) ([]Batch, error) {
	all, err := s.Store.List(ctx, q)
	if err != nil {
		return nil, err
	}
	today := s.today()
	out := make([]Batch, 0, len(all))
	for _, b := range all {
		Recompute(&b, today)
		if keep == nil || keep(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Service) ByItem(ctx context.Context, itemID string) ([]Batch, error) {
	return s.view(ctx, Query{ItemID: itemID}, nil)
}

func (s *Service) ByStatus(ctx context.Context, st Status) ([]Batch, error) {
	return s.view(ctx, Query{UnsoldOnly: true}, func(b Batch) bool { return b.Status == st })
}

func (s *Service) ByBatchNumber(ctx context.Context, number string) ([]Batch, error) {
	return s.view(ctx, Query{BatchNumber: number}, nil)
}

func (s *Service) ByDeliveryDate(ctx context.Context, day time.Time) ([]Batch, error) {
	return s.view(ctx, Query{DeliveryDate: &day}, nil)
}

func (s *Service) ExpiringToday(ctx context.Context) ([]Batch, error) {
	return s.ByStatus(ctx, StatusExpiresToday)
}

// ExpiringBefore returns unsold batches whose expiry date is before day.
func (s *Service) ExpiringBefore(ctx context.Context, day time.Time) ([]Batch, error) {
	return s.view(ctx, Query{UnsoldOnly: true, ExpiresBefore: &day}, nil)
}

func (s *Service) Expired(ctx context.Context) ([]Batch, error) {
	return s.ByStatus(ctx, StatusExpired)
}

func (s *Service) NeedingDiscount(ctx context.Context) ([]Batch, error) {
	return s.view(ctx, Query{UnsoldOnly: true}, func(b Batch) bool { return NeedsDiscount(b.Status) })
}

type Recommendation struct {
	BatchID         string `json:"batch_id"`
	ItemID          string `json:"item_id"`
	BatchNumber     string `json:"batch_number,omitempty"`
	Status          Status `json:"status"`
	DaysUntilExpiry int    `json:"days_until_expiry"`
	CurrentDiscount int    `json:"current_discount"`
	Recommended     int    `json:"recommended_discount"`
}

// DiscountRecommendations lists unsold batches whose status carries a markdown.
func (s *Service) DiscountRecommendations(ctx context.Context) ([]Recommendation, error) {
	bs, err := s.view(ctx, Query{UnsoldOnly: true}, func(b Batch) bool { return RecommendedDiscount(b.Status) > 0 })
	if err != nil {
		return nil, err
	}
	out := make([]Recommendation, 0, len(bs))
	for _, b := range bs {
		r := Recommendation{
			BatchID:         b.ID,
			ItemID:          b.ItemID,
			BatchNumber:     b.BatchNumber,
			Status:          b.Status,
			CurrentDiscount: b.EffectiveDiscount(),
			Recommended:     RecommendedDiscount(b.Status),
		}
		if b.DaysUntilExpiry != nil {
			r.DaysUntilExpiry = *b.DaysUntilExpiry
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Service) SoldInPeriod(ctx context.Context, from, to time.Time) ([]Batch, error) {
	return s.Store.List(ctx, Query{SoldFrom: &from, SoldTo: &to})
}

// RecomputeAll refreshes every unsold batch and returns how many changed status.
func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "freshness.RecomputeAll")
	n, err := s.recomputeAll(ctx)
	span.SetAttributes(attribute.Int("changed", n))
	telemetry.End(span, err)
	return n, err
}

func (s *Service) recomputeAll(ctx context.Context) (int, error) {
	all, err := s.Store.List(ctx, Query{UnsoldOnly: true})
	if err != nil {
		return 0, err
	}
	today := s.today()
	changed := 0
	for _, b := range all {
		var moved bool
		if _, err := s.Store.Update(ctx, b.ID, func(b *Batch) error {
			moved = Recompute(b, today)
			return nil
		}); err != nil {
			return changed, fmt.Errorf("recompute batch %s: %w", b.ID, err)
		}
		if moved {
			changed++
		}
	}
	s.log().Info("freshness recomputed", "batches", len(all), "changed", changed)
	return changed, nil
}

// MarkSold closes a batch. A zero date means today. Sold batches are never recomputed.
func (s *Service) MarkSold(ctx context.Context, id string, date time.Time) (Batch, error) {
	if date.IsZero() {
		date = s.today()
	}
	day := Date(date)
	b, err := s.Store.Update(ctx, id, func(b *Batch) error {
		b.Sold = true
		b.SoldDate = &day
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	s.log().Info("freshness batch sold", "batch_id", id, "sold_date", day.Format(time.DateOnly))
	return b, nil
}

// ApplyDiscount sets an operator discount which recomputation will keep.
func (s *Service) ApplyDiscount(ctx context.Context, id string, pct int) (Batch, error) {
	if pct < 0 || pct > 100 {
		return Batch{}, ErrInvalidDiscount
	}
	ctx, span := tracer.Start(ctx, "freshness.ApplyDiscount", trace.WithAttributes(
		attribute.String("batch_id", id), attribute.Int("pct", pct)))
	b, err := s.Store.Update(ctx, id, func(b *Batch) error {
		b.Discount = &pct
		b.DiscountExplicit = true
		return nil
	})
	telemetry.End(span, err)
	if err != nil {
		return Batch{}, err
	}
	s.log().Info("freshness discount applied", "batch_id", id, "pct", pct)
	return b, nil
}

// CleanupExpired deletes batches that expired more than retentionDays ago.
func (s *Service) CleanupExpired(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays < 0 {
		return 0, fmt.Errorf("retention days must not be negative")
	}
	cutoff := s.today().AddDate(0, 0, -retentionDays)
	n, err := s.Store.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.log().Info("expired batches removed", "cutoff", cutoff.Format(time.DateOnly), "deleted", n)
	return n, nil
}

type Stats struct {
	ByStatus        map[Status]int `json:"by_status"`
	Unsold          int            `json:"unsold"`
	UnsoldQuantity  int            `json:"unsold_quantity"`
	Sold            int            `json:"sold"`
	NeedingDiscount int            `json:"needing_discount"`
}

func (s *Service) Statistics(ctx context.Context) (Stats, error) {
	all, err := s.view(ctx, Query{}, nil)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{ByStatus: make(map[Status]int)}
	for _, b := range all {
		if b.Sold {
			st.Sold++
			continue
		}
		st.Unsold++
		st.UnsoldQuantity += b.Quantity
		st.ByStatus[b.Status]++
		if NeedsDiscount(b.Status) {
			st.NeedingDiscount++
		}
	}
	return st, nil
}
