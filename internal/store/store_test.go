// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package store

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mkarlsen/omnicast/internal/domain"
)

// fakeRow feeds canned column values into a scan target.
type fakeRow struct {
	values []any
}

func (r *fakeRow) Scan(dest ...any) error {
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *uuid.UUID:
			*d = v.(uuid.UUID)
		case *string:
			*d = v.(string)
		case *time.Time:
			*d = v.(time.Time)
		case *domain.Status:
			*d = v.(domain.Status)
		case *domain.DeliveryStatus:
			*d = v.(domain.DeliveryStatus)
		case *domain.ChannelKind:
			*d = v.(domain.ChannelKind)
		case **time.Time:
			if v == nil {
				*d = nil
			} else {
				t := v.(time.Time)
				*d = &t
			}
		}
	}
	return nil
}

func TestScanMessage(t *testing.T) {
	id := uuid.New()
	now := time.Now().UTC()
	row := &fakeRow{values: []any{
		id, "acct-1", "hello world", "https://cdn.example.com/a.png",
		"+14155552671", now, domain.StatusScheduled, now, now,
	}}

	m, err := scanMessage(row)
	if err != nil {
		t.Fatalf("scanMessage: %v", err)
	}
	if m.ID != id {
		t.Errorf("id = %s", m.ID)
	}
	if m.OwnerID != "acct-1" {
		t.Errorf("owner_id = %q", m.OwnerID)
	}
	if m.Content.Text != "hello world" || m.Content.MediaRef != "https://cdn.example.com/a.png" {
		t.Errorf("content = %+v", m.Content)
	}
	if m.Status != domain.StatusScheduled {
		t.Errorf("status = %s", m.Status)
	}
	if m.RecipientRef != "+14155552671" {
		t.Errorf("recipient_ref = %q", m.RecipientRef)
	}
}

func TestScanDelivery(t *testing.T) {
	deliveredAt := time.Now().UTC()
	row := &fakeRow{values: []any{
		domain.ChannelEmail, domain.DeliveryDelivered, deliveredAt, "", "ses-msg-1",
	}}

	d, err := scanDelivery(row)
	if err != nil {
		t.Fatalf("scanDelivery: %v", err)
	}
	if d.Channel != domain.ChannelEmail {
		t.Errorf("channel = %s", d.Channel)
	}
	if d.Status != domain.DeliveryDelivered {
		t.Errorf("status = %s", d.Status)
	}
	if d.DeliveredAt == nil || !d.DeliveredAt.Equal(deliveredAt) {
		t.Errorf("delivered_at = %v", d.DeliveredAt)
	}
	if d.ExternalID != "ses-msg-1" {
		t.Errorf("external_id = %q", d.ExternalID)
	}
}

// orderDB captures Save's inserts and replays them for fetch, sorting the
// delivery rows the way the fetch query's ORDER BY clause asks for.
type orderDB struct {
	message    []any
	deliveries []savedDelivery
}

type savedDelivery struct {
	channel domain.ChannelKind
	ordinal int
}

func (d *orderDB) Begin(context.Context) (pgx.Tx, error) {
	return &orderTx{db: d}, nil
}

func (d *orderDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	switch {
	case strings.Contains(sql, "INSERT INTO messages"):
		d.message = args
	case strings.Contains(sql, "INSERT INTO channel_deliveries"):
		d.deliveries = append(d.deliveries, savedDelivery{
			channel: args[1].(domain.ChannelKind),
			ordinal: args[2].(int),
		})
	}
	return pgconn.CommandTag{}, nil
}

func (d *orderDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	rows := make([]savedDelivery, len(d.deliveries))
	copy(rows, d.deliveries)
	if strings.Contains(sql, "ORDER BY ordinal") {
		sort.Slice(rows, func(i, j int) bool { return rows[i].ordinal < rows[j].ordinal })
	} else {
		sort.Slice(rows, func(i, j int) bool { return rows[i].channel < rows[j].channel })
	}

	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = []any{r.channel, domain.DeliveryPending, nil, "", ""}
	}
	return &fakeRows{rows: out}, nil
}

func (d *orderDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return &fakeRow{values: d.message}
}

type orderTx struct {
	pgx.Tx
	db *orderDB
}

func (t *orderTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *orderTx) Commit(context.Context) error   { return nil }
func (t *orderTx) Rollback(context.Context) error { return nil }

type fakeRows struct {
	pgx.Rows
	rows [][]any
	idx  int
}

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	return (&fakeRow{values: r.rows[r.idx-1]}).Scan(dest...)
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }

func TestSaveFetchPreservesChannelOrder(t *testing.T) {
	// sms sorts after email lexically, so an alphabetical read would flip
	// the pair. The ordinal column must bring it back as written.
	db := &orderDB{}
	s := NewMessageStore(db)

	content, err := domain.NewMessageContent("launch announcement", "")
	if err != nil {
		t.Fatal(err)
	}
	m, err := domain.NewMessage("acct-1", content,
		[]domain.ChannelKind{domain.ChannelSMS, domain.ChannelEmail},
		time.Now(), "+14155552671")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Save(context.Background(), m); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.GetByID(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}

	want := []domain.ChannelKind{domain.ChannelSMS, domain.ChannelEmail}
	if len(got.Deliveries) != len(want) {
		t.Fatalf("deliveries = %d, want %d", len(got.Deliveries), len(want))
	}
	for i, ch := range want {
		if got.Channels[i] != ch {
			t.Errorf("channels[%d] = %s, want %s", i, got.Channels[i], ch)
		}
		if got.Deliveries[i].Channel != ch {
			t.Errorf("deliveries[%d] = %s, want %s", i, got.Deliveries[i].Channel, ch)
		}
	}
}

func TestMarkDeliveryRejectsNonTerminalOutcome(t *testing.T) {
	s := NewMessageStore(nil)
	err := s.MarkDelivery(context.Background(), uuid.New(), domain.ChannelEmail,
		domain.DeliveryPending, "", "")
	if err == nil {
		t.Fatal("expected error for pending outcome")
	}
	if !domain.IsInvariant(err) {
		t.Errorf("category = %s, want invariant", domain.CategoryOf(err))
	}
}
