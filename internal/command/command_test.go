// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package command

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mkarlsen/omnicast/internal/domain"
	"github.com/mkarlsen/omnicast/internal/eventlog"
)

type fakeStore struct {
	saved   []*domain.Message
	saveErr error
	byID    map[uuid.UUID]*domain.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: make(map[uuid.UUID]*domain.Message)}
}

func (f *fakeStore) Save(_ context.Context, m *domain.Message) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, m)
	f.byID[m.ID] = m
	return nil
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID, ownerID string) (*domain.Message, error) {
	m, ok := f.byID[id]
	if !ok || m.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

type fakePublisher struct {
	events []*eventlog.Event
	err    error
}

func (f *fakePublisher) PublishEvent(_ context.Context, event *eventlog.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func validSchedule() ScheduleCommand {
	return ScheduleCommand{
		OwnerID:      "owner-1",
		Text:         "We are live!",
		Channels:     []string{"email", "sms"},
		ScheduledAt:  time.Now().Add(-time.Second),
		RecipientRef: "+14155552671",
	}
}

func TestSchedulePersistsAndPublishesWhenDue(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	svc := NewService(st, pub)

	id, err := svc.Schedule(context.Background(), validSchedule())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("Schedule returned nil id")
	}

	if len(st.saved) != 1 {
		t.Fatalf("saved = %d messages, want 1", len(st.saved))
	}
	m := st.saved[0]
	if m.Status != domain.StatusScheduled {
		t.Errorf("status = %s, want scheduled", m.Status)
	}
	if len(m.Deliveries) != 2 {
		t.Errorf("deliveries = %d, want 2", len(m.Deliveries))
	}
	for _, d := range m.Deliveries {
		if d.Status != domain.DeliveryPending {
			t.Errorf("%s delivery = %s, want pending", d.Channel, d.Status)
		}
	}

	if len(pub.events) != 1 {
		t.Fatalf("events = %d, want 1", len(pub.events))
	}
	e := pub.events[0]
	if e.EventType != eventlog.EventMessageScheduled {
		t.Errorf("event type = %q", e.EventType)
	}
	if e.Payload.MessageID != id.String() {
		t.Errorf("event message id = %q, want %q", e.Payload.MessageID, id)
	}
	if len(e.Payload.Channels) != 2 {
		t.Errorf("event channels = %v", e.Payload.Channels)
	}
}

func TestScheduleFutureMessageDefersToDispatcher(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	svc := NewService(st, pub)

	cmd := validSchedule()
	cmd.ScheduledAt = time.Now().Add(time.Hour)

	if _, err := svc.Schedule(context.Background(), cmd); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(st.saved) != 1 {
		t.Fatal("message not persisted")
	}
	if len(pub.events) != 0 {
		t.Errorf("future message published %d events, want 0", len(pub.events))
	}
}

func TestSchedulePublishFailureStillSucceeds(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{err: errors.New("jetstream unavailable")}
	svc := NewService(st, pub)

	id, err := svc.Schedule(context.Background(), validSchedule())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if st.byID[id].Status != domain.StatusScheduled {
		t.Error("message must stay Scheduled for the dispatcher sweep")
	}
}

func TestScheduleValidation(t *testing.T) {
	svc := NewService(newFakeStore(), &fakePublisher{})

	tests := []struct {
		name   string
		mutate func(*ScheduleCommand)
	}{
		{"missing owner", func(c *ScheduleCommand) { c.OwnerID = "" }},
		{"empty text", func(c *ScheduleCommand) { c.Text = "" }},
		{"blank text", func(c *ScheduleCommand) { c.Text = "   " }},
		{"no channels", func(c *ScheduleCommand) { c.Channels = nil }},
		{"unknown channel", func(c *ScheduleCommand) { c.Channels = []string{"carrier_pigeon"} }},
		{"duplicate channel", func(c *ScheduleCommand) { c.Channels = []string{"email", "email"} }},
		{"bad media scheme", func(c *ScheduleCommand) { c.MediaRef = "ftp://host/file.png" }},
		{"missing scheduled_at", func(c *ScheduleCommand) { c.ScheduledAt = time.Time{} }},
		{"text too long", func(c *ScheduleCommand) { c.Text = strings.Repeat("a", 4097) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := validSchedule()
			tt.mutate(&cmd)

			_, err := svc.Schedule(context.Background(), cmd)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !domain.IsValidation(err) {
				t.Errorf("category = %s, want validation (%v)", domain.CategoryOf(err), err)
			}
		})
	}
}

func TestScheduleStoreFailure(t *testing.T) {
	st := newFakeStore()
	st.saveErr = domain.NewError(domain.CategoryTransient, "store unavailable")
	pub := &fakePublisher{}
	svc := NewService(st, pub)

	_, err := svc.Schedule(context.Background(), validSchedule())
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsTransient(err) {
		t.Errorf("category = %s, want transient", domain.CategoryOf(err))
	}
	if len(pub.events) != 0 {
		t.Error("event published despite store failure")
	}
}

func TestGetScopesByOwner(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	svc := NewService(st, pub)

	id, err := svc.Schedule(context.Background(), validSchedule())
	if err != nil {
		t.Fatal(err)
	}

	m, err := svc.Get(context.Background(), "owner-1", id.String())
	if err != nil {
		t.Fatalf("owner Get: %v", err)
	}
	if m.ID != id {
		t.Errorf("got message %s, want %s", m.ID, id)
	}

	// A foreign owner, a random id, and a malformed id all read identically.
	for _, tc := range []struct{ owner, id string }{
		{"owner-2", id.String()},
		{"owner-1", uuid.NewString()},
		{"owner-1", "not-a-uuid"},
		{"", id.String()},
	} {
		if _, err := svc.Get(context.Background(), tc.owner, tc.id); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Get(%q, %q) = %v, want ErrNotFound", tc.owner, tc.id, err)
		}
	}
}

func TestListChannelKinds(t *testing.T) {
	svc := NewService(newFakeStore(), &fakePublisher{})

	kinds := svc.ListChannelKinds()
	if len(kinds) != 6 {
		t.Fatalf("kinds = %d, want 6", len(kinds))
	}
	seen := make(map[domain.ChannelKind]bool)
	for _, info := range kinds {
		if info.DisplayName == "" {
			t.Errorf("%s missing display name", info.Kind)
		}
		seen[info.Kind] = true
	}
	if !seen[domain.ChannelInstagram] {
		t.Error("instagram missing from kind list")
	}
}

func TestSubmitCertificationRendersAnnouncement(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	svc := NewService(st, pub)

	id, err := svc.SubmitCertification(context.Background(), CertificationCommand{
		OwnerID:           "owner-1",
		MemberName:        "Sam Chen",
		CertificationType: "AWS Solutions Architect Professional",
		Channels:          []string{"linkedin", "email"},
		RecipientRef:      "team@example.com",
	})
	if err != nil {
		t.Fatalf("SubmitCertification: %v", err)
	}

	m := st.byID[id]
	if m == nil {
		t.Fatal("announcement not persisted")
	}
	if !strings.Contains(m.Content.Text, "Sam Chen") ||
		!strings.Contains(m.Content.Text, "AWS Solutions Architect Professional") {
		t.Errorf("announcement text = %q", m.Content.Text)
	}
	if m.Status != domain.StatusScheduled {
		t.Errorf("status = %s", m.Status)
	}

	if len(pub.events) != 1 {
		t.Fatalf("events = %d, want 1", len(pub.events))
	}
	if pub.events[0].EventType != eventlog.EventCertificationSubmitted {
		t.Errorf("event type = %q", pub.events[0].EventType)
	}
}

func TestSubmitCertificationValidation(t *testing.T) {
	svc := NewService(newFakeStore(), &fakePublisher{})

	_, err := svc.SubmitCertification(context.Background(), CertificationCommand{
		OwnerID:  "owner-1",
		Channels: []string{"email"},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !domain.IsValidation(err) {
		t.Errorf("category = %s, want validation", domain.CategoryOf(err))
	}
}
