// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/mkarlsen/omnicast/internal/domain"
	"github.com/mkarlsen/omnicast/internal/eventlog"
	"github.com/mkarlsen/omnicast/internal/idempotency"
	"github.com/mkarlsen/omnicast/internal/router"
)

type markedDelivery struct {
	channel    domain.ChannelKind
	outcome    domain.DeliveryStatus
	externalID string
	reason     string
}

type fakeStore struct {
	messages   map[uuid.UUID]*domain.Message
	getErr     error
	processing []uuid.UUID
	marked     map[uuid.UUID][]markedDelivery
	markErr    error
}

func newFakeStore(msgs ...*domain.Message) *fakeStore {
	f := &fakeStore{
		messages: make(map[uuid.UUID]*domain.Message),
		marked:   make(map[uuid.UUID][]markedDelivery),
	}
	for _, m := range msgs {
		f.messages[m.ID] = m
	}
	return f
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	m, ok := f.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) MarkProcessing(_ context.Context, id uuid.UUID) error {
	f.processing = append(f.processing, id)
	return nil
}

func (f *fakeStore) MarkDelivery(_ context.Context, messageID uuid.UUID, channel domain.ChannelKind, outcome domain.DeliveryStatus, externalID, reason string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked[messageID] = append(f.marked[messageID], markedDelivery{
		channel:    channel,
		outcome:    outcome,
		externalID: externalID,
		reason:     reason,
	})
	return nil
}

type fakeRouter struct {
	mu     sync.Mutex
	result *router.PublishResult
	err    error
	calls  int
	last   *router.PublishRequest
}

func (f *fakeRouter) Publish(_ context.Context, req *router.PublishRequest) (*router.PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeRouter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func scheduledMessage(t *testing.T, channels ...domain.ChannelKind) *domain.Message {
	t.Helper()
	content, err := domain.NewMessageContent("launch announcement", "")
	if err != nil {
		t.Fatal(err)
	}
	m, err := domain.NewMessage("owner-1", content, channels, time.Now().Add(-time.Minute), "+14155552671")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Schedule(); err != nil {
		t.Fatal(err)
	}
	return m
}

func eventMessage(t *testing.T, m *domain.Message) *message.Message {
	t.Helper()
	event := eventlog.NewEvent(
		eventlog.EventMessageScheduled,
		m.ID.String(),
		domain.ChannelStrings(m.Channels),
		"corr-1",
	)
	data, err := eventlog.NewSerializer().Marshal(event)
	if err != nil {
		t.Fatal(err)
	}
	msg := message.NewMessage(event.DedupID(), data)
	msg.Metadata.Set(eventlog.MetadataEventType, event.EventType)
	msg.Metadata.Set(eventlog.MetadataCorrelationID, event.CorrelationID)
	return msg
}

func waitAcked(t *testing.T, msg *message.Message) {
	t.Helper()
	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		t.Fatal("message nacked, want ack")
	case <-time.After(time.Second):
		t.Fatal("message neither acked nor nacked")
	}
}

func waitNacked(t *testing.T, msg *message.Message) {
	t.Helper()
	select {
	case <-msg.Nacked():
	case <-msg.Acked():
		t.Fatal("message acked, want nack")
	case <-time.After(time.Second):
		t.Fatal("message neither acked nor nacked")
	}
}

func TestHandleDeliversAllChannels(t *testing.T) {
	m := scheduledMessage(t, domain.ChannelEmail, domain.ChannelSMS)
	st := newFakeStore(m)
	rt := &fakeRouter{result: &router.PublishResult{Results: []router.ChannelResult{
		{Channel: domain.ChannelEmail, Success: true, ExternalID: "ses-1"},
		{Channel: domain.ChannelSMS, Success: true, ExternalID: "sns-1"},
	}}}
	w := New(nil, st, rt, idempotency.NewMemoryIndex())

	msg := eventMessage(t, m)
	w.Handle(context.Background(), msg)
	waitAcked(t, msg)

	if len(st.processing) != 1 || st.processing[0] != m.ID {
		t.Errorf("processing = %v", st.processing)
	}
	marked := st.marked[m.ID]
	if len(marked) != 2 {
		t.Fatalf("marked = %d deliveries, want 2", len(marked))
	}
	for _, d := range marked {
		if d.outcome != domain.DeliveryDelivered {
			t.Errorf("%s outcome = %s", d.channel, d.outcome)
		}
	}
	if rt.last.Text != "launch announcement" {
		t.Errorf("router text = %q", rt.last.Text)
	}
	if rt.last.Recipient != "+14155552671" {
		t.Errorf("router recipient = %q", rt.last.Recipient)
	}
}

func TestHandleRecordsPartialDelivery(t *testing.T) {
	m := scheduledMessage(t, domain.ChannelEmail, domain.ChannelSMS)
	st := newFakeStore(m)
	rt := &fakeRouter{result: &router.PublishResult{Results: []router.ChannelResult{
		{Channel: domain.ChannelEmail, Success: true, ExternalID: "ses-1"},
		{Channel: domain.ChannelSMS, Error: "number opted out", ErrorCode: "invalid_recipient"},
	}}}
	w := New(nil, st, rt, idempotency.NewMemoryIndex())

	msg := eventMessage(t, m)
	w.Handle(context.Background(), msg)
	waitAcked(t, msg)

	marked := st.marked[m.ID]
	if len(marked) != 2 {
		t.Fatalf("marked = %d deliveries, want 2", len(marked))
	}
	if marked[0].outcome != domain.DeliveryDelivered {
		t.Errorf("email outcome = %s", marked[0].outcome)
	}
	if marked[1].outcome != domain.DeliveryFailed || marked[1].reason != "number opted out" {
		t.Errorf("sms outcome = %+v", marked[1])
	}
}

func TestHandleSkipsDuplicateEvent(t *testing.T) {
	m := scheduledMessage(t, domain.ChannelEmail)
	st := newFakeStore(m)
	rt := &fakeRouter{result: &router.PublishResult{Results: []router.ChannelResult{
		{Channel: domain.ChannelEmail, Success: true},
	}}}
	w := New(nil, st, rt, idempotency.NewMemoryIndex())

	first := eventMessage(t, m)
	w.Handle(context.Background(), first)
	waitAcked(t, first)

	second := eventMessage(t, m)
	w.Handle(context.Background(), second)
	waitAcked(t, second)

	if rt.calls != 1 {
		t.Errorf("router calls = %d, want 1 (duplicate must not fan out)", rt.calls)
	}
	if len(st.marked[m.ID]) != 1 {
		t.Errorf("marked = %d deliveries, want 1", len(st.marked[m.ID]))
	}
}

func TestHandleSkipsTerminalMessage(t *testing.T) {
	m := scheduledMessage(t, domain.ChannelEmail)
	if err := m.MarkProcessing(); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkChannelDelivered(domain.ChannelEmail, "ses-9"); err != nil {
		t.Fatal(err)
	}
	st := newFakeStore(m)
	rt := &fakeRouter{}
	w := New(nil, st, rt, idempotency.NewMemoryIndex())

	msg := eventMessage(t, m)
	w.Handle(context.Background(), msg)
	waitAcked(t, msg)

	if rt.calls != 0 {
		t.Error("router invoked for terminal message")
	}
	if len(st.marked[m.ID]) != 0 {
		t.Error("deliveries rewritten for terminal message")
	}
}

func TestHandleResumesInterruptedFanOut(t *testing.T) {
	// One channel recorded, the other still pending: the aggregate must
	// still read Processing, so a redelivered event re-runs the fan-out and
	// finishes the remaining channel instead of being skipped as terminal.
	m := scheduledMessage(t, domain.ChannelEmail, domain.ChannelSMS)
	if err := m.MarkProcessing(); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkChannelDelivered(domain.ChannelEmail, "ses-9"); err != nil {
		t.Fatal(err)
	}
	if m.Status != domain.StatusProcessing {
		t.Fatalf("status = %s, want %s", m.Status, domain.StatusProcessing)
	}

	st := newFakeStore(m)
	rt := &fakeRouter{result: &router.PublishResult{Results: []router.ChannelResult{
		{Channel: domain.ChannelEmail, Success: true, ExternalID: "ses-9"},
		{Channel: domain.ChannelSMS, Success: true, ExternalID: "sns-2"},
	}}}
	w := New(nil, st, rt, idempotency.NewMemoryIndex())

	msg := eventMessage(t, m)
	w.Handle(context.Background(), msg)
	waitAcked(t, msg)

	if rt.calls != 1 {
		t.Fatalf("router calls = %d, want 1", rt.calls)
	}
	var smsRecorded bool
	for _, d := range st.marked[m.ID] {
		if d.channel == domain.ChannelSMS && d.outcome == domain.DeliveryDelivered {
			smsRecorded = true
		}
	}
	if !smsRecorded {
		t.Errorf("sms delivery not recorded on redelivery: %v", st.marked[m.ID])
	}
}

func TestHandleMissingMessageAcks(t *testing.T) {
	m := scheduledMessage(t, domain.ChannelEmail)
	st := newFakeStore() // store does not know the message
	rt := &fakeRouter{}
	index := idempotency.NewMemoryIndex()
	w := New(nil, st, rt, index)

	msg := eventMessage(t, m)
	w.Handle(context.Background(), msg)
	waitAcked(t, msg)

	if rt.calls != 0 {
		t.Error("router invoked for missing message")
	}
}

func TestHandleTransientFailureNacks(t *testing.T) {
	m := scheduledMessage(t, domain.ChannelEmail)
	st := newFakeStore(m)
	st.getErr = domain.NewError(domain.CategoryTransient, "store unavailable")
	w := New(nil, st, &fakeRouter{}, idempotency.NewMemoryIndex())

	msg := eventMessage(t, m)
	w.Handle(context.Background(), msg)
	waitNacked(t, msg)
}

func TestHandleRedeliveryAfterFailureRetries(t *testing.T) {
	m := scheduledMessage(t, domain.ChannelEmail)
	st := newFakeStore(m)
	st.getErr = domain.NewError(domain.CategoryTransient, "store unavailable")
	rt := &fakeRouter{result: &router.PublishResult{Results: []router.ChannelResult{
		{Channel: domain.ChannelEmail, Success: true},
	}}}
	w := New(nil, st, rt, idempotency.NewMemoryIndex())

	first := eventMessage(t, m)
	w.Handle(context.Background(), first)
	waitNacked(t, first)

	// The failed idempotency record may be re-acquired on redelivery.
	st.getErr = nil
	second := eventMessage(t, m)
	w.Handle(context.Background(), second)
	waitAcked(t, second)

	if rt.calls != 1 {
		t.Errorf("router calls = %d, want 1", rt.calls)
	}
	if len(st.marked[m.ID]) != 1 {
		t.Errorf("marked = %d deliveries, want 1", len(st.marked[m.ID]))
	}
}

func TestHandleMalformedPayloadAcks(t *testing.T) {
	w := New(nil, newFakeStore(), &fakeRouter{}, idempotency.NewMemoryIndex())

	msg := message.NewMessage("bad", []byte("{not json"))
	w.Handle(context.Background(), msg)
	waitAcked(t, msg)
}

func TestHandleUnknownEventTypeAcks(t *testing.T) {
	// Valid JSON, unrecognized type.
	payload := []byte(`{"event_type":"message.archived","payload":` +
		`{"message_id":"` + uuid.NewString() + `","channels":["email"]}}`)

	rt := &fakeRouter{}
	w := New(nil, newFakeStore(), rt, idempotency.NewMemoryIndex())

	msg := message.NewMessage("unknown", payload)
	w.Handle(context.Background(), msg)
	waitAcked(t, msg)

	if rt.calls != 0 {
		t.Error("router invoked for unknown event type")
	}
}

func TestHandleAlreadyRecordedDeliveryIsTolerated(t *testing.T) {
	m := scheduledMessage(t, domain.ChannelEmail)
	st := newFakeStore(m)
	st.markErr = domain.ErrDeliveryFinal
	rt := &fakeRouter{result: &router.PublishResult{Results: []router.ChannelResult{
		{Channel: domain.ChannelEmail, Success: true},
	}}}
	w := New(nil, st, rt, idempotency.NewMemoryIndex())

	msg := eventMessage(t, m)
	w.Handle(context.Background(), msg)
	waitAcked(t, msg)
}

func TestServeConsumesFromMemoryLog(t *testing.T) {
	const shards = 2
	log := eventlog.NewMemoryLog(shards)
	defer log.Close()

	m := scheduledMessage(t, domain.ChannelEmail)
	st := newFakeStore(m)
	rt := &fakeRouter{result: &router.PublishResult{Results: []router.ChannelResult{
		{Channel: domain.ChannelEmail, Success: true, ExternalID: "ses-1"},
	}}}

	subs := make([]Subscriber, shards)
	for i := range subs {
		subs[i] = log
	}
	w := New(subs, st, rt, idempotency.NewMemoryIndex())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	event := eventlog.NewEvent(
		eventlog.EventMessageScheduled,
		m.ID.String(),
		domain.ChannelStrings(m.Channels),
		"corr-serve",
	)
	if err := log.PublishEvent(ctx, event); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for rt.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("event never processed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop on cancel")
	}
}
