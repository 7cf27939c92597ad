package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/partsbin/fitment-marketing/internal/domain"
)

// fakeClient records sends and optionally fails specific recipients.
type fakeClient struct {
	sent    []Outbound
	failFor map[string]error
}

func (f *fakeClient) Send(_ context.Context, msg *Outbound) error {
	if err, ok := f.failFor[msg.Recipient]; ok {
		return err
	}
	f.sent = append(f.sent, *msg)
	return nil
}

func dueMessage(id string, ch domain.Channel, recipient string) DueMessage {
	return DueMessage{
		CampaignMessage: domain.CampaignMessage{
			ID:         id,
			CampaignID: "c1",
			StoreID:    "s1",
			TargetID:   "t-" + id,
			Channel:    ch,
			Recipient:  recipient,
			Status:     domain.MessagePending,
		},
		Subject:      "Parts for your {{ vehicle }}",
		Body:         "Hi {{ first_name | default: \"there\" }}, new parts for your {{ vehicle }}.",
		VehicleLabel: "2012 Toyota Corolla",
	}
}

func TestDispatcherSendsAndMarks(t *testing.T) {
	messages := newFakeMessages()
	messages.due = []DueMessage{dueMessage("m1", domain.ChannelEmail, "a@example.com")}

	email := &fakeClient{}
	d := NewDispatcher(messages, map[domain.Channel]Client{domain.ChannelEmail: email}, 200)

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Sent != 1 || res.Failed != 0 {
		t.Errorf("sent/failed = %d/%d, want 1/0", res.Sent, res.Failed)
	}
	if len(messages.sent) != 1 || messages.sent[0] != "m1" {
		t.Errorf("marked sent = %v, want [m1]", messages.sent)
	}
	if len(email.sent) != 1 {
		t.Fatalf("client sends = %d, want 1", len(email.sent))
	}
	if email.sent[0].Subject != "Parts for your 2012 Toyota Corolla" {
		t.Errorf("subject = %q", email.sent[0].Subject)
	}
	if !strings.Contains(email.sent[0].Body, "Hi there,") {
		t.Errorf("body = %q, want default first name applied", email.sent[0].Body)
	}
}

func TestDispatcherFailureDoesNotAbortBatch(t *testing.T) {
	messages := newFakeMessages()
	messages.due = []DueMessage{
		dueMessage("m1", domain.ChannelEmail, "bad@example.com"),
		dueMessage("m2", domain.ChannelEmail, "good@example.com"),
	}

	email := &fakeClient{failFor: map[string]error{
		"bad@example.com": errors.New("mailbox unavailable"),
	}}
	d := NewDispatcher(messages, map[domain.Channel]Client{domain.ChannelEmail: email}, 200)

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Sent != 1 || res.Failed != 1 {
		t.Errorf("sent/failed = %d/%d, want 1/1", res.Sent, res.Failed)
	}
	if got := messages.failed["m1"]; !strings.Contains(got, "mailbox unavailable") {
		t.Errorf("failure reason = %q, want mailbox unavailable", got)
	}
	if len(messages.sent) != 1 || messages.sent[0] != "m2" {
		t.Errorf("marked sent = %v, want [m2]", messages.sent)
	}
}

func TestDispatcherMissingChannelClientFailsMessage(t *testing.T) {
	messages := newFakeMessages()
	messages.due = []DueMessage{dueMessage("m1", domain.ChannelMessaging, "+15551234567")}

	d := NewDispatcher(messages, map[domain.Channel]Client{}, 200)
	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("failed = %d, want 1", res.Failed)
	}
	if got := messages.failed["m1"]; !strings.Contains(got, "no client") {
		t.Errorf("failure reason = %q, want no client", got)
	}
}

func TestDispatcherRespectsBatchSize(t *testing.T) {
	messages := newFakeMessages()
	for i := 0; i < 5; i++ {
		messages.due = append(messages.due, dueMessage(
			"m"+string(rune('1'+i)), domain.ChannelOnsite, "v1"))
	}

	onsite := &fakeClient{}
	d := NewDispatcher(messages, map[domain.Channel]Client{domain.ChannelOnsite: onsite}, 2)

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Fetched != 2 || res.Sent != 2 {
		t.Errorf("fetched/sent = %d/%d, want 2/2", res.Fetched, res.Sent)
	}
}

func TestRendererAppliesVars(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render("Deals on {{ vehicle }} parts", map[string]interface{}{
		"vehicle": "Toyota Corolla",
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if out != "Deals on Toyota Corolla parts" {
		t.Errorf("out = %q", out)
	}

	// Cached parse path.
	out2, err := r.Render("Deals on {{ vehicle }} parts", map[string]interface{}{
		"vehicle": "Toyota Camry",
	})
	if err != nil {
		t.Fatalf("Render() cached error: %v", err)
	}
	if out2 != "Deals on Toyota Camry parts" {
		t.Errorf("cached out = %q", out2)
	}
}

func TestRendererBadTemplate(t *testing.T) {
	r := NewRenderer()
	if _, err := r.Render("{% if %}", nil); err == nil {
		t.Error("expected parse error for malformed template")
	}
}
