package messaging

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/partsbin/fitment-marketing/internal/domain"
)

// DueMessage is a pending message joined with everything the dispatcher
// needs to render and deliver it. VehicleLabel is the human-readable
// vehicle the campaign scope resolves to ("2012 Toyota Corolla",
// "Toyota Corolla", or "Toyota").
type DueMessage struct {
	domain.CampaignMessage
	Subject      string
	Body         string
	VehicleLabel string
	CustomerName string
}

// DispatchResult summarizes one dispatch pass.
type DispatchResult struct {
	Fetched int `json:"fetched"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Dispatcher delivers due messages through the channel clients. One
// attempt per message: success marks it sent, any failure marks it
// failed with the error recorded. A bad message never aborts the batch.
type Dispatcher struct {
	messages  Messages
	clients   map[domain.Channel]Client
	renderer  *Renderer
	batchSize int
	now       func() time.Time
}

// NewDispatcher creates a dispatcher over the given channel clients.
func NewDispatcher(messages Messages, clients map[domain.Channel]Client, batchSize int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Dispatcher{
		messages:  messages,
		clients:   clients,
		renderer:  NewRenderer(),
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run processes one batch of due messages, oldest first.
func (d *Dispatcher) Run(ctx context.Context) (DispatchResult, error) {
	var res DispatchResult

	now := d.now()
	due, err := d.messages.Due(ctx, now, d.batchSize)
	if err != nil {
		return res, fmt.Errorf("load due messages: %w", err)
	}
	res.Fetched = len(due)

	for i := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		msg := &due[i]
		if err := d.dispatchOne(ctx, msg); err != nil {
			res.Failed++
			if markErr := d.messages.MarkFailed(ctx, msg.ID, d.now(), err.Error()); markErr != nil {
				return res, fmt.Errorf("mark failed: %w", markErr)
			}
			log.Printf("[Dispatcher] Message %s (%s) failed: %v", msg.ID, msg.Channel, err)
			continue
		}
		res.Sent++
		if err := d.messages.MarkSent(ctx, msg.ID, d.now()); err != nil {
			return res, fmt.Errorf("mark sent: %w", err)
		}
	}

	if res.Fetched > 0 {
		log.Printf("[Dispatcher] Processed %d messages: %d sent, %d failed", res.Fetched, res.Sent, res.Failed)
	}
	return res, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, msg *DueMessage) error {
	client, ok := d.clients[msg.Channel]
	if !ok {
		return fmt.Errorf("no client for channel %q", msg.Channel)
	}

	vars := map[string]interface{}{
		"vehicle":    msg.VehicleLabel,
		"first_name": msg.CustomerName,
		"store_id":   msg.StoreID,
	}
	subject, err := d.renderer.Render(msg.Subject, vars)
	if err != nil {
		return fmt.Errorf("render subject: %w", err)
	}
	body, err := d.renderer.Render(msg.Body, vars)
	if err != nil {
		return fmt.Errorf("render body: %w", err)
	}

	return client.Send(ctx, &Outbound{
		StoreID:   msg.StoreID,
		Recipient: msg.Recipient,
		Subject:   subject,
		Body:      body,
	})
}
