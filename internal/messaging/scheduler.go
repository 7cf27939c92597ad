package messaging

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/partsbin/fitment-marketing/internal/domain"
)

// Targets lists a campaign's pending targets for scheduling.
type Targets interface {
	Pending(ctx context.Context, campaignID string) ([]domain.CampaignTarget, error)
}

// Messages is the message-row store shared by the scheduler and the
// dispatcher. Insert reports whether a row was actually created; the
// unique key on (campaign_id, target_id, channel) makes a lost race a
// clean no-op instead of a duplicate.
type Messages interface {
	ExistingPairs(ctx context.Context, campaignID string) (map[string]struct{}, error)
	Insert(ctx context.Context, msg *domain.CampaignMessage) (bool, error)
	Due(ctx context.Context, now time.Time, limit int) ([]DueMessage, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, at time.Time, sendErr string) error
}

// PairKey identifies one (target, channel) pair in the existing-pairs
// set loaded ahead of a scheduling pass.
func PairKey(targetID string, ch domain.Channel) string {
	return targetID + ":" + string(ch)
}

// ScheduleResult summarizes one scheduling pass over a campaign.
type ScheduleResult struct {
	CampaignID string `json:"campaign_id"`
	Targets    int    `json:"targets"`
	Scheduled  int    `json:"scheduled"`
	Skipped    int    `json:"skipped"`
}

// Scheduler turns pending targets into scheduled message rows, one per
// (target, enabled channel) with a deliverable contact.
type Scheduler struct {
	targets  Targets
	messages Messages
}

// NewScheduler creates a scheduler.
func NewScheduler(targets Targets, messages Messages) *Scheduler {
	return &Scheduler{targets: targets, messages: messages}
}

// ScheduleCampaign schedules messages for every pending target of one
// campaign. Each message is due send_delay_minutes after the target's
// last signal; a delay already in the past just means the message is
// due on the next dispatch pass. Re-running is safe: pairs that already
// have a row, in any status, are skipped.
func (s *Scheduler) ScheduleCampaign(ctx context.Context, campaign *domain.Campaign) (ScheduleResult, error) {
	res := ScheduleResult{CampaignID: campaign.ID}

	if campaign.Status != domain.CampaignActive {
		return res, nil
	}

	targets, err := s.targets.Pending(ctx, campaign.ID)
	if err != nil {
		return res, fmt.Errorf("load pending targets: %w", err)
	}
	res.Targets = len(targets)
	if len(targets) == 0 {
		return res, nil
	}

	existing, err := s.messages.ExistingPairs(ctx, campaign.ID)
	if err != nil {
		return res, fmt.Errorf("load existing pairs: %w", err)
	}

	for i := range targets {
		target := &targets[i]
		for _, ch := range RequiredChannels(campaign, target) {
			if _, ok := existing[PairKey(target.ID, ch)]; ok {
				res.Skipped++
				continue
			}
			recipient, _ := target.ContactFor(ch)
			msg := &domain.CampaignMessage{
				ID:          uuid.New().String(),
				CampaignID:  campaign.ID,
				StoreID:     campaign.StoreID,
				TargetID:    target.ID,
				Channel:     ch,
				Recipient:   recipient,
				Status:      domain.MessagePending,
				ScheduledAt: target.LastSignalAt.Add(time.Duration(campaign.SendDelayMinutes) * time.Minute),
			}
			inserted, err := s.messages.Insert(ctx, msg)
			if err != nil {
				return res, fmt.Errorf("insert message: %w", err)
			}
			if inserted {
				res.Scheduled++
			} else {
				// Another scheduler pass got there first.
				res.Skipped++
			}
		}
	}

	if res.Scheduled > 0 {
		log.Printf("[Scheduler] Campaign %s: scheduled %d messages for %d targets (%d skipped)",
			campaign.ID, res.Scheduled, res.Targets, res.Skipped)
	}
	return res, nil
}
