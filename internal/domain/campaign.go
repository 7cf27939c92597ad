package domain

import "time"

// ScopeLevel is the vehicle granularity a campaign targets.
type ScopeLevel string

const (
	ScopeBrand ScopeLevel = "brand"
	ScopeModel ScopeLevel = "model"
	ScopeYear  ScopeLevel = "year"
)

// AudienceMode selects between everyone and inferred-interest targeting.
type AudienceMode string

const (
	AudiencePublic   AudienceMode = "public"
	AudienceTargeted AudienceMode = "targeted"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft    CampaignStatus = "draft"
	CampaignActive   CampaignStatus = "active"
	CampaignPaused   CampaignStatus = "paused"
	CampaignArchived CampaignStatus = "archived"
)

// Channel is an outbound message channel.
type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelMessaging Channel = "messaging"
	ChannelOnsite    Channel = "onsite"
)

// Campaign is a marketing campaign scoped to a vehicle. Creation and
// editing happen in the dashboard, out of scope here; the pipeline reads
// campaigns and writes back refresh bookkeeping only.
type Campaign struct {
	ID               string         `json:"id" db:"id"`
	StoreID          string         `json:"store_id" db:"store_id"`
	Name             string         `json:"name" db:"name"`
	ScopeLevel       ScopeLevel     `json:"scope_level" db:"scope_level"`
	ScopeID          *int64         `json:"scope_id" db:"scope_id"`
	AudienceMode     AudienceMode   `json:"audience_mode" db:"audience_mode"`
	LookbackDays     int            `json:"lookback_days" db:"lookback_days"`
	MinSignals       int            `json:"min_signals" db:"min_signals"`
	OnlyCustomers    bool           `json:"only_customers" db:"only_customers"`
	EmailEnabled     bool           `json:"email_enabled" db:"email_enabled"`
	MessagingEnabled bool           `json:"messaging_enabled" db:"messaging_enabled"`
	OnsiteEnabled    bool           `json:"onsite_enabled" db:"onsite_enabled"`
	SendDelayMinutes int            `json:"send_delay_minutes" db:"send_delay_minutes"`
	Subject          string         `json:"subject" db:"subject"`
	Body             string         `json:"body" db:"body"`
	Status           CampaignStatus `json:"status" db:"status"`
	LastRefreshedAt  *time.Time     `json:"last_refreshed_at" db:"last_refreshed_at"`
	TargetsCount     int            `json:"targets_count" db:"targets_count"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// EnabledChannels returns the channels this campaign sends on.
func (c *Campaign) EnabledChannels() []Channel {
	var out []Channel
	if c.EmailEnabled {
		out = append(out, ChannelEmail)
	}
	if c.MessagingEnabled {
		out = append(out, ChannelMessaging)
	}
	if c.OnsiteEnabled {
		out = append(out, ChannelOnsite)
	}
	return out
}

// RequiresCustomer reports whether the audience must be restricted to
// visitors linked to a customer. Any off-site channel forces it on,
// since anonymous visitors have no deliverable address.
func (c *Campaign) RequiresCustomer() bool {
	return c.OnlyCustomers || c.EmailEnabled || c.MessagingEnabled
}

// TargetStatus is the lifecycle of a campaign target. Only pending and
// skipped rows belong to the synchronizer; anything past that is history
// a refresh must not touch.
type TargetStatus string

const (
	TargetPending   TargetStatus = "pending"
	TargetSkipped   TargetStatus = "skipped"
	TargetMessaged  TargetStatus = "messaged"
	TargetConverted TargetStatus = "converted"
)

// Reconcilable reports whether a refresh may delete a row in this status.
func (s TargetStatus) Reconcilable() bool {
	return s == TargetPending || s == TargetSkipped
}

// CampaignTarget is one currently-eligible visitor for a campaign:
// a disposable materialized view owned entirely by the synchronizer.
type CampaignTarget struct {
	ID            string       `json:"id" db:"id"`
	CampaignID    string       `json:"campaign_id" db:"campaign_id"`
	StoreID       string       `json:"store_id" db:"store_id"`
	VisitorID     string       `json:"visitor_id" db:"visitor_id"`
	CustomerID    *string      `json:"customer_id" db:"customer_id"`
	Email         *string      `json:"email" db:"email"`
	Phone         *string      `json:"phone" db:"phone"`
	SignalsCount  int          `json:"signals_count" db:"signals_count"`
	FirstSignalAt time.Time    `json:"first_signal_at" db:"first_signal_at"`
	LastSignalAt  time.Time    `json:"last_signal_at" db:"last_signal_at"`
	Status        TargetStatus `json:"status" db:"status"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
}

// ContactFor returns the contact field a channel delivers to, and whether
// it is present on this target.
func (t *CampaignTarget) ContactFor(ch Channel) (string, bool) {
	switch ch {
	case ChannelEmail:
		if t.Email != nil && *t.Email != "" {
			return *t.Email, true
		}
	case ChannelMessaging:
		if t.Phone != nil && *t.Phone != "" {
			return *t.Phone, true
		}
	case ChannelOnsite:
		// On-site messages address the visitor session itself.
		return t.VisitorID, true
	}
	return "", false
}

// MessageStatus is the lifecycle of one scheduled outbound message.
type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

// CampaignMessage is one scheduled send for a (target, channel) pair.
// The unique key on (campaign_id, target_id, channel) is the duplicate
// guard; a failed message is terminal for this pipeline (no auto-retry).
type CampaignMessage struct {
	ID          string        `json:"id" db:"id"`
	CampaignID  string        `json:"campaign_id" db:"campaign_id"`
	StoreID     string        `json:"store_id" db:"store_id"`
	TargetID    string        `json:"target_id" db:"target_id"`
	Channel     Channel       `json:"channel" db:"channel"`
	Recipient   string        `json:"recipient" db:"recipient"`
	Status      MessageStatus `json:"status" db:"status"`
	ScheduledAt time.Time     `json:"scheduled_at" db:"scheduled_at"`
	SentAt      *time.Time    `json:"sent_at" db:"sent_at"`
	FailedAt    *time.Time    `json:"failed_at" db:"failed_at"`
	Error       string        `json:"error" db:"error"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}
