// Package messaging schedules campaign messages for eligible targets and
// dispatches them through the outbound channels. One message per
// (target, channel), at most one send attempt per dispatch pass, no
// automatic retries: a duplicate customer-facing send is worse than a
// missed one.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/partsbin/fitment-marketing/internal/config"
	"github.com/partsbin/fitment-marketing/internal/domain"
	"github.com/partsbin/fitment-marketing/internal/pkg/logger"
)

// Outbound is one rendered message ready for delivery.
type Outbound struct {
	StoreID   string
	Recipient string
	Subject   string
	Body      string
}

// Client delivers one rendered message to one recipient. Implementations
// report success or failure only; the dispatcher owns state transitions.
type Client interface {
	Send(ctx context.Context, msg *Outbound) error
}

// ---------------------------------------------------------------------------
// email via AWS SES
// ---------------------------------------------------------------------------

// EmailClient sends campaign email through AWS SES (SDK v2).
type EmailClient struct {
	client    *sesv2.Client
	fromEmail string
	fromName  string
}

// NewEmailClient creates an SES-backed email client.
func NewEmailClient(ctx context.Context, cfg config.SESConfig) (*EmailClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &EmailClient{
		client:    sesv2.NewFromConfig(awsCfg),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
	}, nil
}

// Send delivers one email through SES.
func (c *EmailClient) Send(ctx context.Context, msg *Outbound) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", c.fromName, c.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.Recipient}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	result, err := c.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	log.Printf("[Email] Sent to %s (id: %s)", logger.RedactEmail(msg.Recipient), messageID)
	return nil
}

// ---------------------------------------------------------------------------
// messaging gateway (SMS / chat)
// ---------------------------------------------------------------------------

// GatewayClient sends through an HTTP messaging gateway. Deliberately no
// transport-level retries: a retried POST can double-deliver.
type GatewayClient struct {
	baseURL string
	apiKey  string
	sender  string
	http    *http.Client
}

// NewGatewayClient creates a messaging gateway client.
func NewGatewayClient(cfg config.MessagingConfig) *GatewayClient {
	return &GatewayClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		sender:  cfg.Sender,
		http:    &http.Client{Timeout: cfg.Timeout()},
	}
}

// Send posts one message to the gateway. Non-2xx responses are failures.
func (c *GatewayClient) Send(ctx context.Context, msg *Outbound) error {
	payload, err := json.Marshal(map[string]string{
		"to":      msg.Recipient,
		"from":    c.sender,
		"subject": msg.Subject,
		"text":    msg.Body,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

// ---------------------------------------------------------------------------
// on-site notices
// ---------------------------------------------------------------------------

// NoticeStore persists on-site notices for display on the visitor's next
// session.
type NoticeStore interface {
	InsertNotice(ctx context.Context, storeID, visitorID, subject, body string) error
}

// OnsiteClient "sends" by storing a notice row; the storefront shows it
// when the visitor returns.
type OnsiteClient struct {
	notices NoticeStore
}

// NewOnsiteClient creates the on-site channel client.
func NewOnsiteClient(notices NoticeStore) *OnsiteClient {
	return &OnsiteClient{notices: notices}
}

// Send stores the notice. The recipient is the visitor id itself.
func (c *OnsiteClient) Send(ctx context.Context, msg *Outbound) error {
	return c.notices.InsertNotice(ctx, msg.StoreID, msg.Recipient, msg.Subject, msg.Body)
}

// RequiredChannels maps each channel to whether a target can receive it.
// Kept beside the clients so the scheduler and dispatcher agree.
func RequiredChannels(campaign *domain.Campaign, target *domain.CampaignTarget) []domain.Channel {
	var out []domain.Channel
	for _, ch := range campaign.EnabledChannels() {
		if _, ok := target.ContactFor(ch); ok {
			out = append(out, ch)
		}
	}
	return out
}
