package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/hur-delivery/otpauth/internal/auth"
	"github.com/hur-delivery/otpauth/internal/domain"
)

// codeMessage is the text delivered to the user.
const codeMessage = "Your hur.delivery verification code is: %s"

// snsPublisher is a narrow, consumer-defined interface for the subset of SNS
// operations required by the SMS sender. The real *sns.Client satisfies it.
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

var (
	_ auth.CodeSender = (*SNSSender)(nil)
	_ auth.CodeSender = (*GatewaySender)(nil)
	_ auth.CodeSender = (*LogSender)(nil)
)

// SNSSender delivers codes as transactional SMS via Amazon SNS.
type SNSSender struct {
	client   snsPublisher
	senderID string
}

// NewSNSSender creates an SNSSender. senderID may be empty.
func NewSNSSender(client snsPublisher, senderID string) *SNSSender {
	return &SNSSender{client: client, senderID: senderID}
}

// SendOTP publishes the code to phone in E.164 form.
func (p *SNSSender) SendOTP(ctx context.Context, phone, code string) error {
	ctx, span := tracer.Start(ctx, "sns.send_otp")
	defer span.End()

	attrs := map[string]snstypes.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
	}
	if p.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = snstypes.MessageAttributeValue{
			DataType: aws.String("String"), StringValue: aws.String(p.senderID),
		}
	}

	_, err := p.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(e164(phone)),
		Message:           aws.String(fmt.Sprintf(codeMessage, code)),
		MessageAttributes: attrs,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("sns sms: send otp: %w", err)
	}
	return nil
}

// GatewaySender posts codes to an HTTP messaging gateway (WhatsApp or SMS).
type GatewaySender struct {
	url        string
	apiKey     domain.SecretString
	channel    string
	sender     string
	httpClient *http.Client
}

// GatewayConfig configures GatewaySender.
type GatewayConfig struct {
	URL     string
	APIKey  domain.SecretString
	Channel string // "whatsapp" or "sms"
	Sender  string
}

// NewGatewaySender creates a GatewaySender. A nil httpClient uses
// http.DefaultClient.
func NewGatewaySender(cfg GatewayConfig, httpClient *http.Client) *GatewaySender {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GatewaySender{
		url:        strings.TrimSpace(cfg.URL),
		apiKey:     cfg.APIKey,
		channel:    cfg.Channel,
		sender:     cfg.Sender,
		httpClient: httpClient,
	}
}

type gatewayMessage struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Code    string `json:"code"`
	Text    string `json:"text"`
}

// SendOTP posts the code to the gateway. Any non-2xx answer is an error.
func (p *GatewaySender) SendOTP(ctx context.Context, phone, code string) error {
	ctx, span := tracer.Start(ctx, "gateway.send_otp")
	defer span.End()

	if p.url == "" {
		return fmt.Errorf("gateway sms: %w: url", domain.ErrNotConfigured)
	}

	raw, err := json.Marshal(gatewayMessage{
		Channel: p.channel,
		To:      e164(phone),
		From:    p.sender,
		Code:    code,
		Text:    fmt.Sprintf(codeMessage, code),
	})
	if err != nil {
		return fmt.Errorf("gateway sms: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("gateway sms: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if !p.apiKey.IsEmpty() {
		req.Header.Set("Authorization", "Bearer "+p.apiKey.Expose())
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("gateway sms: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("gateway sms: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

// LogSender logs deliveries instead of sending them. Local development only;
// the code itself is redacted by the logging handler.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender writing to logger.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// SendOTP logs the delivery and never fails.
func (p *LogSender) SendOTP(ctx context.Context, phone, code string) error {
	p.logger.InfoContext(ctx, "otp delivery (log-only)",
		slog.String("phone", phone),
		slog.String("otp", code),
	)
	return nil
}

func e164(phone string) string {
	if strings.HasPrefix(phone, "+") {
		return phone
	}
	return "+" + phone
}
