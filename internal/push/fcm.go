package push

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// fcmMulticastLimit is the provider's maximum batch size per multicast call.
const fcmMulticastLimit = 500

var errMissingCredentials = errors.New("push: FCM credentials file is required")

// FCMConfig describes the Firebase Cloud Messaging client dependencies.
type FCMConfig struct {
	ProjectID       string
	CredentialsFile string
	Logger          *zap.Logger
}

// FCMPusher delivers multicast messages through Firebase Cloud Messaging.
type FCMPusher struct {
	client *messaging.Client
	logger *zap.Logger
}

// NewFCMPusher initializes the Firebase app and its messaging client.
func NewFCMPusher(ctx context.Context, cfg FCMConfig) (*FCMPusher, error) {
	if cfg.CredentialsFile == "" {
		return nil, errMissingCredentials
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	app, err := firebase.NewApp(ctx,
		&firebase.Config{ProjectID: cfg.ProjectID},
		option.WithCredentialsFile(cfg.CredentialsFile),
	)
	if err != nil {
		return nil, fmt.Errorf("push: initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("push: initialize messaging client: %w", err)
	}
	return &FCMPusher{client: client, logger: logger}, nil
}

// SendMulticast fans the message out to every token, batching by the
// provider limit. Per-token failures are folded into the report; only a
// transport-level failure surfaces as an error.
func (p *FCMPusher) SendMulticast(ctx context.Context, deviceTokens []string, message Message) (Report, error) {
	var report Report
	for start := 0; start < len(deviceTokens); start += fcmMulticastLimit {
		end := min(start+fcmMulticastLimit, len(deviceTokens))
		batch := deviceTokens[start:end]

		response, err := p.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens: batch,
			Notification: &messaging.Notification{
				Title: message.Title,
				Body:  message.Body,
			},
		})
		if err != nil {
			return report, fmt.Errorf("push: multicast send: %w", err)
		}

		report.SuccessCount += response.SuccessCount
		report.FailureCount += response.FailureCount
		for index, sendResponse := range response.Responses {
			if sendResponse.Success || sendResponse.Error == nil {
				continue
			}
			if messaging.IsRegistrationTokenNotRegistered(sendResponse.Error) {
				report.InvalidTokens = append(report.InvalidTokens, batch[index])
			}
		}
	}

	if report.FailureCount > 0 {
		p.logger.Warn("multicast delivery partially failed",
			zap.Int("delivered", report.SuccessCount),
			zap.Int("failed", report.FailureCount),
			zap.Int("invalid_tokens", len(report.InvalidTokens)))
	}
	return report, nil
}
