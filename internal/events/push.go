package events

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"

	"haulpay/internal/domain"
)

// pushed lists the events worth interrupting the driver for.
var pushed = map[domain.EventType]string{
	domain.EventTripFinished: "Trip finished",
	domain.EventPayCorrected: "Trip pay updated",
	domain.EventDepotArrived: "Load complete",
}

var topicName = regexp.MustCompile(`^[a-zA-Z0-9\-_.~%]+$`)

// MessageSender is the subset of the FCM client used for pushes.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushPublisher sends selected trip events to the driver's devices over FCM.
// Devices subscribe to the topic "user-<userID>".
type PushPublisher struct {
	sender MessageSender
	log    *slog.Logger
}

// NewPushPublisher wraps an FCM sender.
func NewPushPublisher(sender MessageSender, log *slog.Logger) *PushPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &PushPublisher{sender: sender, log: log}
}

// NewFCMSender initialises a messaging client from a Firebase app.
func NewFCMSender(ctx context.Context, app *firebase.App) (*messaging.Client, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}
	return client, nil
}

// Publish pushes the event if it is one drivers are notified about.
func (p *PushPublisher) Publish(ctx context.Context, ev domain.TripEvent) error {
	msg, ok := pushMessage(ev)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	id, err := p.sender.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("error sending FCM message: %w", err)
	}
	p.log.Debug("push sent", "trip_id", ev.TripID, "type", ev.Type, "message_id", id)
	return nil
}

func pushMessage(ev domain.TripEvent) (*messaging.Message, bool) {
	title, ok := pushed[ev.Type]
	if !ok {
		return nil, false
	}
	topic := "user-" + ev.UserID
	if ev.UserID == "" || !topicName.MatchString(topic) {
		return nil, false
	}

	data := map[string]string{
		"type":    string(ev.Type),
		"trip_id": ev.TripID,
	}
	if total, ok := ev.Data["total_pay"].(float64); ok {
		data["total_pay"] = strconv.FormatFloat(total, 'f', 2, 64)
	}

	return &messaging.Message{
		Topic: topic,
		Notification: &messaging.Notification{
			Title: title,
			Body:  ev.Message,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
					Sound:            "default",
				},
			},
		},
	}, true
}
