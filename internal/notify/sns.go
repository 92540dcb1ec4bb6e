package notify

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"

	"radiology-workflow/internal/critical"
	"radiology-workflow/internal/models"
)

// SNSSender publishes SMS directly to the contact's phone number and pager
// or phone-call notifications to the contact's SNS topics.
type SNSSender struct {
	api       snsiface.SNSAPI
	directory *Directory
}

func NewSNSSender(api snsiface.SNSAPI, directory *Directory) *SNSSender {
	return &SNSSender{api: api, directory: directory}
}

func (s *SNSSender) Send(ctx context.Context, msg critical.Message) error {
	rec := msg.Notification
	contact, ok := s.directory.Lookup(rec.RecipientID)
	if !ok {
		return fmt.Errorf("no contact for recipient %s", rec.RecipientID)
	}

	title, body := render(msg)
	in := &sns.PublishInput{
		Subject: aws.String(truncate(title, 100)),
		Message: aws.String(title + "\n" + body),
	}

	switch rec.Channel {
	case models.ChannelSMS:
		if contact.Phone == "" {
			return fmt.Errorf("no phone number for recipient %s", rec.RecipientID)
		}
		in.Subject = nil
		in.PhoneNumber = aws.String(contact.Phone)
		in.MessageAttributes = map[string]*sns.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		}
	case models.ChannelPager:
		if contact.PagerTopicARN == "" {
			return fmt.Errorf("no pager topic for recipient %s", rec.RecipientID)
		}
		in.TopicArn = aws.String(contact.PagerTopicARN)
	case models.ChannelPhoneCall:
		if contact.VoiceTopicARN == "" {
			return fmt.Errorf("no voice topic for recipient %s", rec.RecipientID)
		}
		in.TopicArn = aws.String(contact.VoiceTopicARN)
	default:
		return fmt.Errorf("sns cannot deliver channel %s", rec.Channel)
	}

	if _, err := s.api.PublishWithContext(ctx, in); err != nil {
		return fmt.Errorf("publish %s notification %s: %w", rec.Channel, rec.ID, err)
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
