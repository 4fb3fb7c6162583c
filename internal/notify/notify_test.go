package notify

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/gallery-pipeline/internal/domain"
)

func TestClientName(t *testing.T) {
	assert.Equal(t, "Alice", ClientName("Alice", "a@x.com"))
	assert.Equal(t, "bob", ClientName("", "bob@x.com"))
	assert.Equal(t, "weird", ClientName("", "weird"))
	assert.Equal(t, "Client", ClientName("", ""))
}

func TestComposeDownloadMessage(t *testing.T) {
	msg := ComposeDownloadMessage("a@x.com", "Alice", "https://cdn/a_gen/download_1.html", 4, 2025)

	assert.Equal(t, "a@x.com", msg.To)
	assert.Equal(t, DownloadSubject, msg.Subject)
	assert.True(t, strings.HasPrefix(msg.Text, "Hello Alice,\n\nGreat news!"))
	assert.Contains(t, msg.Text, "We've generated 4 high-quality images for you.")
	assert.Contains(t, msg.Text, "🔗 Download Link:\nhttps://cdn/a_gen/download_1.html")
	assert.Contains(t, msg.Text, "© 2025 AI Image Processing Service")
	assert.Contains(t, msg.HTML, `<a href="https://cdn/a_gen/download_1.html">`)

	single := ComposeDownloadMessage("a@x.com", "", "https://x", 1, 2025)
	assert.True(t, strings.HasPrefix(single.Text, "Hello,"))
	assert.Contains(t, single.Text, "1 high-quality image for you.")

	none := ComposeDownloadMessage("a@x.com", "Alice", "https://x", 0, 2025)
	assert.Contains(t, none.Text, "Your images are ready for download.")
}

func TestMailtoLink(t *testing.T) {
	msg := ComposeDownloadMessage("a@x.com", "Alice", "https://cdn/x.html", 2, 2025)
	link := MailtoLink(msg)

	require.True(t, strings.HasPrefix(link, "mailto:a@x.com?subject="))
	assert.NotContains(t, link, "+")
	assert.NotContains(t, link, " ")

	parsed, err := url.Parse(link)
	require.NoError(t, err)
	query, err := url.ParseQuery(parsed.RawQuery)
	require.NoError(t, err)
	assert.Equal(t, DownloadSubject, query.Get("subject"))
	assert.Equal(t, msg.Text, query.Get("body"))
}

type fakePublisher struct {
	body        []byte
	contentType string
	err         error
}

func (f *fakePublisher) PublishWithRetry(_ context.Context, body []byte, contentType string) error {
	f.body = body
	f.contentType = contentType
	return f.err
}

func TestQueueNotifier(t *testing.T) {
	publisher := &fakePublisher{}
	notifier := NewQueueNotifier(publisher, nil)

	event := domain.GalleryReadyEvent{
		RecordID:    "rec1",
		Email:       "a@x.com",
		DownloadURL: "https://cdn/x.html",
		ImageCount:  2,
		RunID:       "run-1",
		GeneratedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, notifier.Notify(context.Background(), event))
	assert.Equal(t, "application/json", publisher.contentType)

	decoded, err := DecodeEvent(publisher.body)
	require.NoError(t, err)
	assert.Equal(t, event, decoded)

	publisher.err = errors.New("channel closed")
	assert.ErrorContains(t, notifier.Notify(context.Background(), event), "channel closed")
}

func TestDecodeEvent_Invalid(t *testing.T) {
	_, err := DecodeEvent([]byte("{"))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`{"record_id":"rec1"}`))
	var validation *domain.ValidationError
	assert.True(t, errors.As(err, &validation))
}

func TestNewMailerSendMailer_Validation(t *testing.T) {
	_, err := NewMailerSendMailer(MailerConfig{FromEmail: "noreply@x.com"})
	assert.Error(t, err)

	_, err = NewMailerSendMailer(MailerConfig{APIKey: "k"})
	assert.Error(t, err)

	mailer, err := NewMailerSendMailer(MailerConfig{APIKey: "k", FromEmail: "noreply@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "mailersend(noreply@x.com)", mailer.String())

	err = mailer.Send(context.Background(), Message{Subject: "s"})
	var validation *domain.ValidationError
	assert.True(t, errors.As(err, &validation))
}
