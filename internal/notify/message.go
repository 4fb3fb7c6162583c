// Package notify tells clients their download page is ready.
package notify

import (
	"fmt"
	"html"
	"net/url"
	"strings"
)

// DownloadSubject is the subject line of every download notification
const DownloadSubject = "Your AI-Generated Images are Ready! 🎨"

// Message is a composed notification
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// ClientName picks the greeting name: the user field, else the email local part, else "Client"
func ClientName(user, email string) string {
	if user != "" {
		return user
	}
	if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
		return local
	}
	if email != "" {
		return email
	}
	return "Client"
}

// ComposeDownloadMessage builds the notification text for a finished gallery
func ComposeDownloadMessage(to, clientName, downloadLink string, imageCount, year int) Message {
	greeting := "Hello"
	if clientName != "" {
		greeting = "Hello " + clientName
	}

	imageText := "Your images are ready for download."
	if imageCount > 0 {
		plural := ""
		if imageCount > 1 {
			plural = "s"
		}
		imageText = fmt.Sprintf("We've generated %d high-quality image%s for you.", imageCount, plural)
	}

	text := greeting + `,

Great news! Your AI-generated images have been processed and are ready for download.

` + imageText + `

🔗 Download Link:
` + downloadLink + `

What's next?
• Click the link above to view and download all your images
• Each image can be downloaded individually
• Your download link is available for 30 days

If you have any questions or need assistance, feel free to reach out to us.

Best regards,
Your AI Image Team

---
This is an automated message.
© ` + fmt.Sprintf("%d", year) + ` AI Image Processing Service`

	return Message{
		To:      to,
		Subject: DownloadSubject,
		Text:    text,
		HTML:    textToHTML(text, downloadLink),
	}
}

// MailtoLink returns a mailto: URL with the subject and body pre-filled
func MailtoLink(msg Message) string {
	return "mailto:" + msg.To + "?subject=" + encodeComponent(msg.Subject) + "&body=" + encodeComponent(msg.Text)
}

func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func textToHTML(text, link string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, paragraph := range strings.Split(text, "\n\n") {
		escaped := html.EscapeString(paragraph)
		if link != "" {
			escapedLink := html.EscapeString(link)
			escaped = strings.ReplaceAll(escaped, escapedLink, `<a href="`+escapedLink+`">`+escapedLink+`</a>`)
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(escaped, "\n", "<br>"))
		b.WriteString("</p>")
	}
	b.WriteString("</body></html>")
	return b.String()
}
