package gmail

import (
	"encoding/base64"
	"testing"

	gmailapi "google.golang.org/api/gmail/v1"
)

func part(mimeType, body string, children ...*gmailapi.MessagePart) *gmailapi.MessagePart {
	p := &gmailapi.MessagePart{MimeType: mimeType, Parts: children}
	if body != "" {
		p.Body = &gmailapi.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte(body))}
	}
	return p
}

func TestWalkBodyPrefersLongestPlainPart(t *testing.T) {
	short := "Sent from my iPhone, thanks."
	long := "Thank you for your interest in the Software Engineer position. " +
		"After careful review we regret to inform you that we will not be " +
		"moving forward with your application at this time."

	payload := part("multipart/mixed", "",
		part("text/plain", short),
		part("multipart/alternative", "",
			part("text/plain", long),
			part("text/html", "<p>"+long+"</p>"),
		),
	)

	_, text := walkBody(payload)
	if text != long {
		t.Errorf("expected longest plain part, got %q", text)
	}
}

func TestWalkBodySkipsNoiseParts(t *testing.T) {
	payload := part("multipart/mixed", "",
		part("text/plain", "--"),
		part("text/plain", "A substantive body part that clears the noise threshold."),
	)

	_, text := walkBody(payload)
	if text != "A substantive body part that clears the noise threshold." {
		t.Errorf("expected separator part to be ignored, got %q", text)
	}
}

func TestWalkBodyCollectsBothTypes(t *testing.T) {
	payload := part("multipart/alternative", "",
		part("text/plain", "Plain version of the message body here."),
		part("text/html", "<p>HTML version of the message body here.</p>"),
	)

	html, text := walkBody(payload)
	if text != "Plain version of the message body here." {
		t.Errorf("unexpected plain body: %q", text)
	}
	if html != "<p>HTML version of the message body here.</p>" {
		t.Errorf("unexpected html body: %q", html)
	}
}
