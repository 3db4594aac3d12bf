// Package email normalizes raw inbound messages into the canonical form
// the scan stages operate on: folded text, lowercased sender, and the
// extracted URL, address, and phone artifacts.
package email

import (
	"errors"
	"html"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrEmptyEmail is returned when a message carries no sender, subject, or body.
var ErrEmptyEmail = errors.New("email has no sender, subject, or body")

const (
	maxBodyLength = 2000
	maxURLs       = 10
	maxAddresses  = 10
	maxPhones     = 5
)

var (
	htmlTagRegex = regexp.MustCompile(`<[^>]+>`)
	spaceRegex   = regexp.MustCompile(`\s+`)
	urlRegex     = regexp.MustCompile(`http[s]?://(?:[a-zA-Z]|[0-9]|[$-_@.&+]|[!*\\(\\),]|(?:%[0-9a-fA-F][0-9a-fA-F]))+`)
	addressRegex = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)
	phoneRegex   = regexp.MustCompile(`(\+?\d{1,3}[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}`)
)

// Message is a normalized email ready for scanning.
type Message struct {
	Sender    string   `json:"sender"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	UserID    string   `json:"user_id"`
	URLs      []string `json:"urls,omitempty"`
	Addresses []string `json:"email_addresses,omitempty"`
	Phones    []string `json:"phone_numbers,omitempty"`
}

// RawEmail is the wire form accepted by the scan endpoint. The sender may
// arrive under either "sender" or "from".
type RawEmail struct {
	Sender  string `json:"sender"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	UserID  string `json:"user_id"`
}

// Normalize converts a raw email into canonical scan form. It returns
// ErrEmptyEmail when the message carries nothing to scan.
func Normalize(raw RawEmail) (*Message, error) {
	sender := raw.Sender
	if sender == "" {
		sender = raw.From
	}

	if strings.TrimSpace(sender) == "" && strings.TrimSpace(raw.Subject) == "" && strings.TrimSpace(raw.Body) == "" {
		return nil, ErrEmptyEmail
	}

	userID := strings.TrimSpace(raw.UserID)
	if userID == "" {
		userID = "default_user"
	}

	body := truncate(cleanText(raw.Body), maxBodyLength)

	msg := &Message{
		Sender:  normalizeSender(sender),
		Subject: cleanText(raw.Subject),
		Body:    body,
		UserID:  userID,
	}
	msg.URLs = dedupLimit(urlRegex.FindAllString(raw.Body, -1), maxURLs)
	msg.Addresses = dedupLimit(addressRegex.FindAllString(raw.Body, -1), maxAddresses)
	msg.Phones = dedupLimit(phoneRegex.FindAllString(raw.Body, -1), maxPhones)
	return msg, nil
}

// truncate caps s at n bytes, backing up so a multi-byte rune is never
// split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// normalizeSender extracts the address part of a display-name header and
// lowercases it. "Alice <Alice@Example.COM>" becomes "alice@example.com".
func normalizeSender(sender string) string {
	sender = strings.TrimSpace(sender)
	if addr, err := mail.ParseAddress(sender); err == nil {
		sender = addr.Address
	}
	return strings.ToLower(sender)
}

// cleanText strips markup and folds the text to a scan-stable form:
// tags removed, entities decoded, NFKC-normalized, control characters
// dropped, whitespace collapsed.
func cleanText(s string) string {
	s = htmlTagRegex.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = norm.NFKC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(spaceRegex.ReplaceAllString(s, " "))
}

func dedupLimit(items []string, limit int) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, item := range items {
		key := strings.ToLower(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
		if len(out) >= limit {
			break
		}
	}
	return out
}
