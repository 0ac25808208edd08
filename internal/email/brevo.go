// Package email delivers the finished report through the Brevo
// transactional email API.
package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	emailverifier "github.com/AfterShip/email-verifier"
	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://api.brevo.com/v3"

var verifier = emailverifier.NewVerifier()

// attachmentExtensions are the artifact types attached to report emails.
var attachmentExtensions = map[string]bool{
	".csv":  true,
	".xlsx": true,
	".pdf":  true,
}

// Sender sends transactional email via Brevo.
type Sender struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	fromName   string
	fromEmail  string
}

// Option configures a Sender.
type Option func(*Sender)

// WithBaseURL points the sender at a different API host (tests).
func WithBaseURL(base string) Option {
	return func(s *Sender) {
		s.baseURL = base
	}
}

// NewSender creates a Brevo sender.
func NewSender(apiKey, fromName, fromEmail string, opts ...Option) *Sender {
	s := &Sender{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		fromName:   fromName,
		fromEmail:  fromEmail,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type sendEmailRequest struct {
	Sender      emailAddress   `json:"sender"`
	To          []emailAddress `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
	Attachment  []attachment   `json:"attachment,omitempty"`
}

type emailAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type attachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ValidateRecipients checks recipient syntax, returning the valid subset
// and an error only when none survive.
func ValidateRecipients(recipients []string) ([]string, error) {
	var valid []string
	for _, addr := range recipients {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		result, err := verifier.Verify(addr)
		if err != nil {
			log.Warn().Err(err).Str("email", addr).Msg("Email verifier failed")
			continue
		}
		if !result.Syntax.Valid {
			log.Warn().Str("email", addr).Msg("Skipping recipient with invalid address syntax")
			continue
		}
		valid = append(valid, addr)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("no valid recipients in %d configured addresses", len(recipients))
	}
	return valid, nil
}

// Send delivers one email. attachmentDir may be empty; when set, every
// CSV, XLSX and PDF file directly inside it is attached base64-encoded.
func (s *Sender) Send(ctx context.Context, recipients []string, subject, htmlBody, attachmentDir string) error {
	valid, err := ValidateRecipients(recipients)
	if err != nil {
		return err
	}

	to := make([]emailAddress, 0, len(valid))
	for _, addr := range valid {
		to = append(to, emailAddress{Email: addr})
	}

	req := sendEmailRequest{
		Sender:      emailAddress{Name: s.fromName, Email: s.fromEmail},
		To:          to,
		Subject:     subject,
		HTMLContent: htmlBody,
	}

	if attachmentDir != "" {
		attachments, err := collectAttachments(attachmentDir)
		if err != nil {
			return err
		}
		req.Attachment = attachments
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal send email request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/smtp/email", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create send email request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", s.apiKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute send email request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Brevo API returned status %d: %s", resp.StatusCode, string(body))
	}

	log.Info().
		Int("recipients", len(to)).
		Int("attachments", len(req.Attachment)).
		Str("subject", subject).
		Msg("Sent report email")

	return nil
}

// collectAttachments reads the report artifacts from a directory.
// Subdirectories and unrelated file types are skipped.
func collectAttachments(dir string) ([]attachment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment directory: %w", err)
	}

	var attachments []attachment
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !attachmentExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping unreadable attachment")
			continue
		}
		attachments = append(attachments, attachment{
			Name:    entry.Name(),
			Content: base64.StdEncoding.EncodeToString(data),
		})
	}
	return attachments, nil
}
