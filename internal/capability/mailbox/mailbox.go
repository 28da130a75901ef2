// Package mailbox implements the generic Email tool: IMAP for fetching and
// SMTP for sending, using plain mailbox credentials.
package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"
	gomail "github.com/wneessen/go-mail"

	"flowstudio/internal/capability"
	"flowstudio/internal/capability/email"
	"flowstudio/internal/format"
)

const snippetLength = 200

// Connection mirrors the stored mailbox credential shape.
type Connection struct {
	ImapHost string `json:"imapHost"`
	ImapPort int    `json:"imapPort"`
	SmtpHost string `json:"smtpHost"`
	SmtpPort int    `json:"smtpPort"`
	Username string `json:"username"`
	Password string `json:"password"`
	UseTLS   bool   `json:"useTls"`
	From     string `json:"from"`
}

type fetchFunc func(ctx context.Context, conn Connection) ([]email.Message, error)
type deliverFunc func(ctx context.Context, conn Connection, d email.Details) (string, error)

type Adapter struct {
	logger  zerolog.Logger
	fetch   fetchFunc
	deliver deliverFunc
	relay   Connection
}

func New(logger zerolog.Logger) *Adapter {
	return &Adapter{logger: logger, fetch: fetchIMAP, deliver: sendSMTP}
}

// WithRelay sets the SMTP server used by send_emails when the node
// connection names none.
func (slf *Adapter) WithRelay(relay Connection) *Adapter {
	slf.relay = relay
	return slf
}

func (slf *Adapter) Name() string { return "Email" }

func (slf *Adapter) Operations() map[string]capability.Operation {
	return map[string]capability.Operation{
		"fetch_emails": slf.fetchEmails,
		"send_emails":  slf.sendEmails,
	}
}

func (slf *Adapter) fetchEmails(ctx context.Context, call capability.Call) (any, error) {
	conn, err := capability.DecodeConnection[Connection](call.Connection)
	if err != nil {
		return nil, err
	}
	if conn.ImapHost == "" {
		return nil, fmt.Errorf("%w: imapHost is required", capability.ErrMissingCredentials)
	}
	if conn.ImapPort == 0 {
		conn.ImapPort = 993
	}
	// 993 is implicit TLS, a plain dial there never completes the handshake.
	if conn.ImapPort == 993 {
		conn.UseTLS = true
	}

	messages, err := slf.fetch(ctx, conn)
	if err != nil {
		return nil, err
	}
	slf.logger.Info().Str("host", conn.ImapHost).Int("count", len(messages)).Msg("Fetched mailbox messages")
	return email.NewFetchResult(messages), nil
}

func (slf *Adapter) sendEmails(ctx context.Context, call capability.Call) (any, error) {
	conn, err := capability.DecodeConnection[Connection](call.Connection)
	if err != nil {
		return nil, err
	}
	if conn.SmtpHost == "" && slf.relay.SmtpHost != "" {
		from := conn.From
		conn = slf.relay
		if from != "" {
			conn.From = from
		}
	}
	if conn.SmtpHost == "" {
		return nil, fmt.Errorf("%w: smtpHost is required", capability.ErrMissingCredentials)
	}
	if conn.SmtpPort == 0 {
		conn.SmtpPort = 587
	}

	return email.Send(ctx, call.Inputs, func(ctx context.Context, d email.Details) (string, error) {
		return slf.deliver(ctx, conn, d)
	})
}

func fetchIMAP(ctx context.Context, conn Connection) ([]email.Message, error) {
	addr := fmt.Sprintf("%s:%d", conn.ImapHost, conn.ImapPort)

	var client *imapclient.Client
	var err error
	if conn.UseTLS {
		client, err = imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: conn.ImapHost},
		})
	} else {
		client, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("IMAP connection failed: %w", err)
	}
	defer client.Close()

	// imapclient commands are not context aware, closing the connection
	// unblocks any pending Wait.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	if err := client.Login(conn.Username, conn.Password).Wait(); err != nil {
		return nil, fmt.Errorf("IMAP login failed: %w", err)
	}
	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("failed to select folder: %w", err)
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
		Since:   time.Now().Add(-24 * time.Hour),
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("IMAP search failed: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > email.MaxFetchResults {
		uids = uids[len(uids)-email.MaxFetchResults:]
	}

	section := &imap.FetchItemBodySection{
		Specifier: imap.PartSpecifierText,
		Peek:      true,
		Partial:   &imap.SectionPartial{Offset: 0, Size: 2048},
	}
	fetched, err := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:         true,
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("IMAP fetch failed: %w", err)
	}

	messages := make([]email.Message, 0, len(fetched))
	for _, m := range fetched {
		msg := email.Message{
			ID:      strconv.FormatUint(uint64(m.UID), 10),
			Snippet: snippet(string(m.FindBodySection(section))),
		}
		if m.Envelope != nil {
			msg.Subject = m.Envelope.Subject
			if !m.Envelope.Date.IsZero() {
				msg.Date = m.Envelope.Date.UTC().Format(time.RFC3339)
			}
			if len(m.Envelope.From) > 0 {
				msg.Sender = m.Envelope.From[0].Addr()
			}
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func sendSMTP(ctx context.Context, conn Connection, d email.Details) (string, error) {
	from := conn.From
	if from == "" {
		from = conn.Username
	}
	if from == "" {
		return "", errors.New("no sender address configured")
	}

	m, err := email.BuildMessage(from, d)
	if err != nil {
		return "", err
	}
	m.SetMessageID()

	tlsPolicy := gomail.TLSOpportunistic
	if conn.UseTLS {
		tlsPolicy = gomail.TLSMandatory
	}

	opts := []gomail.Option{
		gomail.WithPort(conn.SmtpPort),
		gomail.WithTLSPolicy(tlsPolicy),
	}
	if conn.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(conn.Username),
			gomail.WithPassword(conn.Password),
		)
	}

	client, err := gomail.NewClient(conn.SmtpHost, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create mail client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return "", fmt.Errorf("failed to send mail: %w", err)
	}
	return m.GetMessageID(), nil
}

func snippet(body string) string {
	text := []rune(format.CleanText(body))
	if len(text) > snippetLength {
		text = text[:snippetLength]
	}
	return string(text)
}
