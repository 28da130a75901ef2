// Package gmail implements the Gmail tool on top of the Gmail REST API.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"flowstudio/internal/capability"
	"flowstudio/internal/capability/email"
)

const (
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	defaultBaseURL  = "https://gmail.googleapis.com/gmail/v1"
)

type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	BaseURL      string
	HTTPClient   *http.Client
}

// Connection is the credential bundle stored on a Gmail tool node.
type Connection struct {
	Credentials struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		RefreshToken string `json:"refresh_token"`
		AccessToken  string `json:"access_token"`
	} `json:"credentials"`
	ExecutionContext struct {
		UserID     string `json:"user_id"`
		BaseURL    string `json:"base_url"`
		AuthHeader string `json:"auth_header"`
	} `json:"execution_context"`
}

type Adapter struct {
	cfg    Config
	logger zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Adapter {
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Adapter{cfg: cfg, logger: logger}
}

func (slf *Adapter) Name() string { return "Gmail" }

func (slf *Adapter) Operations() map[string]capability.Operation {
	return map[string]capability.Operation{
		"fetch_emails": slf.fetchEmails,
		"send_emails":  slf.sendEmails,
	}
}

// session is a resolved connection: where to call and with which header.
type session struct {
	baseURL    string
	userID     string
	authHeader string
}

func (slf *Adapter) open(ctx context.Context, raw json.RawMessage) (session, error) {
	conn, err := capability.DecodeConnection[Connection](raw)
	if err != nil {
		return session{}, err
	}

	s := session{
		baseURL: strings.TrimRight(conn.ExecutionContext.BaseURL, "/"),
		userID:  conn.ExecutionContext.UserID,
	}
	if s.baseURL == "" {
		s.baseURL = strings.TrimRight(slf.cfg.BaseURL, "/")
	}
	if s.userID == "" {
		s.userID = "me"
	}

	token, err := slf.refresh(ctx, conn)
	if err == nil {
		s.authHeader = "Bearer " + token
		return s, nil
	}

	slf.logger.Warn().Err(err).Msg("Gmail token refresh failed, falling back to stored token")
	switch {
	case conn.ExecutionContext.AuthHeader != "":
		s.authHeader = conn.ExecutionContext.AuthHeader
	case conn.Credentials.AccessToken != "":
		s.authHeader = "Bearer " + conn.Credentials.AccessToken
	default:
		return session{}, fmt.Errorf("%w: no usable Gmail token", capability.ErrMissingCredentials)
	}
	return s, nil
}

func (slf *Adapter) refresh(ctx context.Context, conn Connection) (string, error) {
	clientID := conn.Credentials.ClientID
	if clientID == "" {
		clientID = slf.cfg.ClientID
	}
	clientSecret := conn.Credentials.ClientSecret
	if clientSecret == "" {
		clientSecret = slf.cfg.ClientSecret
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  slf.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, slf.cfg.HTTPClient)

	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: conn.Credentials.RefreshToken}).Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

type messageList struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type messageDetail struct {
	ID      string `json:"id"`
	Snippet string `json:"snippet"`
	Payload struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

func (slf *Adapter) fetchEmails(ctx context.Context, call capability.Call) (any, error) {
	s, err := slf.open(ctx, call.Connection)
	if err != nil {
		return nil, err
	}

	listURL := fmt.Sprintf("%s/users/%s/messages?q=%s", s.baseURL, url.PathEscape(s.userID), url.QueryEscape(email.FetchQuery))
	var list messageList
	if err := slf.do(ctx, http.MethodGet, listURL, s.authHeader, nil, &list); err != nil {
		return nil, err
	}

	refs := list.Messages
	if len(refs) > email.MaxFetchResults {
		refs = refs[:email.MaxFetchResults]
	}

	messages := make([]email.Message, 0, len(refs))
	for _, ref := range refs {
		msgURL := fmt.Sprintf("%s/users/%s/messages/%s", s.baseURL, url.PathEscape(s.userID), url.PathEscape(ref.ID))
		var detail messageDetail
		if err := slf.do(ctx, http.MethodGet, msgURL, s.authHeader, nil, &detail); err != nil {
			return nil, err
		}

		msg := email.Message{ID: ref.ID, Snippet: detail.Snippet}
		for _, h := range detail.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "subject":
				msg.Subject = h.Value
			case "from":
				msg.Sender = h.Value
			case "date":
				msg.Date = h.Value
			}
		}
		messages = append(messages, msg)
	}

	slf.logger.Info().Str("userId", s.userID).Int("count", len(messages)).Msg("Fetched Gmail messages")
	return email.NewFetchResult(messages), nil
}

func (slf *Adapter) sendEmails(ctx context.Context, call capability.Call) (any, error) {
	s, err := slf.open(ctx, call.Connection)
	if err != nil {
		return nil, err
	}

	sendURL := fmt.Sprintf("%s/users/%s/messages/send", s.baseURL, url.PathEscape(s.userID))
	return email.Send(ctx, call.Inputs, func(ctx context.Context, d email.Details) (string, error) {
		raw, err := email.RawMessage(d)
		if err != nil {
			return "", err
		}
		body := map[string]string{"raw": base64.URLEncoding.EncodeToString(raw)}

		var sent struct {
			ID string `json:"id"`
		}
		if err := slf.do(ctx, http.MethodPost, sendURL, s.authHeader, body, &sent); err != nil {
			return "", err
		}
		return sent.ID, nil
	})
}

func (slf *Adapter) do(ctx context.Context, method, target, authHeader string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := slf.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gmail returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
