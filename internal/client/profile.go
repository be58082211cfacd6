package client

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is the on-disk description of one user's session.
//
//	server: http://localhost:8080
//	token: eyJhbGciOi...
//	userId: 3
//	outbox: ~/.tripchat/outbox.db
//	backoff: {initial: 500ms, max: 30s, multiplier: 2}
type Profile struct {
	Server             string        `yaml:"server"`
	Token              string        `yaml:"token"`
	UserID             uint          `yaml:"userId"`
	Outbox             string        `yaml:"outbox"`
	UploadEndpoint     string        `yaml:"uploadEndpoint"`
	NotificationWindow int           `yaml:"notificationWindow"`
	MessagePage        int           `yaml:"messagePage"`
	TypingThrottle     time.Duration `yaml:"typingThrottle"`
	Backoff            struct {
		Initial    time.Duration `yaml:"initial"`
		Max        time.Duration `yaml:"max"`
		Multiplier float64       `yaml:"multiplier"`
	} `yaml:"backoff"`
}

// LoadProfile reads a YAML profile. Environment variables in the file are expanded.
func LoadProfile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return ParseProfile(strings.NewReader(os.ExpandEnv(string(raw))))
}

// ParseProfile decodes and validates a YAML profile.
func ParseProfile(r io.Reader) (*Profile, error) {
	var p Profile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}

	switch {
	case p.Server == "":
		return nil, errors.New("profile: server is required")
	case p.Token == "":
		return nil, errors.New("profile: token is required")
	case p.UserID == 0:
		return nil, errors.New("profile: userId is required")
	}
	if _, err := p.GatewayURL(); err != nil {
		return nil, err
	}
	return &p, nil
}

// GatewayURL derives the WebSocket endpoint from the server URL.
func (p *Profile) GatewayURL() (string, error) {
	u, err := url.Parse(p.Server)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("profile: invalid server url %q", p.Server)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("profile: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/ws"
	return u.String(), nil
}

// Options builds Manager options for the profile. The returned closer
// releases the durable outbox, if one was opened.
func (p *Profile) Options(logger *slog.Logger) (Options, io.Closer, error) {
	gateway, err := p.GatewayURL()
	if err != nil {
		return Options{}, nil, err
	}

	rest := NewRESTClient(p.Server, p.Token)
	opts := Options{
		UserID:             p.UserID,
		Transport:          &WSTransport{URL: gateway, Token: p.Token, Tickets: rest},
		API:                rest,
		NotificationWindow: p.NotificationWindow,
		MessagePage:        p.MessagePage,
		TypingThrottle:     p.TypingThrottle,
		Logger:             logger,
		Backoff: BackoffConfig{
			Initial:    p.Backoff.Initial,
			Max:        p.Backoff.Max,
			Multiplier: p.Backoff.Multiplier,
		},
	}
	if p.UploadEndpoint != "" {
		opts.Uploader = &HTTPUploader{Endpoint: p.UploadEndpoint, Token: p.Token}
	}

	var closer io.Closer = io.NopCloser(nil)
	if p.Outbox != "" {
		ob, err := OpenBoltOutbox(expandHome(p.Outbox))
		if err != nil {
			return Options{}, nil, err
		}
		opts.Outbox = ob
		closer = ob
	}
	return opts, closer, nil
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return home + "/" + rest
		}
	}
	return path
}
