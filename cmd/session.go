package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hari1098/snaptalks/internal/call"
	"github.com/hari1098/snaptalks/internal/config"
	"github.com/hari1098/snaptalks/internal/relay"
	"github.com/hari1098/snaptalks/internal/signaling"
	"github.com/hari1098/snaptalks/internal/ui"
	"github.com/hari1098/snaptalks/internal/version"
)

const (
	joinTimeout  = 15 * time.Second
	loginTimeout = 10 * time.Second
)

// ConnectionContext is one live relay connection.
type ConnectionContext struct {
	Client  *signaling.Client
	Handler *signaling.Handler
	Config  *config.Config
}

func NewConnectionContext(ctx context.Context, cfg *config.Config) (*ConnectionContext, error) {
	client := signaling.NewClient(cfg.RelayURL)
	if err := client.Connect(ctx); err != nil {
		return nil, call.WrapError("connect to relay", call.ErrSignaling, err)
	}

	handler := signaling.NewHandler(client)
	go handler.Start()

	return &ConnectionContext{
		Client:  client,
		Handler: handler,
		Config:  cfg,
	}, nil
}

func (c *ConnectionContext) Close() {
	if c.Handler != nil {
		c.Handler.Close()
	}
	if c.Client != nil {
		c.Client.Close()
	}
}

// Join seats this participant in roomID; an empty roomID asks the relay to
// open a new room (admin only).
func (c *ConnectionContext) Join(ctx context.Context, roomID string, role signaling.Role, token string) (*signaling.JoinPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	info, err := c.Handler.Join(ctx, roomID, role, token)
	if err != nil {
		return nil, call.WrapError("join room", call.ErrSignaling, err)
	}
	return info, nil
}

// Presence forwards the relay's peer_joined and peer_left notices until ctx
// ends or the relay connection closes.
func (c *ConnectionContext) Presence(ctx context.Context) <-chan ui.Presence {
	out := make(chan ui.Presence, 4)
	go func() {
		defer close(out)
		for {
			var p ui.Presence
			select {
			case <-c.Handler.PeerJoined:
				p.Joined = true
			case <-c.Handler.PeerLeft:
			case <-c.Handler.Done():
				return
			case <-ctx.Done():
				return
			}
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, call.NewError("load config", err)
	}
	return cfg, nil
}

// login exchanges the admin credential for a token at the relay.
func login(ctx context.Context, cfg *config.Config) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	body, err := json.Marshal(relay.LoginRequest{
		Username: cfg.AdminUsername,
		Password: cfg.AdminPassword,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.HTTPBaseURL()+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", call.NewError("login", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", call.WrapError("login", call.ErrSignaling, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		if failure.Error == "" {
			failure.Error = resp.Status
		}
		return "", call.WrapError("login", call.ErrSignaling, fmt.Errorf("relay refused login: %s", failure.Error))
	}

	var out relay.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", call.WrapError("login", call.ErrSignaling, err)
	}
	return out.Token, nil
}
