package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Ntfy 推送到 ntfy 主题
type Ntfy struct {
	server string
	topic  string
	token  string
	client *http.Client
	log    *slog.Logger
}

func NewNtfy(server, topic, token string, logger *slog.Logger) *Ntfy {
	return &Ntfy{
		server: strings.TrimRight(server, "/"),
		topic:  topic,
		token:  token,
		client: defaultClient,
		log:    logger,
	}
}

func (n *Ntfy) Name() string { return "ntfy" }

func (n *Ntfy) Send(ctx context.Context, text string, _ Mode) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.server+"/"+n.topic, strings.NewReader(text))
	if err != nil {
		return false
	}
	req.Header.Set("Title", "RSSDigest")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("ntfy send failed", "err", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		n.log.Warn("ntfy send rejected", "status", resp.StatusCode)
		return false
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.ID == "" {
		return false
	}
	return true
}
