package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cwrk-planet/meet-service/internal/domain"
)

// HTTP calls a JSON translation endpoint:
//
//	POST {endpoint}  {"text": "...", "source": "en", "target": "hi"}
//	200              {"text": "..."}
type HTTP struct {
	endpoint string
	apiKey   string
	source   domain.Language
	client   *http.Client
}

type httpRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type httpResponse struct {
	Text string `json:"text"`
}

func NewHTTP(endpoint, apiKey string, source domain.Language, client *http.Client) (*HTTP, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("translate: endpoint is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if source == "" {
		source = domain.LangEnglish
	}
	return &HTTP{endpoint: endpoint, apiKey: apiKey, source: source, client: client}, nil
}

func (t *HTTP) Translate(ctx context.Context, text string, target domain.Language) (string, error) {
	if target == t.source {
		return text, nil
	}

	body, err := json.Marshal(httpRequest{Text: text, Source: string(t.source), Target: string(target)})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate %s: %w: %v", target, domain.ErrTranslationUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("translate %s: %w: status %d", target, domain.ErrTranslationUnavailable, resp.StatusCode)
	}

	var out httpResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("translate %s: %w: %v", target, domain.ErrTranslationUnavailable, err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", fmt.Errorf("translate %s: %w: empty text", target, domain.ErrTranslationUnavailable)
	}
	return out.Text, nil
}
