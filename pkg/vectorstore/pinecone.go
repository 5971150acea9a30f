package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ekaya-inc/evidence-engine/pkg/config"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
	"github.com/ekaya-inc/evidence-engine/pkg/retry"
)

const (
	pineconeAPIVersion = "2024-07"
	// Pinecone caps metadata at 40KB per vector; the catalog keeps the full text.
	pineconeMaxText = 16 << 10
)

// PineconeStore talks to a Pinecone index over its REST data plane.
type PineconeStore struct {
	apiKey        string
	indexName     string
	projectID     string
	region        string
	controllerURL string
	client        *http.Client
	retry         *retry.Config

	hostMu sync.Mutex
	host   string
}

var _ Store = (*PineconeStore)(nil)

// NewPineconeStore creates a store from configuration. The index host is
// resolved lazily on first use.
func NewPineconeStore(cfg config.VectorStoreConfig) (*PineconeStore, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("pinecone api key is required")
	}
	if cfg.IndexName == "" {
		return nil, errors.New("pinecone index name is required")
	}
	host := cfg.Host
	if host != "" && !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return &PineconeStore{
		apiKey:        cfg.APIKey,
		indexName:     cfg.IndexName,
		projectID:     cfg.ProjectID,
		region:        cfg.Region,
		controllerURL: strings.TrimSuffix(cfg.ControllerURL, "/"),
		host:          strings.TrimSuffix(host, "/"),
		client:        &http.Client{Timeout: 30 * time.Second},
		retry:         retry.UpstreamConfig(),
	}, nil
}

func (s *PineconeStore) Name() string { return BackendPinecone }

// resolveHost returns the data-plane URL: the configured host, the legacy
// project/region address, or the host reported by the control plane.
func (s *PineconeStore) resolveHost(ctx context.Context) (string, error) {
	s.hostMu.Lock()
	defer s.hostMu.Unlock()

	if s.host != "" {
		return s.host, nil
	}
	if s.projectID != "" && s.region != "" {
		s.host = fmt.Sprintf("https://%s-%s.svc.%s.pinecone.io", s.indexName, s.projectID, s.region)
		return s.host, nil
	}

	var desc struct {
		Host string `json:"host"`
	}
	if err := s.do(ctx, http.MethodGet, s.controllerURL+"/indexes/"+s.indexName, nil, &desc); err != nil {
		return "", fmt.Errorf("describe index %s: %w", s.indexName, err)
	}
	if desc.Host == "" {
		return "", fmt.Errorf("describe index %s: no host in response", s.indexName)
	}
	host := desc.Host
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	s.host = strings.TrimSuffix(host, "/")
	return s.host, nil
}

type pineconeVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *PineconeStore) Upsert(ctx context.Context, ns models.Namespace, entry *models.VectorEntry) (string, error) {
	host, err := s.resolveHost(ctx)
	if err != nil {
		return "", err
	}
	id := entry.ID
	if id == "" {
		id = EntryID(entry.FileID)
	}

	md := pineconeMetadata(entry)
	body := map[string]any{
		"namespace": string(ns),
		"vectors":   []pineconeVector{{ID: id, Values: entry.Embedding, Metadata: md}},
	}
	if err := s.do(ctx, http.MethodPost, host+"/vectors/upsert", body, nil); err != nil {
		return "", fmt.Errorf("pinecone upsert: %w", err)
	}
	return id, nil
}

func (s *PineconeStore) Query(ctx context.Context, ns models.Namespace, vector []float32, topK int, filter models.VectorFilter) ([]models.VectorMatch, error) {
	host, err := s.resolveHost(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"namespace":       string(ns),
		"vector":          vector,
		"topK":            topK,
		"includeMetadata": true,
	}
	// Only exact category matches are expressible in Pinecone's filter
	// language; location and tag substrings are applied after the query.
	if filter.Category != "" {
		body["filter"] = map[string]any{
			models.VectorMetaCategory: map[string]any{"$eq": filter.Category},
		}
	}

	var resp struct {
		Matches []struct {
			ID       string         `json:"id"`
			Score    float64        `json:"score"`
			Metadata map[string]any `json:"metadata"`
		} `json:"matches"`
	}
	if err := s.do(ctx, http.MethodPost, host+"/query", body, &resp); err != nil {
		return nil, fmt.Errorf("pinecone query: %w", err)
	}

	matches := make([]models.VectorMatch, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if !matchesFilter(m.Metadata, filter) {
			continue
		}
		fileID, err := uuid.Parse(metaString(m.Metadata, models.VectorMetaFileID))
		if err != nil {
			continue
		}
		matches = append(matches, models.VectorMatch{
			ID:        m.ID,
			FileID:    fileID,
			Namespace: ns,
			Score:     unitScore(m.Score),
			Text:      metaString(m.Metadata, "text"),
			Metadata:  m.Metadata,
		})
	}
	return matches, nil
}

func (s *PineconeStore) Delete(ctx context.Context, ns models.Namespace, fileID uuid.UUID) error {
	host, err := s.resolveHost(ctx)
	if err != nil {
		return err
	}
	body := map[string]any{
		"namespace": string(ns),
		"ids":       []string{EntryID(fileID)},
	}
	err = s.do(ctx, http.MethodPost, host+"/vectors/delete", body, nil)
	var statusErr *pineconeStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		// Namespace never written to.
		return nil
	}
	if err != nil {
		return fmt.Errorf("pinecone delete: %w", err)
	}
	return nil
}

// pineconeMetadata keeps only the value types Pinecone accepts.
func pineconeMetadata(entry *models.VectorEntry) map[string]any {
	md := make(map[string]any)
	for k, v := range entryMetadata(entry) {
		switch val := v.(type) {
		case string, bool, float64, float32, int, int64:
			md[k] = val
		case []string:
			if len(val) > 0 {
				md[k] = val
			}
		}
	}
	md["text"] = truncateUTF8(entry.Text, pineconeMaxText)
	return md
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

type pineconeStatusError struct {
	StatusCode int
	Body       string
}

func (e *pineconeStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// IsRetryable marks throttling and server-side failures as transient.
func (e *pineconeStatusError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// do sends one JSON request, retrying transient failures within ctx.
func (s *PineconeStore) do(ctx context.Context, method, url string, body any, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = data
	}
	return retry.DoIfRetryable(ctx, s.retry, func() error {
		return s.send(ctx, method, url, payload, out)
	})
}

func (s *PineconeStore) send(ctx context.Context, method, url string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Api-Key", s.apiKey)
	req.Header.Set("X-Pinecone-API-Version", pineconeAPIVersion)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &pineconeStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
