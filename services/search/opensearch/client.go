// Package opensearch implements the Search Gateway and the catalog browser
// on top of an OpenSearch cluster with the k-NN plugin.
package opensearch

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/achouhan93/ClusterTalk/config"
	opensearchgo "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// NewClient creates an OpenSearch client from configuration.
func NewClient(cfg config.OpenSearchConfig) (*opensearchgo.Client, error) {
	if cfg.Node == "" {
		return nil, fmt.Errorf("opensearch node address is required")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed dev clusters
	}

	client, err := opensearchgo.NewClient(opensearchgo.Config{
		Addresses: strings.Split(cfg.Node, ","),
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return client, nil
}

// Ping checks that the cluster answers.
func Ping(ctx context.Context, client *opensearchgo.Client) error {
	res, err := opensearchapi.PingRequest{}.Do(ctx, client)
	if err != nil {
		return fmt.Errorf("opensearch ping failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("opensearch ping failed: status %d", res.StatusCode)
	}
	return nil
}

// searchResponse is the subset of the _search response we read.
type searchResponse struct {
	Hits struct {
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
}

type searchHit struct {
	ID     string                 `json:"_id"`
	Score  *float64               `json:"_score"`
	Source map[string]interface{} `json:"_source"`
}

// doSearch runs body against index and decodes the hits. The returned status
// is 0 when the request never reached the cluster.
func doSearch(ctx context.Context, client *opensearchgo.Client, index string, body []byte) ([]searchHit, int, error) {
	res, err := opensearchapi.SearchRequest{
		Index: []string{index},
		Body:  strings.NewReader(string(body)),
	}.Do(ctx, client)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	if res.IsError() {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, res.StatusCode, fmt.Errorf("search on %s failed with status %d: %s", index, res.StatusCode, strings.TrimSpace(string(detail)))
	}

	var decoded searchResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return nil, res.StatusCode, fmt.Errorf("failed to decode search response: %w", err)
	}
	return decoded.Hits.Hits, res.StatusCode, nil
}
