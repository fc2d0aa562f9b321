package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/google/uuid"

	"github.com/nstepanenko/webstore/internal/models"
)

// Client wraps the product search index. A nil Client turns indexing into a
// no-op and search into ErrUnavailable, so the catalog works without ES.
type Client struct {
	es    *elasticsearch.Client
	index string
}

var ErrUnavailable = fmt.Errorf("search is not configured")

func New(url, user, password, index string) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{url},
		Username:  user,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("search: new client: %w", err)
	}

	res, err := es.Info()
	if err != nil {
		return nil, fmt.Errorf("search: info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search: info: %s: %s", res.Status(), body)
	}

	return &Client{es: es, index: index}, nil
}

func (c *Client) IndexProduct(ctx context.Context, p *models.Product) error {
	if c == nil {
		return nil
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}

	res, err := c.es.Index(
		c.index,
		bytes.NewReader(payload),
		c.es.Index.WithDocumentID(p.ID.String()),
		c.es.Index.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("search: index product: %s", res.Status())
	}
	return nil
}

func (c *Client) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	if c == nil {
		return nil
	}

	res, err := c.es.Delete(c.index, id.String(), c.es.Delete.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("search: delete product: %s", res.Status())
	}
	return nil
}

func (c *Client) Search(ctx context.Context, query string, from, size int) (int64, []models.Product, error) {
	if c == nil {
		return 0, nil, ErrUnavailable
	}

	body := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":     query,
				"fields":    []string{"name^2", "description"},
				"fuzziness": "AUTO",
			},
		},
		"from": from,
		"size": size,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, nil, err
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(&buf),
	)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return 0, nil, fmt.Errorf("search: %s: %s", res.Status(), strings.TrimSpace(string(raw)))
	}

	var r struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source models.Product `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return 0, nil, err
	}

	prods := make([]models.Product, len(r.Hits.Hits))
	for i, hit := range r.Hits.Hits {
		prods[i] = hit.Source
	}
	return r.Hits.Total.Value, prods, nil
}
