package airtable

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

type metadataResponse struct {
	Tables []struct {
		ID     string  `json:"id"`
		Name   string  `json:"name"`
		Fields []Field `json:"fields"`
	} `json:"tables"`
}

// FetchMetadata reads the schema of every table in the base. The result is
// a snapshot owned by the caller; call again to refresh.
func (c *Client) FetchMetadata(ctx context.Context) (Metadata, error) {
	u := c.config.BaseURL + "/v0/meta/bases/" + url.PathEscape(c.config.BaseID) + "/tables"

	c.logger.Info("reading base metadata")
	resp, err := c.Request(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return nil, err
	}

	var payload metadataResponse
	if err := resp.Decode(&payload); err != nil {
		return nil, err
	}

	meta := make(Metadata, len(payload.Tables))
	for _, t := range payload.Tables {
		fields := make(FieldInfo, len(t.Fields))
		copy(fields, t.Fields)
		meta[t.Name] = fields
	}
	c.logger.Debug("base metadata read", zap.Int("tables", len(meta)))
	return meta, nil
}
