package shardclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dreamware/vectorshard/internal/vderr"
	"github.com/dreamware/vectorshard/internal/wire"
)

// httpClient is shared across every shard client: connection pooling
// across many short RPCs matters far more here than per-call tuning.
var httpClient = &http.Client{Timeout: 10 * time.Second}

func postJSON(ctx context.Context, url string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return vderr.Wrap("shardclient.postJSON", vderr.Internal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return vderr.Wrap("shardclient.postJSON", vderr.Internal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return classifyTransportErr(ctx, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return vderr.Wrap("shardclient.postJSON", vderr.Protocol, err)
	}
	return nil
}

func getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return vderr.Wrap("shardclient.getJSON", vderr.Internal, err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return classifyTransportErr(ctx, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return vderr.Wrap("shardclient.getJSON", vderr.Protocol, err)
	}
	return nil
}

// postSearch issues a search-shaped POST and decodes the response as the
// binary wire format, negotiated via Accept. Storage nodes that don't
// support it fall back to JSON, which postSearch also decodes.
func postSearch(ctx context.Context, url string, body any) ([]wire.Result, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, vderr.Wrap("shardclient.postSearch", vderr.Internal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, vderr.Wrap("shardclient.postSearch", vderr.Internal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", wire.ContentType)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportErr(ctx, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	if resp.Header.Get("Content-Type") == wire.ContentType {
		results, err := wire.DecodeResults(resp.Body)
		if err != nil {
			return nil, vderr.Wrap("shardclient.postSearch", vderr.Protocol, err)
		}
		return results, nil
	}

	var decoded []wire.Result
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, vderr.Wrap("shardclient.postSearch", vderr.Protocol, err)
	}
	return decoded, nil
}

func classifyTransportErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return vderr.Wrap("shardclient", vderr.Timeout, ctx.Err())
	}
	return vderr.Wrap("shardclient", vderr.Unavailable, err)
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusNotFound:
		return vderr.New("shardclient", vderr.NotFound)
	case status == http.StatusConflict:
		return vderr.New("shardclient", vderr.Conflict)
	case status == http.StatusUnprocessableEntity:
		return vderr.New("shardclient", vderr.DimensionMismatch)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return vderr.New("shardclient", vderr.Timeout)
	case status >= 500:
		return vderr.New("shardclient", vderr.Unavailable)
	case status >= 300:
		return vderr.Wrap("shardclient", vderr.Protocol, fmt.Errorf("unexpected status %d", status))
	default:
		return nil
	}
}
