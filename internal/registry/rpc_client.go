package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RPCClient talks to the item registry over its JSON-RPC HTTP endpoint,
// signing calls as the market's own holding account.
type RPCClient struct {
	httpURL       string
	marketAccount string
	httpClient    *http.Client
}

func NewRPCClient(httpURL, marketAccount string) (*RPCClient, error) {
	if strings.TrimSpace(httpURL) == "" {
		return nil, fmt.Errorf("missing REGISTRY_HTTP_RPC")
	}
	if strings.TrimSpace(marketAccount) == "" {
		return nil, fmt.Errorf("missing MARKET_ACCOUNT_ID")
	}
	return &RPCClient{
		httpURL:       strings.TrimSpace(httpURL),
		marketAccount: strings.TrimSpace(marketAccount),
		httpClient:    &http.Client{Timeout: 20 * time.Second},
	}, nil
}

func (c *RPCClient) TransferItem(ctx context.Context, req TransferRequest) (string, error) {
	if strings.TrimSpace(req.ItemID) == "" || strings.TrimSpace(req.Receiver) == "" {
		return "", fmt.Errorf("invalid transfer args")
	}

	var receiptID string
	err := c.rpc(ctx, "nft_transfer", map[string]any{
		"sender_id":   c.marketAccount,
		"receiver_id": req.Receiver,
		"token_id":    req.ItemID,
		"approval_id": req.ApprovalToken,
		"memo":        req.Memo,
	}, &receiptID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(receiptID) == "" {
		return "", fmt.Errorf("empty receipt id response")
	}
	return receiptID, nil
}

func (c *RPCClient) ItemMetadata(ctx context.Context, itemID string) (*ItemMetadata, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, fmt.Errorf("missing item id")
	}
	meta := &ItemMetadata{}
	if err := c.rpc(ctx, "nft_token", map[string]any{"token_id": itemID}, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (c *RPCClient) rpc(ctx context.Context, method string, params map[string]any, out any) error {
	reqBody, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpURL, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var payload struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}
	if payload.Error != nil {
		return fmt.Errorf("rpc error %d: %s", payload.Error.Code, payload.Error.Message)
	}
	if len(payload.Result) == 0 {
		return fmt.Errorf("rpc empty result")
	}
	return json.Unmarshal(payload.Result, out)
}
