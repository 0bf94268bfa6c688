package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hidrolabs/aquarelay/internal/common/config"
	"github.com/hidrolabs/aquarelay/internal/common/errorx"
	ai "github.com/hidrolabs/aquarelay/pkg/openai"

	"go.uber.org/zap"
)

// RegisterDomainTools wires the water-utility lookups against the configured
// backend. A registry without a backend URL stays empty, which disables the
// tool loop entirely.
func RegisterDomainTools(registry *ToolRegistry, logger *zap.Logger, cfg *config.ToolsConfig) error {
	if cfg.BackendURL == "" {
		return nil
	}

	client := &http.Client{Timeout: cfg.Timeout}
	backend := &toolBackend{
		logger:  logger.Named("relay.tools.backend"),
		client:  client,
		baseURL: cfg.BackendURL,
	}

	if err := registry.Register(ai.ToolDefinition{
		Name:        "lookup_account_balance",
		Description: "Consulta el saldo y los recibos pendientes de una cuenta de agua",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"account": map[string]any{
					"type":        "string",
					"description": "Número de cuenta o contrato del usuario",
				},
			},
			"required": []string{"account"},
		},
	}, backend.lookupAccountBalance); err != nil {
		return err
	}

	return registry.Register(ai.ToolDefinition{
		Name:        "report_outage_status",
		Description: "Consulta cortes de servicio activos en una colonia o sector",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"zone": map[string]any{
					"type":        "string",
					"description": "Colonia o sector a consultar",
				},
			},
			"required": []string{"zone"},
		},
	}, backend.reportOutageStatus)
}

type toolBackend struct {
	logger  *zap.Logger
	client  *http.Client
	baseURL string
}

func (b *toolBackend) lookupAccountBalance(ctx context.Context, args string) (string, error) {
	var params struct {
		Account string `json:"account"`
	}
	if err := json.Unmarshal([]byte(args), &params); err != nil {
		return "", fmt.Errorf("malformed arguments: %w", err)
	}
	if params.Account == "" {
		return "", fmt.Errorf("account is required")
	}
	return b.get(ctx, "/api/accounts/"+url.PathEscape(params.Account)+"/balance")
}

func (b *toolBackend) reportOutageStatus(ctx context.Context, args string) (string, error) {
	var params struct {
		Zone string `json:"zone"`
	}
	if err := json.Unmarshal([]byte(args), &params); err != nil {
		return "", fmt.Errorf("malformed arguments: %w", err)
	}
	if params.Zone == "" {
		return "", fmt.Errorf("zone is required")
	}
	return b.get(ctx, "/api/outages?zone="+url.QueryEscape(params.Zone))
}

func (b *toolBackend) get(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return "", err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", errorx.NewUpstreamError("utility-backend", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errorx.NewUpstreamError("utility-backend", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errorx.NewUpstreamError("utility-backend", resp.StatusCode,
			fmt.Errorf("%s", body))
	}
	return string(body), nil
}
