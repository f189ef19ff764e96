// Package bitwarden implements the HTTP client for the Bitwarden credential
// provider: OAuth2 client-credentials token exchange against the identity
// endpoint and vault item retrieval against the API endpoint. The endpoints
// are fixed service constants, not configuration; tests construct clients
// against httptest servers through newClientWithEndpoints.
package bitwarden

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	identityTokenURL = "https://identity.bitwarden.com/connect/token"
	vaultAPIBaseURL  = "https://api.bitwarden.com"

	// requestTimeout bounds every provider call. A timed-out call classifies
	// as ErrProviderUnavailable.
	requestTimeout = 15 * time.Second
)

const (
	// ScopeAPI is the scope for personal API keys.
	ScopeAPI = "api"

	// ScopeOrganizationAPI is the scope for organization API keys, whose
	// client IDs carry the "organization." prefix.
	ScopeOrganizationAPI = "api.organization"

	organizationClientIDPrefix = "organization."
)

// ScopeForClientID selects the OAuth scope from the shape of the client ID:
// organization keys are prefixed "organization." and require the
// organization scope, everything else uses the personal scope.
func ScopeForClientID(clientID string) string {
	if strings.HasPrefix(clientID, organizationClientIDPrefix) {
		return ScopeOrganizationAPI
	}
	return ScopeAPI
}

// Client talks to the Bitwarden identity and vault endpoints.
type Client struct {
	httpClient *http.Client
	tokenURL   string
	apiBaseURL string
}

// NewClient returns a Client against the production Bitwarden endpoints.
func NewClient() *Client {
	return newClientWithEndpoints(identityTokenURL, vaultAPIBaseURL)
}

func newClientWithEndpoints(tokenURL, apiBaseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		tokenURL:   tokenURL,
		apiBaseURL: apiBaseURL,
	}
}

// ExchangeClientCredentials performs the client_credentials grant and returns
// the issued access token. Any non-200 from the identity endpoint surfaces as
// ErrInvalidCredentials carrying the raw provider response for server-side
// logging; only transport failures surface as ErrProviderUnavailable.
func (c *Client) ExchangeClientCredentials(ctx context.Context, clientID, clientSecret, scope string) (*TokenGrant, error) {
	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", clientID)
	data.Set("client_secret", clientSecret)
	data.Set("scope", scope)

	req, err := http.NewRequestWithContext(ctx, "POST", c.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("bitwarden: create token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapTransport("token exchange failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, wrapRejected(resp.StatusCode, fmt.Sprintf("token exchange rejected: %s", strings.TrimSpace(string(body))))
	}

	var grant TokenGrant
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return nil, fmt.Errorf("bitwarden: decode token response: %w", err)
	}
	if grant.AccessToken == "" {
		return nil, wrapStatus(resp.StatusCode, "token response missing access_token")
	}

	return &grant, nil
}

// ListItems fetches the caller's vault items and returns only login-type
// entries. Passwords are not requested on the list path.
func (c *Client) ListItems(ctx context.Context, accessToken string) ([]Item, error) {
	endpoint := c.apiBaseURL + "/list/object/items"

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("bitwarden: create list-items request: %w", err)
	}
	c.setAuthHeaders(req, accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapTransport("failed to list vault items", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, wrapStatus(resp.StatusCode, "failed to list vault items")
	}

	var result struct {
		Data struct {
			Data []Item `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("bitwarden: decode item list: %w", err)
	}

	items := make([]Item, 0, len(result.Data.Data))
	for _, item := range result.Data.Data {
		if item.Type != itemTypeLogin {
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

// GetItem fetches a single vault item with its secret fields populated.
func (c *Client) GetItem(ctx context.Context, accessToken, itemID string) (*Item, error) {
	endpoint := fmt.Sprintf("%s/object/item/%s", c.apiBaseURL, url.PathEscape(itemID))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("bitwarden: create get-item request: %w", err)
	}
	c.setAuthHeaders(req, accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapTransport("failed to fetch vault item", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, wrapStatus(resp.StatusCode, "failed to fetch vault item")
	}

	var result struct {
		Data Item `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("bitwarden: decode item: %w", err)
	}

	return &result.Data, nil
}

func (c *Client) setAuthHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
}
