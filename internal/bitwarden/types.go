package bitwarden

// itemTypeLogin is the Bitwarden item type carrying username/password
// material. Other types (secure note, card, identity) are not linkable.
const itemTypeLogin = 1

// TokenGrant is the provider's response to a client-credentials exchange.
type TokenGrant struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// Item is a vault item as returned by the provider API. Only login-type
// items are surfaced to callers of ListItems.
type Item struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Type     int        `json:"type"`
	FolderID *string    `json:"folderId,omitempty"`
	Notes    *string    `json:"notes,omitempty"`
	Login    *ItemLogin `json:"login,omitempty"`
}

// ItemLogin carries the secret half of a login item. Password is only
// populated on single-item fetches used by the reveal path.
type ItemLogin struct {
	Username *string    `json:"username,omitempty"`
	Password *string    `json:"password,omitempty"`
	URIs     []LoginURI `json:"uris,omitempty"`
}

// LoginURI is one of the websites associated with a login item.
type LoginURI struct {
	URI string `json:"uri"`
}

// Username returns the login username, or nil for non-login items.
func (i *Item) Username() *string {
	if i.Login == nil {
		return nil
	}
	return i.Login.Username
}

// Password returns the login password, or nil when absent.
func (i *Item) Password() *string {
	if i.Login == nil {
		return nil
	}
	return i.Login.Password
}

// PrimaryURI returns the first associated URI, or nil when the item has none.
func (i *Item) PrimaryURI() *string {
	if i.Login == nil || len(i.Login.URIs) == 0 {
		return nil
	}
	return &i.Login.URIs[0].URI
}
