package models

// Harvesting channel message types exchanged with the browser extension
const (
	ExtensionGetCookies    = "GET_COOKIES"
	ExtensionVerifySession = "VERIFY_SESSION"
	ExtensionSaveCookies   = "SAVE_COOKIES"
)

// ExtensionRequest is one message on the credential harvesting channel.
// Cookies carries the wire-shaped credential fields for VERIFY_SESSION and SAVE_COOKIES.
type ExtensionRequest struct {
	Type        string          `json:"type"`
	WorkspaceID string          `json:"workspaceId,omitempty"`
	AccountKey  string          `json:"accountKey,omitempty"`
	Cookies     *CredentialWire `json:"cookies,omitempty"`
}

// ExtensionResponse answers an ExtensionRequest
type ExtensionResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	AccountID string `json:"accountId,omitempty"`
	Username  string `json:"username,omitempty"`
	Stored    bool   `json:"stored,omitempty"`
}
