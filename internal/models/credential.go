package models

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Credential format versions. Version 1 is the single-key cookie record written by the
// browser extension; version 2 is the structured record stored under both lookup keys.
const (
	CredentialFormatLegacy  = 1
	CredentialFormatCurrent = 2
)

// Platform cookie names carried by a credential set
const (
	CookieSessionID = "sessionid"
	CookieCSRFToken = "csrftoken"
	CookieDSUserID  = "ds_user_id"
	CookieIGDID     = "ig_did"
	CookieMID       = "mid"
	CookieRUR       = "rur"
)

var credentialValidate = validator.New()

// CredentialSet is the bundle of platform-issued tokens authenticating as one account.
// Records are superseded on re-harvest, never edited field by field.
type CredentialSet struct {
	AccountID string `json:"accountId"`

	SessionID string `json:"sessionId" validate:"required"`
	CSRFToken string `json:"csrfToken" validate:"required"`
	DSUserID  string `json:"dsUserId" validate:"required"`
	IGDID     string `json:"igDid,omitempty"`
	MID       string `json:"mid,omitempty"`
	RUR       string `json:"rur,omitempty"`

	FormatVersion   int       `json:"formatVersion"`
	CapturedAt      time.Time `json:"capturedAt"`
	LastValidatedAt time.Time `json:"lastValidatedAt,omitempty"`

	Valid              bool      `json:"valid"`
	InvalidatedAt      time.Time `json:"invalidatedAt,omitempty"`
	InvalidationReason string    `json:"invalidationReason,omitempty"`
}

// Validate checks the mandatory token fields. Whitespace-only values count as empty.
func (c *CredentialSet) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: credential set is nil", ErrInvalidCredentialSet)
	}

	trimmed := *c
	trimmed.SessionID = strings.TrimSpace(c.SessionID)
	trimmed.CSRFToken = strings.TrimSpace(c.CSRFToken)
	trimmed.DSUserID = strings.TrimSpace(c.DSUserID)

	if err := credentialValidate.Struct(&trimmed); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return fmt.Errorf("%w: missing %s", ErrInvalidCredentialSet, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidCredentialSet, err)
	}
	return nil
}

// Usable reports whether the set passed validation and has not been invalidated
func (c *CredentialSet) Usable() bool {
	return c != nil && c.Valid && c.Validate() == nil
}

// Cookies renders the token fields as HTTP cookies for a platform request.
// Optional tokens are omitted when empty.
func (c *CredentialSet) Cookies() []*http.Cookie {
	pairs := []struct{ name, value string }{
		{CookieSessionID, c.SessionID},
		{CookieCSRFToken, c.CSRFToken},
		{CookieDSUserID, c.DSUserID},
		{CookieIGDID, c.IGDID},
		{CookieMID, c.MID},
		{CookieRUR, c.RUR},
	}

	cookies := make([]*http.Cookie, 0, len(pairs))
	for _, p := range pairs {
		if p.value == "" {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: p.name, Value: p.value})
	}
	return cookies
}

// CredentialWire is the ingestion shape shared by the HTTP surface and the extension channel
type CredentialWire struct {
	SessionID string `json:"sessionId"`
	CSRFToken string `json:"csrfToken"`
	DSUserID  string `json:"dsUserId"`
	IGDID     string `json:"igDid,omitempty"`
	MID       string `json:"mid,omitempty"`
	RUR       string `json:"rur,omitempty"`
}

// ToCredentialSet converts the wire shape into a validated credential set for accountID.
// When accountID is empty the platform user id is used.
func (w CredentialWire) ToCredentialSet(accountID string, capturedAt time.Time) (*CredentialSet, error) {
	set := &CredentialSet{
		SessionID:     strings.TrimSpace(w.SessionID),
		CSRFToken:     strings.TrimSpace(w.CSRFToken),
		DSUserID:      strings.TrimSpace(w.DSUserID),
		IGDID:         w.IGDID,
		MID:           w.MID,
		RUR:           w.RUR,
		FormatVersion: CredentialFormatCurrent,
		CapturedAt:    capturedAt,
		Valid:         true,
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}

	set.AccountID = accountID
	if set.AccountID == "" {
		set.AccountID = set.DSUserID
	}
	return set, nil
}

// LegacyCredentialRecord is the single-key cookie map written before the dual-key format.
// Keys are raw platform cookie names.
type LegacyCredentialRecord map[string]string

// ToWire maps the legacy cookie names onto the wire shape
func (r LegacyCredentialRecord) ToWire() CredentialWire {
	return CredentialWire{
		SessionID: r[CookieSessionID],
		CSRFToken: r[CookieCSRFToken],
		DSUserID:  r[CookieDSUserID],
		IGDID:     r[CookieIGDID],
		MID:       r[CookieMID],
		RUR:       r[CookieRUR],
	}
}

// LegacyRecordFromSet renders a credential set in the legacy cookie map format
func LegacyRecordFromSet(c *CredentialSet) LegacyCredentialRecord {
	record := LegacyCredentialRecord{}
	for _, cookie := range c.Cookies() {
		record[cookie.Name] = cookie.Value
	}
	return record
}

// BrowserCookie is a cookie as reported by the browser agent or the automation driver
type BrowserCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
}

// WireFromCookies picks the platform token cookies out of a browser cookie jar.
// Later duplicates win, matching the browser's most-specific-path ordering.
func WireFromCookies(cookies []BrowserCookie) CredentialWire {
	record := LegacyCredentialRecord{}
	for _, c := range cookies {
		if c.Value == "" {
			continue
		}
		record[c.Name] = c.Value
	}
	return record.ToWire()
}

// MigrationReport summarises one migrate() pass over legacy credential records
type MigrationReport struct {
	Scanned        int      `json:"scanned"`
	Migrated       int      `json:"migrated"`
	AlreadyCurrent int      `json:"alreadyCurrent"`
	Retired        int      `json:"retired"`
	Skipped        int      `json:"skipped"`
	Failed         []string `json:"failed,omitempty"`
}

// CredentialSetFromLegacy lifts a legacy record into the current shape without validating it
func CredentialSetFromLegacy(accountID string, record LegacyCredentialRecord) *CredentialSet {
	wire := record.ToWire()
	return &CredentialSet{
		AccountID:     accountID,
		SessionID:     wire.SessionID,
		CSRFToken:     wire.CSRFToken,
		DSUserID:      wire.DSUserID,
		IGDID:         wire.IGDID,
		MID:           wire.MID,
		RUR:           wire.RUR,
		FormatVersion: CredentialFormatLegacy,
		Valid:         true,
	}
}
