// Package contacts provides access to the Google contact directory and a
// store-backed local cache used as fallback when the directory is
// unreachable.
package contacts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/BTreeMap/AssistPipe/internal/googleapi"
	"github.com/BTreeMap/AssistPipe/internal/models"
)

const (
	baseURL = "https://people.googleapis.com/v1"

	// ScopeContacts grants read access to the user's contacts.
	ScopeContacts = "https://www.googleapis.com/auth/contacts.readonly"

	pageSize         = 1000
	personFields     = "names,emailAddresses,phoneNumbers,organizations"
	defaultMaxHits   = 10
	partialSlackRune = 5
)

// Directory is the contact lookup surface.
type Directory interface {
	ListContacts(ctx context.Context) ([]models.Contact, error)
	SearchContacts(ctx context.Context, query string, maxResults int) ([]models.Contact, error)
	GetContactByName(ctx context.Context, name string) (*models.Contact, error)
}

// Opts holds configuration options for the Google People directory.
type Opts struct {
	Client *googleapi.Client
}

// Option defines a configuration option for the Google People directory.
type Option func(*Opts)

// WithClient sets the authenticated Google API client.
func WithClient(client *googleapi.Client) Option {
	return func(o *Opts) { o.Client = client }
}

// GoogleDirectory implements Directory against the People API.
type GoogleDirectory struct {
	client *googleapi.Client
}

// NewGoogleDirectory creates a People-API-backed directory.
func NewGoogleDirectory(opts ...Option) (*GoogleDirectory, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("google API client must be provided")
	}
	return &GoogleDirectory{client: cfg.Client}, nil
}

// Wire types for the People API.
type personName struct {
	DisplayName string `json:"displayName"`
	GivenName   string `json:"givenName,omitempty"`
	FamilyName  string `json:"familyName,omitempty"`
	Metadata    struct {
		Primary bool `json:"primary,omitempty"`
	} `json:"metadata,omitempty"`
}

type personValue struct {
	Value    string `json:"value"`
	Metadata struct {
		Primary bool `json:"primary,omitempty"`
	} `json:"metadata,omitempty"`
}

type personOrg struct {
	Name string `json:"name"`
}

type person struct {
	ResourceName   string        `json:"resourceName"`
	Names          []personName  `json:"names,omitempty"`
	EmailAddresses []personValue `json:"emailAddresses,omitempty"`
	PhoneNumbers   []personValue `json:"phoneNumbers,omitempty"`
	Organizations  []personOrg   `json:"organizations,omitempty"`
}

// ListContacts fetches all connections of the account, following pagination.
func (d *GoogleDirectory) ListContacts(ctx context.Context) ([]models.Contact, error) {
	var contacts []models.Contact
	pageToken := ""
	for {
		query := url.Values{}
		query.Set("pageSize", fmt.Sprintf("%d", pageSize))
		query.Set("personFields", personFields)
		query.Set("sortOrder", "LAST_MODIFIED_DESCENDING")
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		endpoint := baseURL + "/people/me/connections?" + query.Encode()

		data, err := d.client.Request(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("list connections: %w", err)
		}
		var resp struct {
			Connections   []person `json:"connections"`
			NextPageToken string   `json:"nextPageToken"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("parse connections response: %w", err)
		}
		for i := range resp.Connections {
			if c, ok := convertPerson(&resp.Connections[i]); ok {
				contacts = append(contacts, c)
			}
		}
		if resp.NextPageToken == "" || len(resp.Connections) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}
	slog.Debug("Contacts ListContacts succeeded", "count", len(contacts))
	return contacts, nil
}

// SearchContacts fetches the directory and ranks matches against the query.
func (d *GoogleDirectory) SearchContacts(ctx context.Context, query string, maxResults int) ([]models.Contact, error) {
	contacts, err := d.ListContacts(ctx)
	if err != nil {
		return nil, err
	}
	if maxResults <= 0 {
		maxResults = defaultMaxHits
	}
	return MatchContacts(contacts, query, maxResults), nil
}

// GetContactByName returns the best directory match for a name, or nil.
func (d *GoogleDirectory) GetContactByName(ctx context.Context, name string) (*models.Contact, error) {
	matches, err := d.SearchContacts(ctx, name, 1)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

func convertPerson(p *person) (models.Contact, bool) {
	if len(p.Names) == 0 {
		return models.Contact{}, false
	}
	c := models.Contact{ResourceName: p.ResourceName}
	c.Name = p.Names[0].DisplayName
	for _, n := range p.Names {
		if n.Metadata.Primary && n.DisplayName != "" {
			c.Name = n.DisplayName
			break
		}
	}
	if c.Name == "" {
		return models.Contact{}, false
	}
	for _, e := range p.EmailAddresses {
		if e.Value != "" {
			c.Emails = append(c.Emails, e.Value)
		}
	}
	for _, ph := range p.PhoneNumbers {
		if ph.Value != "" {
			c.Phones = append(c.Phones, ph.Value)
		}
	}
	if len(p.Organizations) > 0 {
		c.Organization = p.Organizations[0].Name
	}
	return c, true
}

// MatchContacts ranks contacts against a query in two tiers: exact or
// containing matches first, then partial matches where a name variant is
// inside the query and the length gap is small.
func MatchContacts(contacts []models.Contact, query string, maxResults int) []models.Contact {
	queryLower := strings.ToLower(strings.TrimSpace(query))
	if queryLower == "" {
		return nil
	}

	var exact, partial []models.Contact
	for _, c := range contacts {
		variants := nameVariants(c.Name)
		switch {
		case anyEquals(variants, queryLower) || anyContains(variants, queryLower):
			exact = append(exact, c)
		case anyWithinQuery(variants, queryLower):
			partial = append(partial, c)
		}
	}

	matches := append(exact, partial...)
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	return matches
}

// nameVariants returns the lowercased full name plus its individual words,
// so "John" matches "John Smith".
func nameVariants(name string) []string {
	lower := strings.ToLower(name)
	variants := []string{lower}
	variants = append(variants, strings.Fields(lower)...)
	return variants
}

func anyEquals(variants []string, query string) bool {
	for _, v := range variants {
		if v == query {
			return true
		}
	}
	return false
}

func anyContains(variants []string, query string) bool {
	for _, v := range variants {
		if strings.Contains(v, query) {
			return true
		}
	}
	return false
}

func anyWithinQuery(variants []string, query string) bool {
	for _, v := range variants {
		if v != "" && strings.Contains(query, v) && len(query)-len(v) <= partialSlackRune {
			return true
		}
	}
	return false
}

// MockDirectory implements Directory over a fixed contact list (for tests).
type MockDirectory struct {
	Contacts []models.Contact
	Err      error
}

func NewMockDirectory(contacts ...models.Contact) *MockDirectory {
	return &MockDirectory{Contacts: contacts}
}

func (m *MockDirectory) ListContacts(ctx context.Context) ([]models.Contact, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Contacts, nil
}

func (m *MockDirectory) SearchContacts(ctx context.Context, query string, maxResults int) ([]models.Contact, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if maxResults <= 0 {
		maxResults = defaultMaxHits
	}
	return MatchContacts(m.Contacts, query, maxResults), nil
}

func (m *MockDirectory) GetContactByName(ctx context.Context, name string) (*models.Contact, error) {
	matches, err := m.SearchContacts(ctx, name, 1)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}
