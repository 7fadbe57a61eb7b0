package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const maxUserInfoBytes = 1 << 20

// ErrMissingSubject is returned when the provider omits the account id.
var ErrMissingSubject = errors.New("oauth: missing user id in user info")

// Identity is the normalized result of a successful exchange.
type Identity struct {
	ExternalID    string
	Email         string
	EmailVerified bool
	Username      string
	ProfileURL    string
	FirstName     string
	LastName      string
	AccessToken   string
	RefreshToken  string
	Expiry        time.Time
	Scopes        []string
}

// Exchanger runs the two halves of the authorization-code flow.
type Exchanger interface {
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*Identity, error)
}

// Credentials are the client registration values for one provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Provider implements [Exchanger] for a [Descriptor].
type Provider struct {
	desc   Descriptor
	config *oauth2.Config
	client *http.Client
}

// NewProvider validates the registration and returns a Provider. A nil
// client selects http.DefaultClient.
func NewProvider(desc Descriptor, creds Credentials, client *http.Client) (*Provider, error) {
	switch {
	case desc.Name == "":
		return nil, fmt.Errorf("oauth: descriptor name is required")
	case desc.AuthURL == "" || desc.TokenURL == "" || desc.UserInfoURL == "":
		return nil, fmt.Errorf("oauth %s: endpoints are required", desc.Name)
	case desc.Fields.ID == "":
		return nil, fmt.Errorf("oauth %s: id field mapping is required", desc.Name)
	case creds.ClientID == "" || creds.ClientSecret == "":
		return nil, fmt.Errorf("oauth %s: client credentials are required", desc.Name)
	case creds.RedirectURL == "":
		return nil, fmt.Errorf("oauth %s: redirect url is required", desc.Name)
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &Provider{
		desc: desc,
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  desc.AuthURL,
				TokenURL: desc.TokenURL,
			},
			RedirectURL: creds.RedirectURL,
			Scopes:      desc.Scopes,
		},
		client: client,
	}, nil
}

// Name returns the descriptor name.
func (p *Provider) Name() string { return p.desc.Name }

// AuthCodeURL returns the authorization redirect carrying state and the
// S256 challenge derived from verifier.
func (p *Provider) AuthCodeURL(state, verifier string) string {
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	for k, v := range p.desc.AuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return p.config.AuthCodeURL(state, opts...)
}

// Exchange trades code for tokens and resolves the account identity.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (*Identity, error) {
	if code == "" {
		return nil, fmt.Errorf("oauth %s: missing authorization code", p.desc.Name)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	token, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("oauth %s: exchange token: %w", p.desc.Name, err)
	}

	client := p.config.Client(ctx, token)

	var info map[string]any
	if err := p.getJSON(ctx, client, p.desc.UserInfoURL, &info); err != nil {
		return nil, err
	}

	id := p.mapIdentity(info)
	if id.ExternalID == "" {
		return nil, ErrMissingSubject
	}

	if p.desc.EmailsURL != "" {
		// A missing emails listing leaves the profile email unverified.
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := p.getJSON(ctx, client, p.desc.EmailsURL, &emails); err == nil {
			for _, e := range emails {
				if e.Primary && e.Verified {
					id.Email = strings.ToLower(strings.TrimSpace(e.Email))
					id.EmailVerified = true
					break
				}
			}
		}
	}

	id.AccessToken = token.AccessToken
	id.RefreshToken = token.RefreshToken
	id.Expiry = token.Expiry
	id.Scopes = p.grantedScopes(token)

	return id, nil
}

func (p *Provider) getJSON(ctx context.Context, client *http.Client, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("oauth %s: fetch %s: %w", p.desc.Name, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("oauth %s: %s returned status %d: %s", p.desc.Name, url, resp.StatusCode, string(body))
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("oauth %s: decode %s: %w", p.desc.Name, url, err)
	}
	return nil
}

func (p *Provider) mapIdentity(info map[string]any) *Identity {
	f := p.desc.Fields
	id := &Identity{
		ExternalID: stringValue(info, f.ID),
		Email:      strings.ToLower(strings.TrimSpace(stringValue(info, f.Email))),
		Username:   stringValue(info, f.Username),
		ProfileURL: stringValue(info, f.ProfileURL),
		FirstName:  stringValue(info, f.FirstName),
		LastName:   stringValue(info, f.LastName),
	}
	if f.EmailVerified != "" {
		id.EmailVerified = boolValue(info, f.EmailVerified)
	}

	if id.FirstName == "" && id.LastName == "" {
		if display := strings.TrimSpace(stringValue(info, f.DisplayName)); display != "" {
			first, last, _ := strings.Cut(display, " ")
			id.FirstName, id.LastName = first, strings.TrimSpace(last)
		}
	}
	if id.FirstName == "" {
		id.FirstName = id.Username
	}
	return id
}

func (p *Provider) grantedScopes(token *oauth2.Token) []string {
	raw, _ := token.Extra("scope").(string)
	if raw == "" {
		return append([]string(nil), p.desc.Scopes...)
	}
	sep := p.desc.ScopeSeparator
	if sep == "" {
		sep = " "
	}
	var scopes []string
	for _, s := range strings.Split(raw, sep) {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// stringValue normalizes scalar JSON values; numeric ids become decimal strings.
func stringValue(data map[string]any, key string) string {
	if key == "" {
		return ""
	}
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func boolValue(data map[string]any, key string) bool {
	switch v := data[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}
