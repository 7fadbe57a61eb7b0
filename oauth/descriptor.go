package oauth

// FieldMap names the user-info document keys for each identity attribute.
// Empty entries are not mapped.
type FieldMap struct {
	ID            string
	Email         string
	EmailVerified string
	Username      string
	ProfileURL    string
	FirstName     string
	LastName      string
	DisplayName   string
}

// Descriptor describes one identity provider.
type Descriptor struct {
	Name        string
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	// EmailsURL, when set, lists the account's addresses; the primary
	// verified one wins over the profile email.
	EmailsURL string
	Scopes    []string
	Fields    FieldMap
	// ScopeSeparator splits the granted "scope" token response field.
	ScopeSeparator string
	// AuthParams are extra static authorization request parameters.
	AuthParams map[string]string
}

// GitHub returns the github.com preset.
func GitHub() Descriptor {
	return Descriptor{
		Name:        "github",
		AuthURL:     "https://github.com/login/oauth/authorize",
		TokenURL:    "https://github.com/login/oauth/access_token",
		UserInfoURL: "https://api.github.com/user",
		EmailsURL:   "https://api.github.com/user/emails",
		Scopes:      []string{"read:user", "user:email"},
		Fields: FieldMap{
			ID:          "id",
			Email:       "email",
			Username:    "login",
			ProfileURL:  "html_url",
			DisplayName: "name",
		},
		ScopeSeparator: ",",
	}
}

// Google returns the accounts.google.com preset.
func Google() Descriptor {
	return Descriptor{
		Name:        "google",
		AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:    "https://oauth2.googleapis.com/token",
		UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		Scopes:      []string{"openid", "email", "profile"},
		Fields: FieldMap{
			ID:            "sub",
			Email:         "email",
			EmailVerified: "email_verified",
			ProfileURL:    "picture",
			FirstName:     "given_name",
			LastName:      "family_name",
			DisplayName:   "name",
		},
		ScopeSeparator: " ",
		AuthParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
	}
}

// Preset returns the built-in descriptor for name.
func Preset(name string) (Descriptor, bool) {
	switch name {
	case "github":
		return GitHub(), true
	case "google":
		return Google(), true
	default:
		return Descriptor{}, false
	}
}
