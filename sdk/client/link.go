package client

import (
	"fmt"
	"net/url"
	"strings"
)

// Link is a shareable read URL. Key travels in the fragment, which browsers
// and HTTP clients never send to the server.
type Link struct {
	BaseURL string
	ID      string
	Token   string
	Key     string
}

// String renders <base>/msg/<id>?token=<token>#<key>.
func (l Link) String() string {
	u := strings.TrimRight(l.BaseURL, "/") + "/msg/" + url.PathEscape(l.ID) + "?token=" + url.QueryEscape(l.Token)
	if l.Key != "" {
		u += "#" + l.Key
	}
	return u
}

// ParseLink splits a read URL back into its parts.
func ParseLink(raw string) (Link, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Link{}, fmt.Errorf("parse link: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Link{}, fmt.Errorf("link must be absolute")
	}
	prefix, id, ok := cutLast(u.Path, "/msg/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return Link{}, fmt.Errorf("link has no message id")
	}
	token := u.Query().Get("token")
	if token == "" {
		return Link{}, fmt.Errorf("link has no token")
	}
	base := url.URL{Scheme: u.Scheme, Host: u.Host, Path: prefix}
	return Link{BaseURL: base.String(), ID: id, Token: token, Key: u.Fragment}, nil
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}
