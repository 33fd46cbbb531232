package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/cloudreve/davserver/pkg/conf"
	"github.com/cloudreve/davserver/pkg/util"
	"github.com/samber/lo"
)

var ErrInvalidCredential = errors.New("auth: invalid user name or password")

// Provider resolves callers into principals.
type Provider interface {
	// Authenticate checks the given credential pair.
	Authenticate(user, password string) (*Principal, error)
	// DisplayName returns a human readable name of the given user, or the name itself.
	DisplayName(name string) string
}

type iniProvider struct {
	users   map[string]string
	roots   map[string]string
	trusted map[string]bool
}

// NewIniProvider builds a provider from the [Users] and [UserRoots] config sections.
func NewIniProvider(config conf.ConfigProvider) Provider {
	return &iniProvider{
		users: config.Users(),
		roots: config.UserRoots(),
		trusted: lo.Associate(config.Dav().TrustedUsers, func(name string) (string, bool) {
			return strings.TrimSpace(name), true
		}),
	}
}

func (p *iniProvider) Authenticate(user, password string) (*Principal, error) {
	expected, ok := p.users[user]
	if !ok {
		return nil, ErrInvalidCredential
	}

	if subtle.ConstantTimeCompare([]byte(expected), []byte(password)) != 1 {
		return nil, ErrInvalidCredential
	}

	root := "/"
	if r, ok := p.roots[user]; ok {
		root = util.SlashClean(r)
	}

	return &Principal{
		Name:        user,
		DisplayName: p.DisplayName(user),
		Trusted:     p.trusted[user],
		Root:        root,
	}, nil
}

func (p *iniProvider) DisplayName(name string) string {
	if name == "" {
		return ""
	}
	if _, ok := p.users[name]; ok {
		return strings.ToUpper(name[:1]) + name[1:]
	}
	return name
}
