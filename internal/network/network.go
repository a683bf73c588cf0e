// Package network holds the table of deployment targets.
package network

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Bidon15/popdeploy/internal/credential"
)

// Sentinel errors
var (
	ErrUnknownNetwork = errors.New("popdeploy: unknown network")
	ErrInvalidNetwork = errors.New("popdeploy: invalid network definition")
)

// DefaultCredential is the credential source used by the built-in networks.
const DefaultCredential = "env:DEPLOYER_PK"

// Network describes one deployment target.
type Network struct {
	Name string `mapstructure:"-" yaml:"-"`

	// URL is the JSON-RPC endpoint.
	URL string `mapstructure:"url" yaml:"url" validate:"required,url"`

	// URLEnv optionally names an environment variable that overrides URL.
	URLEnv string `mapstructure:"url_env" yaml:"url_env,omitempty"`

	// ChainID is the expected chain ID. Zero disables the check.
	ChainID uint64 `mapstructure:"chain_id" yaml:"chain_id,omitempty"`

	// Credential is a credential source, e.g. "env:DEPLOYER_PK".
	Credential string `mapstructure:"credential" yaml:"credential" validate:"required,credential_source"`

	Explorer *Explorer `mapstructure:"explorer" yaml:"explorer,omitempty"`
}

// Explorer holds block explorer endpoints for a network.
type Explorer struct {
	APIURL     string `mapstructure:"api_url" yaml:"api_url" validate:"required,url"`
	BrowserURL string `mapstructure:"browser_url" yaml:"browser_url" validate:"required,url"`
}

// Endpoint returns the RPC URL, honouring URLEnv when it is set in the environment.
func (n Network) Endpoint() string {
	if n.URLEnv != "" {
		if v := strings.TrimSpace(os.Getenv(n.URLEnv)); v != "" {
			return v
		}
	}
	return n.URL
}

// AddressURL returns the explorer page for addr, or "" without an explorer.
func (n Network) AddressURL(addr string) string {
	if n.Explorer == nil || n.Explorer.BrowserURL == "" {
		return ""
	}
	return strings.TrimRight(n.Explorer.BrowserURL, "/") + "/address/" + addr
}

// TxURL returns the explorer page for a transaction hash, or "" without an explorer.
func (n Network) TxURL(hash string) string {
	if n.Explorer == nil || n.Explorer.BrowserURL == "" {
		return ""
	}
	return strings.TrimRight(n.Explorer.BrowserURL, "/") + "/tx/" + hash
}

// Table maps network names to their definitions.
type Table map[string]Network

// Lookup returns the named network. Names fall back to a lowercase match,
// since config file keys are stored lowercased.
func (t Table) Lookup(name string) (Network, error) {
	key := name
	n, ok := t[key]
	if !ok {
		key = strings.ToLower(name)
		n, ok = t[key]
	}
	if !ok {
		return Network{}, fmt.Errorf("%w %q (available: %s)", ErrUnknownNetwork, name, strings.Join(t.Names(), ", "))
	}
	n.Name = key
	return n, nil
}

// Names returns the network names in sorted order.
func (t Table) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge returns a new table with overrides applied on top of t.
// Override entries replace built-in entries of the same name wholesale.
func (t Table) Merge(overrides Table) Table {
	merged := make(Table, len(t)+len(overrides))
	for name, n := range t {
		merged[name] = n
	}
	for name, n := range overrides {
		merged[name] = n
	}
	return merged
}

// Validate checks every entry and reports all invalid networks at once.
func (t Table) Validate() error {
	v := newValidator()

	var problems []string
	for _, name := range t.Names() {
		n := t[name]
		if err := v.Struct(n); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %s", name, describe(err)))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidNetwork, strings.Join(problems, "; "))
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("credential_source", func(fl validator.FieldLevel) bool {
		_, err := credential.ParseSource(fl.Field().String())
		return err == nil
	})
	return v
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Namespace()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s is not a valid URL", fe.Namespace()))
		case "credential_source":
			msgs = append(msgs, fmt.Sprintf("%s %q is not a valid credential source", fe.Namespace(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return strings.Join(msgs, ", ")
}
