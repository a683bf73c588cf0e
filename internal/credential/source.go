package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// EnvKeystorePassword holds the password for keystore: sources.
const EnvKeystorePassword = "POPDEPLOY_KEYSTORE_PASSWORD"

// ErrUnsupportedSource is returned for unknown credential source schemes.
var ErrUnsupportedSource = errors.New("popdeploy: unsupported credential source")

// Scheme identifies where a key is loaded from.
type Scheme string

const (
	SchemeEnv      Scheme = "env"
	SchemeKeystore Scheme = "keystore"
	SchemeVault    Scheme = "vault"
)

// Source is a parsed credential source such as "env:DEPLOYER_PK".
type Source struct {
	Scheme Scheme
	Ref    string
	// Field is the secret field for vault sources.
	Field string
}

// ParseSource parses "scheme:ref" (vault sources use "vault:path#field").
func ParseSource(s string) (Source, error) {
	scheme, ref, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || strings.TrimSpace(ref) == "" {
		return Source{}, fmt.Errorf("%w: %q", ErrUnsupportedSource, s)
	}

	src := Source{Scheme: Scheme(scheme), Ref: ref}
	switch src.Scheme {
	case SchemeEnv, SchemeKeystore:
		return src, nil
	case SchemeVault:
		path, field, ok := strings.Cut(ref, "#")
		if !ok || path == "" || field == "" {
			return Source{}, fmt.Errorf("%w: vault source must be vault:<path>#<field>", ErrUnsupportedSource)
		}
		src.Ref, src.Field = path, field
		return src, nil
	default:
		return Source{}, fmt.Errorf("%w: scheme %q", ErrUnsupportedSource, scheme)
	}
}

func (s Source) String() string {
	if s.Field != "" {
		return fmt.Sprintf("%s:%s#%s", s.Scheme, s.Ref, s.Field)
	}
	return fmt.Sprintf("%s:%s", s.Scheme, s.Ref)
}

// SecretReader reads a single field of a secret.
type SecretReader interface {
	ReadField(ctx context.Context, path, field string) (string, error)
}

// Loader resolves credential sources.
type Loader struct {
	getenv   func(string) string
	readFile func(string) ([]byte, error)
	vault    func() (SecretReader, error)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithGetenv overrides environment lookups.
func WithGetenv(fn func(string) string) LoaderOption {
	return func(l *Loader) {
		l.getenv = fn
	}
}

// WithSecretReader sets the reader used for vault: sources.
func WithSecretReader(r SecretReader) LoaderOption {
	return func(l *Loader) {
		l.vault = func() (SecretReader, error) { return r, nil }
	}
}

// NewLoader creates a Loader backed by the process environment.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		getenv:   os.Getenv,
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.vault == nil {
		getenv := l.getenv
		l.vault = func() (SecretReader, error) {
			return NewVaultClientFromEnv(getenv)
		}
	}
	return l
}

// Load resolves a credential source string.
func (l *Loader) Load(ctx context.Context, source string) (*Credential, error) {
	src, err := ParseSource(source)
	if err != nil {
		return nil, err
	}

	switch src.Scheme {
	case SchemeEnv:
		v := l.getenv(src.Ref)
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("%w: environment variable %s is empty", ErrMissingCredential, src.Ref)
		}
		return FromHex(v)

	case SchemeKeystore:
		data, err := l.readFile(src.Ref)
		if err != nil {
			return nil, fmt.Errorf("%w: read keystore: %v", ErrMissingCredential, err)
		}
		return FromKeystore(data, l.getenv(EnvKeystorePassword))

	case SchemeVault:
		reader, err := l.vault()
		if err != nil {
			return nil, fmt.Errorf("vault client: %w", err)
		}
		v, err := reader.ReadField(ctx, src.Ref, src.Field)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMissingCredential, err)
		}
		return FromHex(v)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, src)
}
