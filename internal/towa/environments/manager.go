// Package environments manages the set of AWX instances Towa can talk to.
//
// Each environment is a named connection profile (URL plus credentials)
// persisted in SQLite with its secret halves sealed under the master key.
// Exactly one environment is active at a time; the execution layer asks the
// manager for a client bound to the active environment on every remote call,
// so switching environments takes effect immediately.
//
// When nothing is configured in the store, a bootstrap environment is
// synthesized from TOWA_AWX_* variables so a fresh install can talk to AWX
// before anyone runs env.use.
package environments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bdobrica/Towa/common/crypto"
	"github.com/bdobrica/Towa/common/environment"
	"github.com/bdobrica/Towa/internal/towa/awx"
	"github.com/bdobrica/Towa/internal/towa/store"
)

// bootstrapName identifies the environment synthesized from env vars.
const bootstrapName = "default"

// ErrNoEnvironment is returned when no environment is configured at all.
var ErrNoEnvironment = errors.New("no AWX environment configured")

// Environment is the secret-free view handed to presenters.
type Environment struct {
	Name   string
	URL    string
	Active bool
}

// Credentials carries plaintext connection secrets into Save. They are
// sealed before persistence and never stored on the Manager.
type Credentials struct {
	Token    string
	Username string
	Password string
}

// TestResult reports the outcome of a connectivity probe.
type TestResult struct {
	Name      string
	URL       string
	Reachable bool
	User      string
	Version   string
	Latency   time.Duration
	// Err holds the probe failure when Reachable is false.
	Err error
}

// Manager resolves environment names to AWX clients.
type Manager struct {
	store     *store.Store
	masterKey []byte
}

// New creates a manager. masterKey must be a 32-byte AES key (see
// crypto.ParseMasterKey); it may be nil only when no credentials will ever
// be persisted.
func New(st *store.Store, masterKey []byte) *Manager {
	return &Manager{store: st, masterKey: masterKey}
}

// List returns all configured environments, bootstrap included when env
// vars are set, ordered by name with the active one flagged.
func (m *Manager) List(ctx context.Context) ([]Environment, error) {
	records, err := m.store.ListEnvironments(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Environment, 0, len(records)+1)
	for _, r := range records {
		out = append(out, Environment{Name: r.Name, URL: r.URL, Active: r.Active})
	}

	if boot := bootstrapFromEnv(); boot != nil && !containsName(out, bootstrapName) {
		env := Environment{Name: bootstrapName, URL: boot.BaseURL}
		// The bootstrap acts as active only when the store names no other.
		env.Active = !anyActive(out)
		out = append(out, env)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Active returns the currently selected environment.
func (m *Manager) Active(ctx context.Context) (*Environment, error) {
	rec, err := m.store.ActiveEnvironment(ctx)
	if err == nil {
		return &Environment{Name: rec.Name, URL: rec.URL, Active: true}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if boot := bootstrapFromEnv(); boot != nil {
		return &Environment{Name: bootstrapName, URL: boot.BaseURL, Active: true}, nil
	}
	return nil, ErrNoEnvironment
}

// Use marks name as the active environment.
func (m *Manager) Use(ctx context.Context, name string) error {
	err := m.store.SetActiveEnvironment(ctx, name)
	if errors.Is(err, store.ErrNotFound) && name == bootstrapName && bootstrapFromEnv() != nil {
		// Selecting the env-var bootstrap explicitly: materialize it so the
		// choice survives restarts.
		if saveErr := m.saveBootstrap(ctx); saveErr != nil {
			return saveErr
		}
		return m.store.SetActiveEnvironment(ctx, name)
	}
	return err
}

// Save persists an environment profile, sealing its credentials.
func (m *Manager) Save(ctx context.Context, name, url string, insecureSkipVerify bool, creds Credentials) error {
	rec := &store.Environment{
		Name:               name,
		URL:                url,
		InsecureSkipVerify: insecureSkipVerify,
	}

	var err error
	if rec.TokenEnc, err = m.seal(creds.Token); err != nil {
		return fmt.Errorf("seal token: %w", err)
	}
	if rec.UsernameEnc, err = m.seal(creds.Username); err != nil {
		return fmt.Errorf("seal username: %w", err)
	}
	if rec.PasswordEnc, err = m.seal(creds.Password); err != nil {
		return fmt.Errorf("seal password: %w", err)
	}

	return m.store.SaveEnvironment(ctx, rec)
}

// Delete removes an environment profile.
func (m *Manager) Delete(ctx context.Context, name string) error {
	return m.store.DeleteEnvironment(ctx, name)
}

// ClientFor builds an AWX client for the named environment; an empty name
// selects the active one.
func (m *Manager) ClientFor(ctx context.Context, name string) (*awx.Client, error) {
	cfg, err := m.configFor(ctx, name)
	if err != nil {
		return nil, err
	}
	return awx.New(*cfg), nil
}

// Test probes the named environment (or active when name is empty) with a
// ping and an identity lookup. It reports failures in the result rather
// than as an error, so a broken environment is an answer, not a fault.
func (m *Manager) Test(ctx context.Context, name string) (*TestResult, error) {
	cfg, err := m.configFor(ctx, name)
	if err != nil {
		return nil, err
	}
	if name == "" {
		if active, aerr := m.Active(ctx); aerr == nil {
			name = active.Name
		}
	}

	result := &TestResult{Name: name, URL: cfg.BaseURL}
	client := awx.New(*cfg)

	start := time.Now()
	if err := client.Ping(ctx); err != nil {
		result.Err = err
		return result, nil
	}
	result.Latency = time.Since(start)
	result.Reachable = true

	if me, err := client.Me(ctx); err == nil {
		result.User = me.Username
	}
	if info, err := client.InstanceInfo(ctx); err == nil {
		result.Version = info.Version
	}
	return result, nil
}

// configFor resolves name (or the active environment) into a client config,
// unsealing credentials as needed.
func (m *Manager) configFor(ctx context.Context, name string) (*awx.Config, error) {
	var rec *store.Environment
	var err error
	if name == "" {
		rec, err = m.store.ActiveEnvironment(ctx)
	} else {
		rec, err = m.store.GetEnvironment(ctx, name)
	}

	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		boot := bootstrapFromEnv()
		if boot == nil || (name != "" && name != bootstrapName) {
			return nil, fmt.Errorf("environment %q: %w", name, ErrNoEnvironment)
		}
		return boot, nil
	}

	cfg := &awx.Config{
		BaseURL:            rec.URL,
		InsecureSkipVerify: rec.InsecureSkipVerify,
	}
	if cfg.Token, err = m.unseal(rec.TokenEnc); err != nil {
		return nil, fmt.Errorf("unseal token for %q: %w", rec.Name, err)
	}
	if cfg.Username, err = m.unseal(rec.UsernameEnc); err != nil {
		return nil, fmt.Errorf("unseal username for %q: %w", rec.Name, err)
	}
	if cfg.Password, err = m.unseal(rec.PasswordEnc); err != nil {
		return nil, fmt.Errorf("unseal password for %q: %w", rec.Name, err)
	}
	return cfg, nil
}

func (m *Manager) saveBootstrap(ctx context.Context) error {
	boot := bootstrapFromEnv()
	if boot == nil {
		return ErrNoEnvironment
	}
	return m.Save(ctx, bootstrapName, boot.BaseURL, boot.InsecureSkipVerify, Credentials{
		Token:    boot.Token,
		Username: boot.Username,
		Password: boot.Password,
	})
}

func (m *Manager) seal(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	if len(m.masterKey) == 0 {
		return nil, errors.New("no master key configured")
	}
	return crypto.Encrypt(m.masterKey, []byte(plaintext))
}

func (m *Manager) unseal(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	if len(m.masterKey) == 0 {
		return "", errors.New("no master key configured")
	}
	b, err := crypto.Decrypt(m.masterKey, ciphertext)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// bootstrapFromEnv builds a client config from TOWA_AWX_* variables, or nil
// when TOWA_AWX_URL is unset.
func bootstrapFromEnv() *awx.Config {
	url, ok := environment.String("TOWA_AWX_URL")
	if !ok || url == "" {
		return nil
	}
	return &awx.Config{
		BaseURL:            url,
		Token:              environment.StringOr("TOWA_AWX_TOKEN", ""),
		Username:           environment.StringOr("TOWA_AWX_USERNAME", ""),
		Password:           environment.StringOr("TOWA_AWX_PASSWORD", ""),
		InsecureSkipVerify: environment.BoolOr("TOWA_AWX_INSECURE_SKIP_VERIFY", false),
	}
}

func containsName(envs []Environment, name string) bool {
	for _, e := range envs {
		if e.Name == name {
			return true
		}
	}
	return false
}

func anyActive(envs []Environment) bool {
	for _, e := range envs {
		if e.Active {
			return true
		}
	}
	return false
}
