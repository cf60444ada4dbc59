package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/swaggest/jsonschema-go"
)

var wellknownFingerprints = []string{
	"SHA256:uNiVztksCsDhcc0u9e8BujQXVUpKZIDTMczCvj3tD2s", // github.com
	"SHA256:p2QAMXNIC1TJYWeIOttrVc98/R1BUFWu3/LiyKgUfQM", // github.com
	"SHA256:+DiY3wvvV6TuJJhbpZisF/zLDA0zPMSvHdkr4UvCOqU", // github.com
	"SHA256:zzXQOXSRBEiUtuE8AikJYKwbHaxvSc0ojez9YXaGp1A", // bitbucket.org
	"SHA256:ohD8VZEXGWo6Ez8GSEJQ9WpafgLFsOfLOtGGQCQo6Og", // dev.azure.com
}

// Secret holds the credentials used to synchronize git sources and to write
// artifacts to object storage. A secret is a map of values with a "type" key:
//
//	my_secret:
//	  type: basic_auth
//	  username: myuser
//	  password: ${GIT_PASSWORD}
//
// String values are expanded from the environment when the secret is resolved.
//
// Supported types:
//
//   - "aws_auth": "access_key_id", "secret_access_key", optional "session_token".
//   - "azure_auth": "account_name", "account_key".
//   - "gcp_auth": "api_key" or "credentials" (service account JSON).
//   - "basic_auth": "username", "password", optional "headers" ("Name: value").
//   - "token_auth": "token", sent as a bearer token.
//   - "github_app_auth": "integration_id", "installation_id", "private_key".
//   - "ssh_key": "key", optional "passphrase" and "fingerprints".
type Secret struct {
	Name  string         `json:"-"`
	Value map[string]any `json:"-"`
}

func (s *Secret) Ref() *SecretRef {
	return &SecretRef{Name: s.Name, value: s}
}

func (*Secret) PrepareJSONSchema(schema *jsonschema.Schema) error {
	schema.Type = nil
	schema.AddType(jsonschema.Object)
	return nil
}

func (s *Secret) MarshalYAML() (any, error) {
	if len(s.Value) == 0 {
		return map[string]any{}, nil
	}
	return s.Value, nil
}

func (s *Secret) MarshalJSON() ([]byte, error) {
	v, err := s.MarshalYAML()
	if err != nil {
		return nil, err
	}

	return json.Marshal(v)
}

func (s *Secret) UnmarshalYAML(bs []byte) error {
	if err := yaml.Unmarshal(bs, &s.Value); err != nil {
		return fmt.Errorf("expected mapping node: %w", err)
	}
	return nil
}

func (s *Secret) UnmarshalJSON(bs []byte) error {
	return json.Unmarshal(bs, &s.Value)
}

func (s *Secret) Equal(other *Secret) bool {
	return fastEqual(s, other, func(s, other *Secret) bool {
		return s.Name == other.Name && reflect.DeepEqual(s.Value, other.Value)
	})
}

func (s *Secret) get() map[string]any {
	value := make(map[string]any, len(s.Value))

	for k, v := range s.Value {
		switch v := v.(type) {
		case string:
			value[k] = os.ExpandEnv(v)
		default:
			value[k] = v
		}
	}

	return value
}

// Typed decodes the secret into the struct of its type, e.g. SecretAWS for
// "aws_auth".
func (s *Secret) Typed(context.Context) (any, error) {
	m := s.get()
	if len(m) == 0 {
		return nil, fmt.Errorf("secret %q is not configured", s.Name)
	}
	t, _ := m["type"].(string)
	typed, ok := secretTypes[t]
	if !ok {
		return nil, fmt.Errorf("unknown secret type %q", m["type"])
	}
	return typed(m)
}

// validate checks the type of the secret. Values are only checked by Typed,
// after expansion from the environment.
func (s *Secret) validate() error {
	if t, ok := s.Value["type"]; ok {
		if name, _ := t.(string); secretTypes[name] == nil {
			return fmt.Errorf("secret %q: unknown secret type %q", s.Name, t)
		}
	}
	return nil
}

var secretTypes = map[string]func(map[string]any) (any, error){
	"aws_auth":        decodeAs[SecretAWS],
	"azure_auth":      decodeAs[SecretAzure],
	"gcp_auth":        decodeAs[SecretGCP],
	"github_app_auth": decodeAs[SecretGitHubApp],
	"ssh_key":         decodeAs[SecretSSHKey],
	"basic_auth":      decodeAs[SecretBasicAuth],
	"token_auth":      decodeAs[SecretTokenAuth],
}

type checker interface {
	check() error
}

// decodeAs decodes m into a T and checks the result.
func decodeAs[T any](m map[string]any) (any, error) {
	var value T
	if err := decode(m, &value); err != nil {
		return nil, err
	}
	if c, ok := any(&value).(checker); ok {
		if err := c.check(); err != nil {
			return nil, err
		}
	}
	return value, nil
}

type SecretAWS struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
}

func (s *SecretAWS) check() error {
	if s.AccessKeyID == "" || s.SecretAccessKey == "" {
		return errors.New("missing access_key_id or secret_access_key in AWS secret")
	}
	return nil
}

type SecretGCP struct {
	APIKey      string `json:"api_key"`
	Credentials string `json:"credentials"` // Credentials file as JSON.
}

func (s *SecretGCP) check() error {
	if s.APIKey == "" && s.Credentials == "" {
		return errors.New("missing api_key or credentials in GCP secret")
	}
	return nil
}

type SecretAzure struct {
	AccountName string `json:"account_name"`
	AccountKey  string `json:"account_key"`
}

func (s *SecretAzure) check() error {
	if s.AccountName == "" || s.AccountKey == "" {
		return errors.New("missing account_name or account_key in Azure secret")
	}
	return nil
}

// SecretGitHubApp authenticates git over https as a GitHub App installation.
type SecretGitHubApp struct {
	IntegrationID  int64  `json:"integration_id"`
	InstallationID int64  `json:"installation_id"`
	PrivateKey     string `json:"private_key"` // PEM
}

func (s *SecretGitHubApp) check() error {
	if s.IntegrationID == 0 || s.InstallationID == 0 || s.PrivateKey == "" {
		return errors.New("missing integration_id, installation_id or private_key in GitHub App secret")
	}
	return nil
}

// SecretSSHKey authenticates git over ssh. Host keys must match one of the
// fingerprints, by default those of the large git hosts.
type SecretSSHKey struct {
	Key          string   `json:"key"` // PEM
	Passphrase   string   `json:"passphrase,omitempty"`
	Fingerprints []string `json:"fingerprints,omitempty"`
}

func (s *SecretSSHKey) check() error {
	if s.Key == "" {
		return errors.New("missing key in SSH secret")
	}
	if len(s.Fingerprints) == 0 {
		s.Fingerprints = wellknownFingerprints
	}
	return nil
}

type SecretBasicAuth struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Headers  []string `json:"headers,omitempty"`
}

type SecretTokenAuth struct {
	Token string `json:"token"`
}

func (s *SecretTokenAuth) check() error {
	if s.Token == "" {
		return errors.New("missing token in token secret")
	}
	return nil
}

// decode reads the json tags so that the secret structs need no mapstructure tags.
func decode(input any, output any) error {
	config := &mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           output,
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}
