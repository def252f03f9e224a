package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// State is the lifecycle state of a service as reported by the hub.
type State string

const (
	StateDev      State = "DEV"
	StateBeta     State = "BETA"
	StateStable   State = "STABLE"
	StateArchived State = "ARCHIVED"
)

// Owner identifies the account publishing a service.
type Owner struct {
	Username string `json:"username" yaml:"username"`
}

// ServiceInfo is the nested "service" object of a hub payload.
type ServiceInfo struct {
	Name        string   `json:"name" yaml:"name"`
	Alias       string   `json:"alias,omitempty" yaml:"alias,omitempty"`
	Owner       Owner    `json:"owner" yaml:"owner"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	IsCertified bool     `json:"isCertified" yaml:"isCertified"`
	Public      bool     `json:"public" yaml:"public"`
	Topics      []string `json:"topics" yaml:"topics"`
}

// ServicePayload is one entry of the remote catalog, exactly as fetched.
//
// When decoded from JSON the original bytes are retained and returned by
// MarshalJSON, so fields this type does not model survive the round trip
// into the local store.
type ServicePayload struct {
	ServiceUUID   string          `json:"serviceUuid"`
	Service       ServiceInfo     `json:"service"`
	State         State           `json:"state"`
	Configuration json.RawMessage `json:"configuration"`
	Readme        string          `json:"readme"`

	raw json.RawMessage
}

// UnmarshalJSON decodes the payload and keeps a copy of the source bytes.
func (p *ServicePayload) UnmarshalJSON(data []byte) error {
	type plain ServicePayload
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = ServicePayload(v)
	p.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the source bytes when available.
func (p ServicePayload) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	type plain ServicePayload
	return json.Marshal(plain(p))
}

// Identity returns the lookup identity of the payload.
func (p ServicePayload) Identity() Identity {
	return Identity{Alias: p.Service.Alias, Owner: p.Service.Owner.Username, Name: p.Service.Name}
}

// StoredService is the persisted shape of a service: structured fields are
// kept as serialized JSON text.
type StoredService struct {
	ServiceUUID   string
	Name          string
	Alias         string
	Username      string
	Description   string
	Certified     bool
	Public        bool
	Topics        string
	State         State
	Configuration string
	Readme        string
	RawData       string
}

// CanonicalUUID normalizes a service identifier to the lowercase hyphenated
// form. Identifiers that do not parse are kept as received.
func CanonicalUUID(s string) string {
	s = strings.TrimSpace(s)
	if id, err := uuid.Parse(s); err == nil {
		return id.String()
	}
	return s
}

// NewStoredService serializes a payload for the local store.
func NewStoredService(p ServicePayload) (*StoredService, error) {
	topics, err := json.Marshal(p.Service.Topics)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal topics: %w", err)
	}

	configuration := "null"
	if len(p.Configuration) > 0 {
		configuration = string(p.Configuration)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw payload: %w", err)
	}

	return &StoredService{
		ServiceUUID:   CanonicalUUID(p.ServiceUUID),
		Name:          p.Service.Name,
		Alias:         p.Service.Alias,
		Username:      p.Service.Owner.Username,
		Description:   p.Service.Description,
		Certified:     p.Service.IsCertified,
		Public:        p.Service.Public,
		Topics:        string(topics),
		State:         p.State,
		Configuration: configuration,
		Readme:        p.Readme,
		RawData:       string(raw),
	}, nil
}

// ServiceRecord is a stored service with its structured fields decoded.
type ServiceRecord struct {
	UUID          string         `json:"uuid"`
	Name          string         `json:"name"`
	Alias         string         `json:"alias,omitempty"`
	Owner         string         `json:"owner"`
	Description   string         `json:"description"`
	Certified     bool           `json:"certified"`
	Public        bool           `json:"public"`
	Topics        []string       `json:"topics"`
	State         State          `json:"state"`
	Configuration any            `json:"configuration"`
	Readme        string         `json:"readme"`
}

// Decode deserializes the stored topics and configuration. Configuration
// may be any JSON value.
func (s *StoredService) Decode() (*ServiceRecord, error) {
	rec := &ServiceRecord{
		UUID:        CanonicalUUID(s.ServiceUUID),
		Name:        s.Name,
		Alias:       s.Alias,
		Owner:       s.Username,
		Description: s.Description,
		Certified:   s.Certified,
		Public:      s.Public,
		State:       s.State,
		Readme:      s.Readme,
	}

	if s.Topics != "" {
		if err := json.Unmarshal([]byte(s.Topics), &rec.Topics); err != nil {
			return nil, fmt.Errorf("failed to decode topics: %w", err)
		}
	}
	if s.Configuration != "" {
		if err := json.Unmarshal([]byte(s.Configuration), &rec.Configuration); err != nil {
			return nil, fmt.Errorf("failed to decode configuration: %w", err)
		}
	}

	return rec, nil
}

// ParsePayload decodes one raw payload.
func ParsePayload(data []byte) (ServicePayload, error) {
	var p ServicePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ServicePayload{}, fmt.Errorf("failed to decode service payload: %w", err)
	}
	return p, nil
}
