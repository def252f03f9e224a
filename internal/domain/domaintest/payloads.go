// Package domaintest builds service payloads for tests.
package domaintest

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/hubcache/internal/domain"
)

// Payload returns a payload for owner/name with an optional alias.
func Payload(owner, name, alias string) domain.ServicePayload {
	return domain.ServicePayload{
		ServiceUUID: uuid.NewString(),
		Service: domain.ServiceInfo{
			Name:        name,
			Alias:       alias,
			Owner:       domain.Owner{Username: owner},
			Description: name + " service",
			Public:      true,
			Topics:      []string{"a", "b"},
		},
		State:         domain.StateBeta,
		Configuration: json.RawMessage(`{"x":1}`),
		Readme:        "# " + name,
	}
}
