package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/hubcache/internal/domain"
	"github.com/MrSnakeDoc/hubcache/internal/logger"
)

var templateVar = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Loader reads a catalog snapshot from disk. The file is YAML (JSON is
// accepted as a subset) and holds either a list of service payloads or a
// captured hub response ({"data":{"allServiceTags":{"nodes":[...]}}}).
type Loader struct {
	filePath string
	logger   logger.Logger
}

// NewLoader creates a snapshot loader for filePath.
func NewLoader(filePath string, log logger.Logger) *Loader {
	return &Loader{
		filePath: filePath,
		logger:   log,
	}
}

// Path returns the snapshot file location.
func (l *Loader) Path() string {
	return l.filePath
}

// FetchAll reads and parses the snapshot file. The file is re-read on every
// call so edits are picked up by the next refresh.
func (l *Loader) FetchAll(_ context.Context) ([]domain.ServicePayload, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	payloads, err := Parse(expandTemplateVariables(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.filePath, err)
	}

	l.logger.Debug("loaded catalog snapshot",
		logger.String("path", l.filePath),
		logger.Int("count", len(payloads)))

	return payloads, nil
}

// Parse decodes a snapshot document.
func Parse(data []byte) ([]domain.ServicePayload, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot yaml: %w", err)
	}

	nodes, err := payloadNodes(doc)
	if err != nil {
		return nil, err
	}

	payloads := make([]domain.ServicePayload, 0, len(nodes))
	for i, node := range nodes {
		raw, err := json.Marshal(node)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		p, err := domain.ParsePayload(raw)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		payloads = append(payloads, p)
	}

	return payloads, nil
}

func payloadNodes(doc any) ([]any, error) {
	switch v := doc.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case map[string]any:
		data, _ := v["data"].(map[string]any)
		tags, _ := data["allServiceTags"].(map[string]any)
		nodes, ok := tags["nodes"].([]any)
		if !ok {
			return nil, fmt.Errorf("snapshot object has no data.allServiceTags.nodes list")
		}
		return nodes, nil
	default:
		return nil, fmt.Errorf("snapshot must be a list of services, got %T", doc)
	}
}

// expandTemplateVariables replaces {{NAME}} with the value of the NAME
// environment variable, or an empty string when unset.
func expandTemplateVariables(data []byte) []byte {
	return templateVar.ReplaceAllFunc(data, func(m []byte) []byte {
		name := templateVar.FindSubmatch(m)[1]
		quoted, _ := json.Marshal(os.Getenv(string(name)))
		return quoted
	})
}
