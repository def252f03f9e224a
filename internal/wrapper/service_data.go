package wrapper

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/MrSnakeDoc/hubcache/internal/domain"
)

// Argument is one input of an action.
type Argument struct {
	Name     string `json:"name"`
	Help     string `json:"help,omitempty"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	In       string `json:"in,omitempty"`
}

// HTTPOptions describes how an action is invoked over HTTP.
type HTTPOptions struct {
	Path         string       `json:"path,omitempty"`
	Port         int          `json:"port,omitempty"`
	Method       string       `json:"method,omitempty"`
	ContentType  string       `json:"contentType,omitempty"`
	UseEventConn bool         `json:"use_event_conn,omitempty"`
	Subscribe    *HTTPOptions `json:"subscribe,omitempty"`
	Unsubscribe  *HTTPOptions `json:"unsubscribe,omitempty"`
}

// OutputAction is an action available on the output of another action.
type OutputAction struct {
	Name      string       `json:"name"`
	HTTP      *HTTPOptions `json:"http,omitempty"`
	Arguments []Argument   `json:"arguments"`
}

// Action is one operation a service exposes.
type Action struct {
	Name          string         `json:"name"`
	Help          string         `json:"help,omitempty"`
	Arguments     []Argument     `json:"arguments"`
	HTTP          *HTTPOptions   `json:"http,omitempty"`
	OutputActions []OutputAction `json:"outputActions,omitempty"`
}

// ServiceData is the validated, typed view of a service payload. Values
// returned by a Wrapper are shared and must be treated as read-only.
type ServiceData struct {
	UUID        string       `json:"uuid"`
	Name        string       `json:"name"`
	Alias       string       `json:"alias,omitempty"`
	Owner       string       `json:"owner"`
	Description string       `json:"description,omitempty"`
	Certified   bool         `json:"certified"`
	Public      bool         `json:"public"`
	Topics      []string     `json:"topics"`
	State       domain.State `json:"state"`
	Readme      string       `json:"readme,omitempty"`
	Actions     []Action     `json:"actions"`
}

// Action returns the named action.
func (s *ServiceData) Action(name string) (Action, bool) {
	for _, a := range s.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return Action{}, false
}

// Identity returns the lookup identity of the service.
func (s *ServiceData) Identity() domain.Identity {
	return domain.Identity{Alias: s.Alias, Owner: s.Owner, Name: s.Name}
}

type rawArgument struct {
	Help     string `json:"help"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	In       string `json:"in"`
}

type rawOutputAction struct {
	HTTP      *HTTPOptions           `json:"http"`
	Arguments map[string]rawArgument `json:"arguments"`
}

type rawAction struct {
	Help          string                     `json:"help"`
	HTTP          *HTTPOptions               `json:"http"`
	Arguments     map[string]rawArgument     `json:"arguments"`
	OutputActions map[string]rawOutputAction `json:"output_actions"`
}

type rawConfiguration struct {
	Actions map[string]rawAction `json:"actions"`
}

// FromPayload builds the typed view of a fetched payload.
func FromPayload(p domain.ServicePayload) (*ServiceData, error) {
	actions, err := parseActions(p.Configuration)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w",
			domain.QualifiedName(p.Service.Owner.Username, p.Service.Name), err)
	}

	topics := p.Service.Topics
	if topics == nil {
		topics = []string{}
	}

	return &ServiceData{
		UUID:        p.ServiceUUID,
		Name:        p.Service.Name,
		Alias:       p.Service.Alias,
		Owner:       p.Service.Owner.Username,
		Description: p.Service.Description,
		Certified:   p.Service.IsCertified,
		Public:      p.Service.Public,
		Topics:      topics,
		State:       p.State,
		Readme:      p.Readme,
		Actions:     actions,
	}, nil
}

// FromRaw builds the typed view of a raw stored payload.
func FromRaw(raw []byte) (*ServiceData, error) {
	p, err := domain.ParsePayload(raw)
	if err != nil {
		return nil, err
	}
	return FromPayload(p)
}

func parseActions(configuration json.RawMessage) ([]Action, error) {
	actions := []Action{}
	if len(configuration) == 0 || string(configuration) == "null" {
		return actions, nil
	}

	var cfg rawConfiguration
	if err := json.Unmarshal(configuration, &cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	for _, name := range sortedKeys(cfg.Actions) {
		ra := cfg.Actions[name]

		args, err := parseArguments(ra.Arguments)
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", name, err)
		}

		action := Action{
			Name:      name,
			Help:      ra.Help,
			Arguments: args,
			HTTP:      ra.HTTP,
		}

		for _, outName := range sortedKeys(ra.OutputActions) {
			ro := ra.OutputActions[outName]
			outArgs, err := parseArguments(ro.Arguments)
			if err != nil {
				return nil, fmt.Errorf("action %q output action %q: %w", name, outName, err)
			}
			action.OutputActions = append(action.OutputActions, OutputAction{
				Name:      outName,
				HTTP:      ro.HTTP,
				Arguments: outArgs,
			})
		}

		actions = append(actions, action)
	}

	return actions, nil
}

func parseArguments(raw map[string]rawArgument) ([]Argument, error) {
	args := make([]Argument, 0, len(raw))
	for _, name := range sortedKeys(raw) {
		ra := raw[name]
		if ra.Type == "" {
			return nil, fmt.Errorf("argument %q has no type", name)
		}
		args = append(args, Argument{
			Name:     name,
			Help:     ra.Help,
			Type:     ra.Type,
			Required: ra.Required,
			In:       ra.In,
		})
	}
	return args, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
