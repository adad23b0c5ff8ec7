package model

import "encoding/json"

// Status is the numeric severity encoded on a check result.
type Status int

const (
	StatusOK       Status = 0
	StatusWarning  Status = 1
	StatusCritical Status = 2
)

// Name maps the fixed status table from spec §3, falling back to "unknown"
// for anything outside 0..2.
func (s Status) Name() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Client is a persisted agent descriptor; opaque beyond name/timestamp.
type Client struct {
	Name      string         `json:"name"`
	Timestamp int64          `json:"timestamp"`
	Extra     map[string]any `json:"-"`
}

// MarshalJSON flattens Extra alongside the known fields, mirroring the
// agent payload's "opaque" extension point.
func (c Client) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	for k, v := range c.Extra {
		out[k] = v
	}
	out["name"] = c.Name
	out["timestamp"] = c.Timestamp
	return json.Marshal(out)
}

func (c *Client) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if n, ok := raw["name"].(string); ok {
		c.Name = n
	}
	if ts, ok := raw["timestamp"].(float64); ok {
		c.Timestamp = int64(ts)
	}
	delete(raw, "name")
	delete(raw, "timestamp")
	c.Extra = raw
	return nil
}

// Check is a named measurement description, as read from the config
// registry and merged over a result's inline check payload (spec §4.6.2).
type Check struct {
	Name              string   `json:"name" yaml:"name"`
	Command           string   `json:"command,omitempty" yaml:"command,omitempty"`
	Interval          int      `json:"interval,omitempty" yaml:"interval,omitempty"`
	Subscribers       []string `json:"subscribers,omitempty" yaml:"subscribers,omitempty"`
	Publish           *bool    `json:"publish,omitempty" yaml:"publish,omitempty"`
	Standalone        bool     `json:"standalone,omitempty" yaml:"standalone,omitempty"`
	Aggregate         bool     `json:"aggregate,omitempty" yaml:"aggregate,omitempty"`
	Handle            *bool    `json:"handle,omitempty" yaml:"handle,omitempty"`
	Handler           string   `json:"handler,omitempty" yaml:"handler,omitempty"`
	Handlers          []string `json:"handlers,omitempty" yaml:"handlers,omitempty"`
	Type              string   `json:"type,omitempty" yaml:"type,omitempty"`
	AutoResolve       *bool    `json:"auto_resolve,omitempty" yaml:"auto_resolve,omitempty"`
	ForceResolve      bool     `json:"force_resolve,omitempty" yaml:"force_resolve,omitempty"`
	LowFlapThreshold  int      `json:"low_flap_threshold,omitempty" yaml:"low_flap_threshold,omitempty"`
	HighFlapThreshold int      `json:"high_flap_threshold,omitempty" yaml:"high_flap_threshold,omitempty"`
	Subdue            *Subdue  `json:"subdue,omitempty" yaml:"subdue,omitempty"`

	Status Status `json:"status,omitempty"`
	Output string `json:"output,omitempty"`
	Issued int64  `json:"issued,omitempty"`
}

// Subdue is a time/weekday window that suppresses scheduling or handling.
type Subdue struct {
	Begin      string          `json:"begin,omitempty" yaml:"begin,omitempty"`
	End        string          `json:"end,omitempty" yaml:"end,omitempty"`
	Days       []string        `json:"days,omitempty" yaml:"days,omitempty"`
	Exceptions []SubdueWindow  `json:"exceptions,omitempty" yaml:"exceptions,omitempty"`
	At         string          `json:"at,omitempty" yaml:"at,omitempty"` // "handler" | "publisher", default "handler"
}

type SubdueWindow struct {
	Begin string `json:"begin,omitempty" yaml:"begin,omitempty"`
	End   string `json:"end,omitempty" yaml:"end,omitempty"`
}

// Result is the transient check-execution outcome published by an agent.
type Result struct {
	Client string `json:"client"`
	Check  Check  `json:"check"`
}

// EventAction tags the judgment a result produced.
type EventAction string

const (
	ActionCreate   EventAction = "create"
	ActionFlapping EventAction = "flapping"
	ActionResolve  EventAction = "resolve"
	ActionNone     EventAction = ""
)

// Event is a server-side judgment derived from a result.
type Event struct {
	Client      string      `json:"client"`
	Check       Check       `json:"check"`
	Action      EventAction `json:"action,omitempty"`
	Occurrences int         `json:"occurrences"`
}

// Occurrence is the persisted record at events:<client>[<check>].
type Occurrence struct {
	Output      string `json:"output"`
	Status      Status `json:"status"`
	Issued      int64  `json:"issued"`
	Handlers    []string `json:"handlers,omitempty"`
	Flapping    bool   `json:"flapping"`
	Occurrences int    `json:"occurrences"`
}

// AggregateCounts is the per-(check,issued) severity rollup.
type AggregateCounts struct {
	OK       int `json:"ok"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
	Unknown  int `json:"unknown"`
	Total    int `json:"total"`
}

// AggregationEntry is a single client's contribution to an aggregation.
type AggregationEntry struct {
	Output string `json:"output"`
	Status Status `json:"status"`
}

// HandlerType enumerates the dispatch transports §4.5/§4.9 wire in.
type HandlerType string

const (
	HandlerTypePipe      HandlerType = "pipe"
	HandlerTypeTCP       HandlerType = "tcp"
	HandlerTypeUDP       HandlerType = "udp"
	HandlerTypeAMQP      HandlerType = "amqp"
	HandlerTypeExtension HandlerType = "extension"
	HandlerTypeMail      HandlerType = "mail"
	HandlerTypeSet       HandlerType = "set"
)

// Handler is a config-defined output binding for events.
type Handler struct {
	Name           string      `yaml:"name" json:"name"`
	Type           HandlerType `yaml:"type" json:"type"`
	Command        string      `yaml:"command,omitempty" json:"command,omitempty"`
	Socket         *Socket     `yaml:"socket,omitempty" json:"socket,omitempty"`
	Exchange       *Exchange   `yaml:"exchange,omitempty" json:"exchange,omitempty"`
	Mail           *MailTarget `yaml:"mail,omitempty" json:"mail,omitempty"`
	Mutator        string      `yaml:"mutator,omitempty" json:"mutator,omitempty"`
	Handlers       []string    `yaml:"handlers,omitempty" json:"handlers,omitempty"` // "set" type only
	Severities     []string    `yaml:"severities,omitempty" json:"severities,omitempty"`
	HandleFlapping bool        `yaml:"handle_flapping,omitempty" json:"handle_flapping,omitempty"`
	Filter         string      `yaml:"filter,omitempty" json:"filter,omitempty"`
	Filters        []string    `yaml:"filters,omitempty" json:"filters,omitempty"`
}

type Socket struct {
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`
	Timeout int    `yaml:"timeout,omitempty" json:"timeout,omitempty"` // seconds, default 10
}

type Exchange struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type,omitempty" json:"type,omitempty"` // default "direct"
}

type MailTarget struct {
	To      []string `yaml:"to" json:"to"`
	Subject string   `yaml:"subject,omitempty" json:"subject,omitempty"`
}

// Mutator transforms an event's serialized form before dispatch.
type Mutator struct {
	Name    string `yaml:"name" json:"name"`
	Command string `yaml:"command" json:"command"`
}

// Filter is a predicate that can suppress an event for a handler.
type Filter struct {
	Name       string         `yaml:"name" json:"name"`
	Attributes map[string]any `yaml:"attributes" json:"attributes"`
	Negate     bool           `yaml:"negate,omitempty" json:"negate,omitempty"`
}
