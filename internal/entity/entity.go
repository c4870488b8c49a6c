// Package entity defines the units the agent exposes to Home Assistant:
// sensors that report status and commands that can be triggered. The set
// of units is fixed at startup; each one owns a stable topic and the
// discovery descriptors that describe it.
package entity

import "context"

// SensorDescriptor describes one Home Assistant sensor entity. A single
// [Sensor] may expose several, each reading a different field of the
// same status payload through its ValueTemplate.
type SensorDescriptor struct {
	ID             string
	Name           string
	Icon           string
	EntityCategory string
	DeviceClass    string
	StateClass     string
	Unit           string
	// Precision is the suggested display precision; nil leaves it to HA.
	Precision *int
	// Binary selects the binary_sensor platform instead of sensor.
	Binary             bool
	ValueTemplate      string
	AttributesTemplate string
}

// CommandDescriptor describes one Home Assistant button entity.
type CommandDescriptor struct {
	ID             string
	Name           string
	Icon           string
	EntityCategory string
	DeviceClass    string
}

// Sensor publishes a JSON-serializable status on its topic.
type Sensor interface {
	// Topic is the state topic, fixed for the lifetime of the process.
	Topic() string
	Discovery() []SensorDescriptor
	// Status returns the current status snapshot.
	Status(ctx context.Context) (any, error)
}

// Command runs an action when a message arrives on its topic.
type Command interface {
	Topic() string
	Discovery() []CommandDescriptor
	Execute(ctx context.Context) error
}

// Precision returns a pointer to p for use in [SensorDescriptor].
func Precision(p int) *int { return &p }

// Topics derives every topic from the base topic and host slug.
type Topics struct {
	base      string
	discovery string
}

// NewTopics returns the topic layout for one host. base is
// {baseTopic}/{slug}; the discovery topic is
// {discoveryPrefix}/device/{slug}/config.
func NewTopics(baseTopic, discoveryPrefix, slug string) Topics {
	return Topics{
		base:      baseTopic + "/" + slug,
		discovery: discoveryPrefix + "/device/" + slug + "/config",
	}
}

// Base returns {baseTopic}/{slug}.
func (t Topics) Base() string { return t.base }

// Sensor returns the state topic for a sensor id.
func (t Topics) Sensor(id string) string { return t.base + "/" + id }

// Command returns the command topic for a command id.
func (t Topics) Command(id string) string { return t.base + "/command/" + id }

// Availability returns the online/offline topic.
func (t Topics) Availability() string { return t.base + "/availability" }

// Discovery returns the retained device config topic.
func (t Topics) Discovery() string { return t.discovery }
