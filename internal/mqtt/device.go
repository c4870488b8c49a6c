package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nugget/hostreporter/internal/buildinfo"
	"github.com/nugget/hostreporter/internal/config"
	"github.com/nugget/hostreporter/internal/entity"
	"github.com/nugget/hostreporter/internal/host"
)

// DeviceInfo holds the Home Assistant device registry fields. Every
// component in the discovery message belongs to this device.
type DeviceInfo struct {
	Identifiers  []string          `json:"identifiers"`
	Name         string            `json:"name"`
	Connections  []host.Connection `json:"connections,omitempty"`
	Manufacturer string            `json:"manufacturer,omitempty"`
	Model        string            `json:"model,omitempty"`
	SWVersion    string            `json:"sw_version,omitempty"`
}

// Origin identifies the software that published the discovery message.
type Origin struct {
	Name       string `json:"name"`
	SWVersion  string `json:"sw_version"`
	SupportURL string `json:"support_url,omitempty"`
}

// Component is one entity in a device discovery message.
type Component struct {
	Platform               string `json:"platform"`
	UniqueID               string `json:"unique_id"`
	Name                   string `json:"name"`
	Icon                   string `json:"icon,omitempty"`
	EntityCategory         string `json:"entity_category,omitempty"`
	DeviceClass            string `json:"device_class,omitempty"`
	StateClass             string `json:"state_class,omitempty"`
	UnitOfMeasurement      string `json:"unit_of_measurement,omitempty"`
	SuggestedPrecision     *int   `json:"suggested_display_precision,omitempty"`
	StateTopic             string `json:"state_topic,omitempty"`
	ValueTemplate          string `json:"value_template,omitempty"`
	JSONAttributesTopic    string `json:"json_attributes_topic,omitempty"`
	JSONAttributesTemplate string `json:"json_attributes_template,omitempty"`
	CommandTopic           string `json:"command_topic,omitempty"`
}

// DeviceDiscovery is the retained device-based discovery payload.
type DeviceDiscovery struct {
	Device            DeviceInfo           `json:"device"`
	Origin            Origin               `json:"origin"`
	AvailabilityTopic string               `json:"availability_topic"`
	Components        map[string]Component `json:"components"`
}

// NewDeviceInfo builds the device block from the collected host identity.
// The derived machine id is the stable identifier; the hostname is the
// display name.
func NewDeviceInfo(info host.Info) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{info.MachineID},
		Name:         info.Hostname,
		Connections:  info.Connections,
		Manufacturer: info.Manufacturer,
		Model:        info.Model,
		SWVersion:    info.OSVersion,
	}
}

// BuildDiscovery aggregates every sensor and command descriptor into one
// device message. Component keys are "{slug}_{id}"; a key already taken
// by another unit gets a numeric suffix so no component is lost.
func BuildDiscovery(info host.Info, topics entity.Topics, sensors []entity.Sensor, commands []entity.Command, logger *slog.Logger) DeviceDiscovery {
	if logger == nil {
		logger = slog.Default()
	}
	d := DeviceDiscovery{
		Device: NewDeviceInfo(info),
		Origin: Origin{
			Name:       buildinfo.Name,
			SWVersion:  buildinfo.Version,
			SupportURL: buildinfo.SupportURL,
		},
		AvailabilityTopic: topics.Availability(),
		Components:        make(map[string]Component),
	}

	add := func(id string, c Component) {
		key := info.Slug + "_" + id
		if _, taken := d.Components[key]; taken {
			base := key
			for n := 2; ; n++ {
				key = base + "_" + strconv.Itoa(n)
				if _, taken := d.Components[key]; !taken {
					break
				}
			}
			logger.Warn("duplicate discovery id, renamed component", "id", id, "key", key)
		}
		c.UniqueID = key
		d.Components[key] = c
	}

	for _, s := range sensors {
		for _, desc := range s.Discovery() {
			c := Component{
				Platform:           "sensor",
				Name:               desc.Name,
				Icon:               desc.Icon,
				EntityCategory:     desc.EntityCategory,
				DeviceClass:        desc.DeviceClass,
				StateClass:         desc.StateClass,
				UnitOfMeasurement:  desc.Unit,
				SuggestedPrecision: desc.Precision,
				StateTopic:         s.Topic(),
				ValueTemplate:      desc.ValueTemplate,
			}
			if desc.Binary {
				c.Platform = "binary_sensor"
			}
			if desc.AttributesTemplate != "" {
				c.JSONAttributesTopic = s.Topic()
				c.JSONAttributesTemplate = desc.AttributesTemplate
			}
			add(desc.ID, c)
		}
	}
	for _, cmd := range commands {
		for _, desc := range cmd.Discovery() {
			add(desc.ID, Component{
				Platform:       "button",
				Name:           desc.Name,
				Icon:           desc.Icon,
				EntityCategory: desc.EntityCategory,
				DeviceClass:    desc.DeviceClass,
				CommandTopic:   cmd.Topic(),
			})
		}
	}
	return d
}

// PublishDiscovery publishes the device message retained at QoS 1.
func PublishDiscovery(ctx context.Context, pub Publisher, topic string, d DeviceDiscovery, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal discovery payload: %w", err)
	}
	logger.Log(ctx, config.LevelTrace, "discovery payload", "topic", topic, "payload", string(payload))
	if err := pub.Publish(ctx, topic, payload, AtLeastOnce, true); err != nil {
		return fmt.Errorf("publish discovery: %w", err)
	}
	logger.Info("mqtt discovery published", "topic", topic, "components", len(d.Components))
	return nil
}
