// Copyright 2024 Ewout Prangsma
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Author Ewout Prangsma
//

package model

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// BoardConfiguration holds the configuration of a single board worker.
type BoardConfiguration struct {
	// Name of the board, used as MQTT client ID and in the status UI.
	Name string `json:"name" yaml:"name"`
	// Bridge holds the pin assignment of the host ports.
	Bridge BridgeConfig `json:"bridge,omitempty" yaml:"bridge,omitempty"`
	// List of devices attached to the board
	Devices []HWDevice `json:"devices,omitempty" yaml:"devices,omitempty"`
	// List of real world objects handled by the board
	Objects []Object `json:"objects,omitempty" yaml:"objects,omitempty"`
	// MQTT telemetry settings
	MQTT MQTTConfig `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
	// RS-485 telemetry settings
	RS485 RS485Config `json:"rs485,omitempty" yaml:"rs485,omitempty"`
	// InfluxDB telemetry settings
	InfluxDB InfluxDBConfig `json:"influxdb,omitempty" yaml:"influxdb,omitempty"`
	// Recorder settings (local reading history)
	Recorder RecorderConfig `json:"recorder,omitempty" yaml:"recorder,omitempty"`
}

// LoadBoardConfiguration reads and validates a YAML configuration file.
func LoadBoardConfiguration(path string) (BoardConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BoardConfiguration{}, errors.Wrapf(err, "ReadFile[%s] failed", path)
	}
	return ParseBoardConfiguration(data)
}

// ParseBoardConfiguration parses and validates a YAML configuration.
func ParseBoardConfiguration(data []byte) (BoardConfiguration, error) {
	var c BoardConfiguration
	if err := yaml.Unmarshal(data, &c); err != nil {
		return BoardConfiguration{}, errors.Wrapf(ValidationError, "invalid YAML: %s", err.Error())
	}
	if err := c.Validate(); err != nil {
		return BoardConfiguration{}, maskAny(err)
	}
	return c, nil
}

// DeviceByID returns the device with given ID.
// Return false if not found.
func (c BoardConfiguration) DeviceByID(id string) (HWDevice, bool) {
	for _, d := range c.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return HWDevice{}, false
}

// ObjectByID returns the object with given ID.
// Return false if not found.
func (c BoardConfiguration) ObjectByID(id string) (Object, bool) {
	for _, x := range c.Objects {
		if x.ID == id {
			return x, true
		}
	}
	return Object{}, false
}

// Validate the given configuration, returning nil on ok,
// or an error upon validation issues.
func (c BoardConfiguration) Validate() error {
	if c.Name == "" {
		return errors.Wrap(ValidationError, "Name is empty")
	}
	if err := c.Bridge.Validate(); err != nil {
		return maskAny(err)
	}
	ids := make(map[string]struct{})
	for _, d := range c.Devices {
		if err := d.Validate(); err != nil {
			return maskAny(err)
		}
		if _, dup := ids[d.ID]; dup {
			return errors.Wrapf(ValidationError, "Duplicate device ID '%s'", d.ID)
		}
		ids[d.ID] = struct{}{}
	}
	objectIDs := make(map[string]struct{})
	for _, o := range c.Objects {
		if err := o.Validate(); err != nil {
			return maskAny(err)
		}
		if _, dup := objectIDs[o.ID]; dup {
			return errors.Wrapf(ValidationError, "Duplicate object ID '%s'", o.ID)
		}
		objectIDs[o.ID] = struct{}{}
		d, found := c.DeviceByID(o.Device)
		if !found {
			return errors.Wrapf(ValidationError, "Device '%s' not found in object '%s'", o.Device, o.ID)
		}
		if !o.Type.AcceptsDeviceType(d.Type) {
			return errors.Wrapf(ValidationError, "Object '%s' of type '%s' requires a device of type %v, got '%s'", o.ID, o.Type, o.Type.DeviceTypes(), d.Type)
		}
	}
	if err := c.MQTT.Validate(); err != nil {
		return maskAny(err)
	}
	if err := c.RS485.Validate(); err != nil {
		return maskAny(err)
	}
	if err := c.InfluxDB.Validate(); err != nil {
		return maskAny(err)
	}
	if err := c.Recorder.Validate(); err != nil {
		return maskAny(err)
	}
	return nil
}

// MQTTConfig holds the settings of the MQTT telemetry publisher.
// An empty broker disables MQTT.
type MQTTConfig struct {
	// Broker address, e.g. "tcp://localhost:1883"
	Broker string `json:"broker,omitempty" yaml:"broker,omitempty"`
	// TopicPrefix is prepended to all topics.
	TopicPrefix string `json:"topic_prefix,omitempty" yaml:"topic_prefix,omitempty"`
	// LogTopic receives log lines when set.
	LogTopic string `json:"log_topic,omitempty" yaml:"log_topic,omitempty"`
	// LogLevel is the minimum level of log lines sent to LogTopic (default "info").
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

// Enabled returns true when a broker is configured.
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

// LogLevelOrDefault returns the parsed log level, defaulting to info.
func (c MQTTConfig) LogLevelOrDefault() (zerolog.Level, error) {
	if c.LogLevel == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(c.LogLevel)
}

// Validate the given configuration, returning nil on ok,
// or an error upon validation issues.
func (c MQTTConfig) Validate() error {
	if c.Enabled() && c.TopicPrefix == "" {
		return errors.Wrap(ValidationError, "MQTT topic prefix is empty")
	}
	if _, err := c.LogLevelOrDefault(); err != nil {
		return errors.Wrapf(ValidationError, "invalid MQTT log level '%s'", c.LogLevel)
	}
	return nil
}

// DefaultRS485Baud is the baud rate of the RS-485 link between subsystems.
const DefaultRS485Baud = 50000

// RS485Config holds the settings of the RS-485 telemetry link.
// An empty port disables RS-485.
type RS485Config struct {
	// Serial port, e.g. "/dev/ttyAMA1"
	Port string `json:"port,omitempty" yaml:"port,omitempty"`
	// Baud rate. 0 selects DefaultRS485Baud.
	Baud int `json:"baud,omitempty" yaml:"baud,omitempty"`
	// TransmitEnable is the pin driving the transceiver's driver enable.
	TransmitEnable string `json:"transmit_enable,omitempty" yaml:"transmit_enable,omitempty"`
}

// Enabled returns true when a serial port is configured.
func (c RS485Config) Enabled() bool {
	return c.Port != ""
}

// BaudOrDefault returns the baud rate, DefaultRS485Baud when not set.
func (c RS485Config) BaudOrDefault() int {
	if c.Baud == 0 {
		return DefaultRS485Baud
	}
	return c.Baud
}

// Validate the given configuration, returning nil on ok,
// or an error upon validation issues.
func (c RS485Config) Validate() error {
	if c.Baud < 0 {
		return errors.Wrapf(ValidationError, "RS-485 baud rate %d is negative", c.Baud)
	}
	if !c.Enabled() && c.TransmitEnable != "" {
		return errors.Wrap(ValidationError, "RS-485 transmit enable pin without port")
	}
	return nil
}

// DefaultInfluxDBMeasurement is the measurement readings are written to.
const DefaultInfluxDBMeasurement = "reading"

// InfluxDBConfig holds the settings of the InfluxDB telemetry writer.
// An empty URL disables InfluxDB.
type InfluxDBConfig struct {
	// URL of the server, e.g. "http://localhost:8086"
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
	// Token used for authentication
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
	// Org & Bucket to write to
	Org    string `json:"org,omitempty" yaml:"org,omitempty"`
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	// Measurement name. Empty selects DefaultInfluxDBMeasurement.
	Measurement string `json:"measurement,omitempty" yaml:"measurement,omitempty"`
}

// Enabled returns true when a server is configured.
func (c InfluxDBConfig) Enabled() bool {
	return c.URL != ""
}

// MeasurementOrDefault returns the measurement, DefaultInfluxDBMeasurement when not set.
func (c InfluxDBConfig) MeasurementOrDefault() string {
	if c.Measurement == "" {
		return DefaultInfluxDBMeasurement
	}
	return c.Measurement
}

// Validate the given configuration, returning nil on ok,
// or an error upon validation issues.
func (c InfluxDBConfig) Validate() error {
	if c.Enabled() && (c.Org == "" || c.Bucket == "") {
		return errors.Wrap(ValidationError, "InfluxDB org and bucket are required")
	}
	return nil
}

// RecorderConfig holds the settings of the local reading history.
// An empty path disables the recorder.
type RecorderConfig struct {
	// Path of the SQLite database file
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// Retention of recorded readings. 0 keeps all readings.
	Retention time.Duration `json:"retention,omitempty" yaml:"retention,omitempty"`
}

// Enabled returns true when a database path is configured.
func (c RecorderConfig) Enabled() bool {
	return c.Path != ""
}

// Validate the given configuration, returning nil on ok,
// or an error upon validation issues.
func (c RecorderConfig) Validate() error {
	if c.Retention < 0 {
		return errors.Wrap(ValidationError, "Recorder retention is negative")
	}
	return nil
}
