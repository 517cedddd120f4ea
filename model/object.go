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
	"time"

	"github.com/pkg/errors"
)

// Object holds the info for each type of real world object.
type Object struct {
	// Unique ID of the object
	ID string `json:"id" yaml:"id"`
	// Type of object
	Type ObjectType `json:"type" yaml:"type"`
	// ID of the device used by this object
	Device string `json:"device" yaml:"device"`
	// Channel of an ADC, e.g. "ch0" or "ch0-ch1".
	Channel string `json:"channel,omitempty" yaml:"channel,omitempty"`
	// Input range of an ADC, e.g. "4.096V". Empty selects the default.
	Range string `json:"range,omitempty" yaml:"range,omitempty"`
	// Sampling rate (samples per second) of an ADC. 0 selects the default.
	Rate int `json:"rate,omitempty" yaml:"rate,omitempty"`
	// Scale is multiplied with a sampled value (e.g. a voltage divider). 0 means 1.
	Scale float64 `json:"scale,omitempty" yaml:"scale,omitempty"`
	// Offset is added to a scaled value.
	Offset float64 `json:"offset,omitempty" yaml:"offset,omitempty"`
	// Unit of the resulting value. Empty selects "V" or "C".
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`
	// Interval between samples. 0 selects the sampler default.
	Interval time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
}

// ObjectType identifies a type of real world objects.
type ObjectType string

const (
	ObjectTypeAnalogSensor      ObjectType = "analog-sensor"
	ObjectTypeTemperatureSensor ObjectType = "temperature-sensor"
	ObjectTypeStatusIndicator   ObjectType = "status-indicator"
	ObjectTypeActivityIndicator ObjectType = "activity-indicator"
)

// ObjectTypeInfo holds builtin information for a type of objects.
type ObjectTypeInfo struct {
	Type        ObjectType
	DeviceTypes []HWDeviceType
	Sensor      bool
}

var (
	objectTypeInfos = []ObjectTypeInfo{
		{Type: ObjectTypeAnalogSensor, DeviceTypes: []HWDeviceType{HWDeviceTypeADS1118, HWDeviceTypeADS1115}, Sensor: true},
		{Type: ObjectTypeTemperatureSensor, DeviceTypes: []HWDeviceType{HWDeviceTypeADS1118}, Sensor: true},
		{Type: ObjectTypeStatusIndicator, DeviceTypes: []HWDeviceType{HWDeviceTypeLED}},
		{Type: ObjectTypeActivityIndicator, DeviceTypes: []HWDeviceType{HWDeviceTypeLED}},
	}
)

func (t ObjectType) info() (ObjectTypeInfo, bool) {
	for _, typeInfo := range objectTypeInfos {
		if typeInfo.Type == t {
			return typeInfo, true
		}
	}
	return ObjectTypeInfo{}, false
}

// DeviceTypes returns the types of device that objects of this type can use.
func (t ObjectType) DeviceTypes() []HWDeviceType {
	info, _ := t.info()
	return info.DeviceTypes
}

// AcceptsDeviceType returns true if objects of this type can use
// a device of given type.
func (t ObjectType) AcceptsDeviceType(dt HWDeviceType) bool {
	for _, x := range t.DeviceTypes() {
		if x == dt {
			return true
		}
	}
	return false
}

// IsSensor returns true for object types that produce readings.
func (t ObjectType) IsSensor() bool {
	info, _ := t.info()
	return info.Sensor
}

// Validate the given type, returning nil on ok,
// or an error upon validation issues.
func (t ObjectType) Validate() error {
	if _, found := t.info(); found {
		return nil
	}
	return errors.Wrapf(ValidationError, "invalid object type '%s'", string(t))
}

// Validate the given configuration, returning nil on ok,
// or an error upon validation issues.
func (o Object) Validate() error {
	if o.ID == "" {
		return errors.Wrap(ValidationError, "ID is empty")
	}
	if err := o.Type.Validate(); err != nil {
		return errors.Wrapf(ValidationError, "Error in Type of '%s': %s", o.ID, err.Error())
	}
	if o.Device == "" {
		return errors.Wrapf(ValidationError, "Device of '%s' is empty", o.ID)
	}
	if o.Type == ObjectTypeAnalogSensor && o.Channel == "" {
		return errors.Wrapf(ValidationError, "Channel of '%s' is empty", o.ID)
	}
	if o.Interval < 0 {
		return errors.Wrapf(ValidationError, "Interval of '%s' is negative", o.ID)
	}
	return nil
}

// ScaleOrDefault returns the scale, 1 when not set.
func (o Object) ScaleOrDefault() float64 {
	if o.Scale == 0 {
		return 1
	}
	return o.Scale
}
