package yanzi

import (
	"encoding/json"
	"time"
)

// Kind is the entity platform a data source maps to.
type Kind string

const (
	KindSensor       Kind = "sensor"
	KindBinarySensor Kind = "binary_sensor"
	KindSwitch       Kind = "switch"

	// KindIgnored sources are catalogued but never exposed.
	KindIgnored Kind = ""
)

// Device lifecycle states as reported by Cirrus.
const (
	LifeCyclePresent = "present"
	LifeCycleShadow  = "shadow"
)

// Entity categories.
const (
	CategoryDiagnostic = "diagnostic"
)

// State classes for sensors.
const (
	StateClassMeasurement     = "measurement"
	StateClassTotalIncreasing = "total_increasing"
)

// motionWindow is how long after the last motion a motion sensor stays on.
const motionWindow = 60 * time.Second

var deviceClasses = map[string]string{
	"temperatureC":            "temperature",
	"temperatureK":            "temperature",
	"relativeHumidity":        "humidity",
	"carbonDioxide":           "carbon_dioxide",
	"volatileOrganicCompound": "volatile_organic_compounds",
	"pressure":                "pressure",
	"illuminance":             "illuminance",
	"battery":                 "battery",
	"totalpowerInst":          "power",
	"totalEnergy":             "energy",
	"motion":                  "motion",
	"uplog":                   "connectivity",
	"siteOnlineStatus":        "connectivity",
	"upsState":                "battery",
}

var siUnits = map[string]string{
	"NA":      "",
	"celsius": "°C",
	"kelvin":  "K",
	"percent": "%",
	"mlux":    "mlx",
	"watt":    "W",
	"mWs":     "Wh",
}

var unitByVariable = map[string]string{
	"battery": "%",
}

var diagnosticVariables = map[string]bool{
	"uplog":            true,
	"battery":          true,
	"statistics":       true,
	"positionLog":      true,
	"siteOnlineStatus": true,
}

var disabledVariables = map[string]bool{
	"statistics":  true,
	"positionLog": true,
	"upsState":    true,
}

// KindOf returns the entity kind for a variable name.
func KindOf(variable string) Kind {
	switch variable {
	case "uplog", "motion":
		return KindBinarySensor
	case "onOffOutput":
		return KindSwitch
	case "onOffTransition":
		return KindIgnored
	default:
		return KindSensor
	}
}

// DeviceClass returns the device class for variable, or "".
func DeviceClass(variable string) string {
	return deviceClasses[variable]
}

// Unit returns the unit of measurement for a sensor.
func Unit(variable, siUnit string) string {
	if u, ok := unitByVariable[variable]; ok {
		return u
	}
	if u, ok := siUnits[siUnit]; ok {
		return u
	}
	return siUnit
}

// Category returns CategoryDiagnostic for housekeeping variables, else "".
func Category(variable string) string {
	if diagnosticVariables[variable] {
		return CategoryDiagnostic
	}
	return ""
}

// EnabledByDefault reports whether the entity should be enabled on creation.
func EnabledByDefault(variable string) bool {
	return !disabledVariables[variable]
}

// StateClass returns the sensor state class.
func StateClass(variable string) string {
	if variable == "totalEnergy" {
		return StateClassTotalIncreasing
	}
	return StateClassMeasurement
}

// decodeSample unmarshals a sample into a generic object. A missing, null or
// non-object sample yields nil.
func decodeSample(sample json.RawMessage) map[string]any {
	if len(sample) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(sample, &m); err != nil {
		return nil
	}
	return m
}

// lookup walks nested objects along path.
func lookup(m map[string]any, path ...string) (any, bool) {
	var cur any = m
	for _, p := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func lookupString(m map[string]any, path ...string) string {
	v, _ := lookup(m, path...)
	s, _ := v.(string)
	return s
}

func lookupNumber(m map[string]any, path ...string) (float64, bool) {
	v, _ := lookup(m, path...)
	f, ok := v.(float64)
	return f, ok
}

// SensorState derives the displayed state of a sensor from its latest
// sample. It returns nil when nothing can be derived.
func SensorState(variable string, sample json.RawMessage) any {
	m := decodeSample(sample)
	if m == nil {
		return nil
	}

	switch variable {
	case "up":
		if s := lookupString(m, "deviceUpState", "name"); s != "" {
			return s
		}
		return nil
	case "positionLog":
		lon, ok1 := lookup(m, "longitude")
		lat, ok2 := lookup(m, "latitude")
		if !ok1 || !ok2 {
			return nil
		}
		return []any{lon, lat}
	case "battery":
		if f, ok := lookupNumber(m, "percentFull"); ok {
			return int(f)
		}
		return nil
	case "soundPressureLevel":
		return m["max"]
	case "totalpowerInst":
		return m["instantPower"]
	case "totalEnergy":
		// mWs to Wh
		if f, ok := lookupNumber(m, "totalEnergy"); ok {
			return f / (3600 * 1000)
		}
		return nil
	}

	if v, ok := m["value"]; ok {
		return v
	}
	if v, ok := m[variable]; ok {
		return v
	}
	return nil
}

// BinaryState derives the on/off state of a binary sensor at time now.
// It returns nil when the sample is missing or the variable is not binary.
func BinaryState(variable string, sample json.RawMessage, now time.Time) *bool {
	m := decodeSample(sample)
	if m == nil {
		return nil
	}

	var on bool
	switch variable {
	case "motion":
		last, ok := lookupNumber(m, "timeLastMotion")
		if !ok {
			return nil
		}
		on = last/1000 > float64(now.Add(-motionWindow).UnixMilli())/1000
	case "uplog":
		on = isUp(lookupString(m, "deviceUpState", "name"))
	default:
		return nil
	}
	return &on
}

// SwitchState derives the on/off state of a switch.
func SwitchState(sample json.RawMessage) *bool {
	m := decodeSample(sample)
	if m == nil {
		return nil
	}
	on := lookupString(m, "value", "name") == "on"
	return &on
}

func isUp(state string) bool {
	return state == "up" || state == "goingUp"
}

// LifeCycleFromUplog returns the device lifecycle implied by an uplog
// sample, and false if the sample has no deviceUpState.
func LifeCycleFromUplog(sample json.RawMessage) (string, bool) {
	m := decodeSample(sample)
	if m == nil {
		return "", false
	}
	state, ok := lookup(m, "deviceUpState", "name")
	if !ok {
		return "", false
	}
	if s, _ := state.(string); isUp(s) {
		return LifeCyclePresent, true
	}
	return LifeCycleShadow, true
}

// DeviceInfo describes the physical device behind an entity.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// Entity is a point-in-time view of one exposed data source.
type Entity struct {
	UniqueID         string     `json:"unique_id"`
	Name             string     `json:"name"`
	Kind             Kind       `json:"kind"`
	DeviceClass      string     `json:"device_class,omitempty"`
	Category         string     `json:"entity_category,omitempty"`
	EnabledByDefault bool       `json:"enabled_by_default"`
	StateClass       string     `json:"state_class,omitempty"`
	Unit             string     `json:"unit,omitempty"`
	State            any        `json:"state"`
	Available        bool       `json:"available"`
	Attributes       any        `json:"attributes,omitempty"`
	Device           DeviceInfo `json:"device"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// newEntity builds the view of src. lifeCycle is the device's current
// lifecycle state.
func newEntity(src Source, lifeCycle string, catalog *Catalog, updatedAt time.Time, now time.Time) Entity {
	kind := KindOf(src.Variable)

	e := Entity{
		UniqueID:         src.Key,
		Name:             src.DeviceName + " " + src.Variable,
		Kind:             kind,
		DeviceClass:      DeviceClass(src.Variable),
		Category:         Category(src.Variable),
		EnabledByDefault: EnabledByDefault(src.Variable),
		Available:        lifeCycle != LifeCycleShadow,
		Device: DeviceInfo{
			Identifiers:  []string{src.DeviceKey, src.DeviceDID},
			Name:         src.DeviceName,
			Manufacturer: catalog.Manufacturer(),
			Model:        catalog.Model(src.ProductType),
			SWVersion:    src.Version,
			ViaDevice:    src.ServerDID,
		},
	}
	if !updatedAt.IsZero() {
		e.UpdatedAt = &updatedAt
	}

	switch kind {
	case KindSensor:
		e.State = SensorState(src.Variable, src.Latest)
		e.StateClass = StateClass(src.Variable)
		e.Unit = Unit(src.Variable, src.SIUnit)
	case KindBinarySensor:
		e.State = BinaryState(src.Variable, src.Latest, now)
	case KindSwitch:
		e.State = SwitchState(src.Latest)
	}

	if src.HasSample() {
		e.Attributes = attributes(src)
	}
	return e
}

// attributes returns the decoded radio statistics for statistics sensors and
// the raw sample for everything else.
func attributes(src Source) any {
	if src.Variable == "statistics" {
		if st, err := DecodeStatistics(lookupString(decodeSample(src.Latest), "value")); err == nil {
			return st
		}
	}
	return src.Latest
}
