package wire

import (
	"encoding/json"
	"fmt"

	"github.com/teranos/janus/errors"
)

// DecodeError describes a message that cannot be mapped to an InboundEvent.
// It matches errors.ErrProtocolAnomaly.
type DecodeError struct {
	Reason string
	Type   string // raw discriminator when one was present
}

func (e *DecodeError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("protocol anomaly: %s (type %q)", e.Reason, e.Type)
	}
	return "protocol anomaly: " + e.Reason
}

// Unwrap exposes the ProtocolAnomaly sentinel.
func (e *DecodeError) Unwrap() error { return errors.ErrProtocolAnomaly }

// Decode maps a raw channel message to an InboundEvent.
func Decode(raw []byte) (InboundEvent, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope == nil {
		return nil, &DecodeError{Reason: "payload is not a JSON object"}
	}

	rawType, ok := envelope["type"]
	if !ok {
		return nil, &DecodeError{Reason: "missing type"}
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil {
		return nil, &DecodeError{Reason: "type is not a string"}
	}

	data := decodeObject(envelope["data"])

	if typ == ConsentValuesType {
		report := ConsentValuesReport{Consent: decodeConsent(data["consent"])}
		if report.Consent == nil {
			report.Consent = map[string]bool{}
		}
		if s := decodeString(data["fides_string"]); s != nil {
			report.FidesString = *s
		}
		return report, nil
	}

	name := EventName(typ)
	if !name.Valid() {
		return nil, &DecodeError{Reason: "unrecognized type", Type: typ}
	}

	ev := LifecycleEvent{Name: name}
	if data != nil {
		ev.Detail = decodeDetail(data)
	}
	return ev, nil
}

func decodeDetail(data map[string]json.RawMessage) *Detail {
	d := &Detail{
		Consent:     decodeConsent(data["consent"]),
		FidesString: decodeString(data["fides_string"]),
		Source:      decodeString(data["source"]),
	}

	if extra := decodeObject(data["extraDetails"]); extra != nil {
		d.Extra = &ExtraDetails{
			ServingComponent:     decodeString(extra["servingComponent"]),
			ShouldShowExperience: decodeBool(extra["shouldShowExperience"]),
			ConsentMethod:        decodeString(extra["consentMethod"]),
		}
	}

	for k, v := range data {
		switch k {
		case "consent", "fides_string", "source", "extraDetails":
			continue
		}
		if d.Passthrough == nil {
			d.Passthrough = make(map[string]json.RawMessage)
		}
		d.Passthrough[k] = v
	}
	return d
}

// decodeObject returns nil unless raw is a JSON object.
func decodeObject(raw json.RawMessage) map[string]json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// decodeConsent returns nil if raw is not an object of booleans.
// One non-boolean value invalidates the whole map.
func decodeConsent(raw json.RawMessage) map[string]bool {
	obj := decodeObject(raw)
	if obj == nil {
		return nil
	}
	out := make(map[string]bool, len(obj))
	for k, v := range obj {
		b := decodeBool(v)
		if b == nil {
			return nil
		}
		out[k] = *b
	}
	return out
}

func decodeString(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

func decodeBool(raw json.RawMessage) *bool {
	if len(raw) == 0 {
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil
	}
	return &b
}

// Encode renders an InboundEvent in the form Decode accepts.
func Encode(ev InboundEvent) ([]byte, error) {
	switch e := ev.(type) {
	case ConsentValuesReport:
		consent := e.Consent
		if consent == nil {
			consent = map[string]bool{}
		}
		return json.Marshal(map[string]interface{}{
			"type": ConsentValuesType,
			"data": map[string]interface{}{
				"consent":      consent,
				"fides_string": e.FidesString,
			},
		})
	case LifecycleEvent:
		msg := map[string]interface{}{"type": string(e.Name)}
		if e.Detail != nil {
			msg["data"] = encodeDetail(e.Detail)
		}
		return json.Marshal(msg)
	case nil:
		return nil, errors.New("cannot encode nil event")
	default:
		return nil, errors.Newf("unsupported event %T", ev)
	}
}

func encodeDetail(d *Detail) map[string]interface{} {
	data := make(map[string]interface{}, len(d.Passthrough)+4)
	for k, v := range d.Passthrough {
		data[k] = v
	}
	if d.Consent != nil {
		data["consent"] = d.Consent
	}
	if d.FidesString != nil {
		data["fides_string"] = *d.FidesString
	}
	if d.Source != nil {
		data["source"] = *d.Source
	}
	if d.Extra != nil {
		extra := map[string]interface{}{}
		if d.Extra.ServingComponent != nil {
			extra["servingComponent"] = *d.Extra.ServingComponent
		}
		if d.Extra.ShouldShowExperience != nil {
			extra["shouldShowExperience"] = *d.Extra.ShouldShowExperience
		}
		if d.Extra.ConsentMethod != nil {
			extra["consentMethod"] = *d.Extra.ConsentMethod
		}
		data["extraDetails"] = extra
	}
	return data
}
