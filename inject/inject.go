// Package inject builds the JavaScript janus places into surfaces: the
// listener bundle that forwards FidesJS lifecycle events over the bridge
// channel, and the snippets evaluated on demand.
//
// All generated code degrades to a no-op when window.Fides is absent.
package inject

import (
	"bytes"
	"encoding/json"
	"text/template"

	"github.com/teranos/janus/errors"
	"github.com/teranos/janus/wire"
)

var listenerTemplate = template.Must(template.New("listener").Parse(`(function() {
  var channel = {{.Channel}};
  var guard = "__janusListener_" + channel;
  if (window[guard]) { return; }
  window[guard] = true;

  var fidesEvents = {{.Events}};
  var refreshing = {{.Refreshing}};

  function post(message) {
    try {
      var handlers = window.webkit && window.webkit.messageHandlers;
      if (handlers && handlers[channel]) {
        handlers[channel].postMessage(message);
        return;
      }
      if (typeof window[channel] === "function") {
        window[channel](JSON.stringify(message));
      }
    } catch (e) {}
  }

  function consentValues() {
    var fides = window.Fides;
    if (!fides || !fides.consent) { return null; }
    return { consent: fides.consent, fides_string: fides.fides_string || "" };
  }

  function install() {
    fidesEvents.forEach(function(eventType) {
      window.addEventListener(eventType, function(event) {
        post({ type: eventType, data: event.detail || {} });
        if (refreshing.indexOf(eventType) !== -1) {
          var values = consentValues();
          if (values) {
            post({ type: {{.ConsentValuesType}}, data: values });
          }
        }
      });
    });
  }

  if (document.readyState === "loading") {
    document.addEventListener("DOMContentLoaded", install);
  } else {
    install();
  }
})();`))

const querySnippet = `(function() {
  try {
    var fides = window.Fides;
    if (!fides) { return { consent: {}, fides_string: "" }; }
    return { consent: fides.consent || {}, fides_string: fides.fides_string || "" };
  } catch (e) {
    return { consent: {}, fides_string: "" };
  }
})()`

const showModalSnippet = `(function() {
  if (window.Fides && typeof window.Fides.showModal === "function") {
    window.Fides.showModal();
    return true;
  }
  return false;
})()`

// ListenerBundle returns the listener script for the named channel. The
// script is safe to run more than once per window.
func ListenerBundle(channel string) string {
	events := wire.LifecycleNames()
	var refreshing []wire.EventName
	for _, name := range events {
		if wire.RefreshesConsent(name) {
			refreshing = append(refreshing, name)
		}
	}

	var buf bytes.Buffer
	err := listenerTemplate.Execute(&buf, map[string]string{
		"Channel":           jsLiteral(channel),
		"Events":            jsLiteral(events),
		"Refreshing":        jsLiteral(refreshing),
		"ConsentValuesType": jsLiteral(wire.ConsentValuesType),
	})
	if err != nil {
		// Template and data are fixed; this cannot fail at runtime
		panic(err)
	}
	return buf.String()
}

// QuerySnippet returns an expression evaluating to
// {consent: {...}, fides_string: "..."}. It never throws.
func QuerySnippet() string {
	return querySnippet
}

// ShowModalSnippet returns an expression that opens the FidesJS modal when
// available and evaluates to whether it did.
func ShowModalSnippet() string {
	return showModalSnippet
}

// DecodeQueryResult parses the value produced by QuerySnippet.
// Missing or malformed fields become empty values.
func DecodeQueryResult(raw json.RawMessage) (wire.ConsentValuesReport, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil || probe == nil {
		return wire.ConsentValuesReport{}, errors.Newf("query result is not an object: %.64s", string(raw))
	}

	envelope, err := json.Marshal(map[string]interface{}{
		"type": wire.ConsentValuesType,
		"data": raw,
	})
	if err != nil {
		return wire.ConsentValuesReport{}, errors.Wrap(err, "failed to wrap query result")
	}

	ev, err := wire.Decode(envelope)
	if err != nil {
		return wire.ConsentValuesReport{}, err
	}
	return ev.(wire.ConsentValuesReport), nil
}

// jsLiteral renders v as a JavaScript literal. JSON is a subset of JS
// expression syntax for the strings and arrays used here.
func jsLiteral(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
