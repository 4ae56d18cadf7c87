package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "no detail",
			raw:  `{"type":"FidesInitializing"}`,
			want: "FidesJS Event: FidesInitializing",
		},
		{
			name: "empty detail has no data line",
			raw:  `{"type":"FidesUIShown","data":{}}`,
			want: "FidesJS Event: FidesUIShown",
		},
		{
			name: "field order and sorted consent",
			raw: `{"type":"FidesUpdated","data":{
				"extraDetails":{"consentMethod":"accept","servingComponent":"banner"},
				"fides_string":"xyz",
				"consent":{"marketing":false,"analytics":true},
				"source":"banner"}}`,
			want: "FidesJS Event: FidesUpdated\nData: source: banner, consent: {analytics: true, marketing: false}, fides_string: xyz, extraDetails: {servingComponent: banner, consentMethod: accept}",
		},
		{
			name: "extraDetails sub-fields only when present",
			raw:  `{"type":"FidesInitialized","data":{"extraDetails":{"shouldShowExperience":false}}}`,
			want: "FidesJS Event: FidesInitialized\nData: extraDetails: {shouldShowExperience: false}",
		},
		{
			name: "empty extraDetails is omitted",
			raw:  `{"type":"FidesUIChanged","data":{"extraDetails":{}}}`,
			want: "FidesJS Event: FidesUIChanged",
		},
		{
			name: "empty consent map is shown",
			raw:  `{"type":"FidesUpdating","data":{"consent":{}}}`,
			want: "FidesJS Event: FidesUpdating\nData: consent: {}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.(LifecycleEvent).Describe())
		})
	}
}

func TestFormatConsent(t *testing.T) {
	assert.Equal(t, "{}", FormatConsent(nil))
	assert.Equal(t, "{a: true, b: false}", FormatConsent(map[string]bool{"b": false, "a": true}))
}
