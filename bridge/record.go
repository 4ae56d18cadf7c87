package bridge

import (
	"github.com/teranos/janus/surface"
)

// SurfaceID identifies a surface for the lifetime of a registry. Ids are
// assigned in increasing order and never reused.
type SurfaceID int

// Record is the host's view of one surface. It is owned by the loop that
// runs the bridge; read it through Clone anywhere else.
type Record struct {
	ID          SurfaceID
	Surface     surface.Surface
	EventCount  int
	Expanded    bool
	Events      []string
	Consent     map[string]bool
	FidesString string
	AutoSync    bool
	Anomalies   int
}

// Clone returns a deep copy without the surface handle.
func (r *Record) Clone() Record {
	out := Record{
		ID:          r.ID,
		EventCount:  r.EventCount,
		Expanded:    r.Expanded,
		FidesString: r.FidesString,
		AutoSync:    r.AutoSync,
		Anomalies:   r.Anomalies,
	}
	if r.Events != nil {
		out.Events = append([]string(nil), r.Events...)
	}
	out.Consent = copyConsent(r.Consent)
	return out
}

func copyConsent(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
