package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Descriptor is the desired configuration of one recurring governance run.
//
// Descriptors are constructed fresh from the desired-state source on every
// reconciliation pass and never mutated in place: a changed schedule is a new
// value compared against the remote state by content hash.
type Descriptor struct {
	ID         string         `json:"id"`
	Cron       string         `json:"cron"`
	TimeZone   string         `json:"timezone,omitempty"`
	Entrypoint string         `json:"entrypoint"`
	ModelID    string         `json:"model"`
	Input      map[string]any `json:"input,omitempty"`
}

// payloadModelKey is the key under which the model id is materialized into
// the input payload sent to the schedule store.
const payloadModelKey = "model_id"

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks that the descriptor is complete enough to be sent to the
// schedule store. A failing descriptor is a configuration error and must be
// rejected before any remote call is made.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("schedule id is required")
	}
	if strings.TrimSpace(d.Entrypoint) == "" {
		return fmt.Errorf("schedule %q: entrypoint is required", d.ID)
	}
	if strings.TrimSpace(d.ModelID) == "" {
		return fmt.Errorf("schedule %q: model is required", d.ID)
	}
	if strings.TrimSpace(d.Cron) == "" {
		return fmt.Errorf("schedule %q: cron expression is required", d.ID)
	}
	if _, err := cronParser.Parse(d.Cron); err != nil {
		return fmt.Errorf("schedule %q: invalid cron %q: %w", d.ID, d.Cron, err)
	}
	if tz := strings.TrimSpace(d.TimeZone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("schedule %q: invalid timezone %q: %w", d.ID, tz, err)
		}
	}
	return nil
}

// Location resolves the descriptor's timezone. Empty means UTC.
func (d Descriptor) Location() *time.Location {
	tz := strings.TrimSpace(d.TimeZone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Materialize returns the full input payload as it is written to the schedule
// store: the declared input plus the model id, which must always be explicit
// in the stored payload.
func (d Descriptor) Materialize() map[string]any {
	out := make(map[string]any, len(d.Input)+1)
	for k, v := range d.Input {
		out[k] = v
	}
	out[payloadModelKey] = d.ModelID
	return out
}
