package nightscout

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// RawDeviceStatus mirrors one /api/v1/devicestatus record. Loop uploads a
// "loop" section; OpenAPS, AndroidAPS and iAPS upload "openaps".
type RawDeviceStatus struct {
	ID        string       `json:"_id"`
	CreatedAt string       `json:"created_at"`
	Device    string       `json:"device"`
	Pump      *RawPump     `json:"pump,omitempty"`
	Uploader  *RawUploader `json:"uploader,omitempty"`
	Loop      *RawLoop     `json:"loop,omitempty"`
	OpenAPS   *RawOpenAPS  `json:"openaps,omitempty"`
	Override  *RawOverride `json:"override,omitempty"`
}

// RawPump is the pump section.
type RawPump struct {
	Clock     string   `json:"clock"`
	Reservoir *float64 `json:"reservoir"`
	Battery   *struct {
		Percent *float64 `json:"percent"`
	} `json:"battery,omitempty"`
}

// RawUploader is the phone/uploader section.
type RawUploader struct {
	Battery *float64 `json:"battery"`
}

// RawEnacted is an enacted temp basal or SMB. iAPS spells "received" as
// "recieved"; both spellings are accepted.
type RawEnacted struct {
	Timestamp string   `json:"timestamp"`
	Rate      *float64 `json:"rate"`
	Duration  *float64 `json:"duration"`
	Recieved  *bool    `json:"recieved"`
	Received  *bool    `json:"received"`
}

// NotReceived reports whether the pump explicitly rejected the command.
func (e *RawEnacted) NotReceived() bool {
	if e == nil {
		return false
	}
	if e.Recieved != nil {
		return !*e.Recieved
	}
	return e.Received != nil && !*e.Received
}

// RawTempBasal is a recommended temp basal.
type RawTempBasal struct {
	Timestamp string   `json:"timestamp"`
	Rate      *float64 `json:"rate"`
	Duration  *float64 `json:"duration"`
}

// RawLoop is the section uploaded by Loop.
type RawLoop struct {
	Timestamp     string          `json:"timestamp"`
	FailureReason json.RawMessage `json:"failureReason,omitempty"`
	Enacted       *RawEnacted     `json:"enacted,omitempty"`
	IOB           *struct {
		IOB *float64 `json:"iob"`
	} `json:"iob,omitempty"`
	COB *struct {
		COB *float64 `json:"cob"`
	} `json:"cob,omitempty"`
	Predicted *struct {
		StartDate string    `json:"startDate"`
		Values    []float64 `json:"values"`
	} `json:"predicted,omitempty"`
	RecommendedBolus     *float64      `json:"recommendedBolus"`
	RecommendedTempBasal *RawTempBasal `json:"recommendedTempBasal,omitempty"`
}

// RawOpenAPS is the section uploaded by OpenAPS-family systems.
type RawOpenAPS struct {
	FailureReason        json.RawMessage `json:"failureReason,omitempty"`
	IOB                  json.RawMessage `json:"iob,omitempty"`
	Suggested            *RawSuggested   `json:"suggested,omitempty"`
	Enacted              *RawEnacted     `json:"enacted,omitempty"`
	RecommendedTempBasal *RawTempBasal   `json:"recommendedTempBasal,omitempty"`
}

// RawSuggested is the determine-basal suggestion.
type RawSuggested struct {
	Timestamp        string               `json:"timestamp"`
	COB              *float64             `json:"COB"`
	InsulinReq       *float64             `json:"insulinReq"`
	SensitivityRatio *float64             `json:"sensitivityRatio"`
	TDD              *float64             `json:"TDD"`
	ISF              *float64             `json:"ISF"`
	CR               *float64             `json:"CR"`
	CurrentTarget    *float64             `json:"current_target"`
	CarbsReq         *float64             `json:"carbsReq"`
	MinGuardBG       *float64             `json:"minGuardBG"`
	Units            *float64             `json:"units"`
	EventualBG       *float64             `json:"eventualBG"`
	PredBGs          map[string][]float64 `json:"predBGs,omitempty"`
}

// RawOverride is Loop's active override section.
type RawOverride struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// System identifies which closed-loop implementation uploaded a record.
type System string

const (
	SystemLoop    System = "loop"
	SystemOpenAPS System = "openaps"
)

// LoopState summarises what the last loop run did.
type LoopState int

const (
	LoopUnknown LoopState = iota
	// Looping means the last run completed and its result was applied.
	Looping
	// OpenLoop means a temp basal was recommended after the last BG but not enacted.
	OpenLoop
	// Failed means the loop reported a failure reason.
	Failed
	// NotEnacted means the pump did not receive the enacted command.
	NotEnacted
	// NotLooping means the last run is older than the not-looping threshold.
	NotLooping
)

func (s LoopState) String() string {
	switch s {
	case Looping:
		return "looping"
	case OpenLoop:
		return "open_loop"
	case Failed:
		return "failed"
	case NotEnacted:
		return "not_enacted"
	case NotLooping:
		return "not_looping"
	default:
		return "unknown"
	}
}

// Symbol is the one-glyph status shown next to the glucose value.
func (s LoopState) Symbol() string {
	switch s {
	case Looping:
		return "↻"
	case OpenLoop:
		return "⏀"
	case Failed:
		return "X"
	case NotEnacted:
		return "᮰"
	case NotLooping:
		return "⚠"
	default:
		return "?"
	}
}

// MarshalText renders the state name in JSON.
func (s LoopState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name, so cached snapshots round-trip.
func (s *LoopState) UnmarshalText(b []byte) error {
	for st := LoopUnknown; st <= NotLooping; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	*s = LoopUnknown
	return nil
}

// PredictionInterval is the spacing between prediction points.
const PredictionInterval = 5 * time.Minute

// maxPredictionMgdl drops saturated prediction values.
const maxPredictionMgdl = 600

// PredictionPoint is one forecast value in mg/dL.
type PredictionPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Prediction curve names. Loop uploads a single curve; OpenAPS-family
// systems upload one per model.
const (
	PredLoop = "loop"
	PredCOB  = "COB"
	PredUAM  = "UAM"
	PredIOB  = "IOB"
	PredZT   = "ZT"
)

// PredictionCurves lists the OpenAPS curves in display order.
var PredictionCurves = []string{PredCOB, PredUAM, PredIOB, PredZT}

// DeviceStatus is the parsed, system-independent view of a device status
// record. Glucose values are mg/dL. Nil pointers mean "not reported".
type DeviceStatus struct {
	System   System    `json:"system"`
	Device   string    `json:"device,omitempty"`
	LoopTime time.Time `json:"loop_time"`
	State    LoopState `json:"state"`
	// Failed records a failure reported by the loop itself. It survives
	// State becoming NotLooping when the record ages.
	Failed  bool `json:"failed,omitempty"`
	Enacted bool `json:"enacted"`

	IOB              *float64 `json:"iob,omitempty"`
	COB              *float64 `json:"cob,omitempty"`
	RecommendedBolus *float64 `json:"recommended_bolus,omitempty"`
	TempBasalRate    *float64 `json:"temp_basal_rate,omitempty"`
	InsulinReq       *float64 `json:"insulin_req,omitempty"`
	CarbsReq         *float64 `json:"carbs_req,omitempty"`
	SensitivityRatio *float64 `json:"sensitivity_ratio,omitempty"`
	TDD              *float64 `json:"tdd,omitempty"`
	ISF              *float64 `json:"isf,omitempty"`
	CR               *float64 `json:"cr,omitempty"`
	CurrentTarget    *float64 `json:"current_target,omitempty"`
	MinGuardBG       *float64 `json:"min_guard_bg,omitempty"`
	LastSMBUnits     *float64 `json:"last_smb_units,omitempty"`
	EventualBG       *float64 `json:"eventual_bg,omitempty"`

	SuggestedAt time.Time `json:"suggested_at,omitzero"`

	Predictions map[string][]PredictionPoint `json:"predictions,omitempty"`
	PredMin     *float64                     `json:"pred_min,omitempty"`
	PredMax     *float64                     `json:"pred_max,omitempty"`

	PumpClock time.Time `json:"pump_clock,omitzero"`
	// Reservoir is nil when the pump reports more than it can measure
	// (Omnipod reports nothing above 50U).
	Reservoir *float64 `json:"reservoir,omitempty"`
	Battery   *float64 `json:"battery,omitempty"`
	Override  string   `json:"override,omitempty"`
}

// ParseOptions supplies the context ParseDeviceStatus needs.
type ParseOptions struct {
	// LastBGTime is the newest glucose reading; zero uses the loop time.
	LastBGTime time.Time
	// Now is the evaluation time; zero uses time.Now().
	Now time.Time
	// NotLoopingAfter marks a loop older than this as NotLooping; zero
	// uses 15 minutes.
	NotLoopingAfter time.Duration
}

// ParseDeviceStatus turns a raw record into a DeviceStatus. Records without a
// loop or openaps section yield ErrNoDeviceStatus.
func ParseDeviceStatus(raw RawDeviceStatus, opts ParseOptions) (*DeviceStatus, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.NotLoopingAfter <= 0 {
		opts.NotLoopingAfter = 15 * time.Minute
	}

	ds := &DeviceStatus{Device: raw.Device}
	parsePump(raw, ds)
	if raw.Override != nil && raw.Override.Active {
		ds.Override = raw.Override.Name
	}

	var err error
	switch {
	case raw.Loop != nil:
		err = parseLoop(raw.Loop, ds, opts)
	case raw.OpenAPS != nil:
		err = parseOpenAPS(raw.CreatedAt, raw.OpenAPS, ds, opts)
	default:
		return nil, ErrNoDeviceStatus
	}
	if err != nil {
		return nil, err
	}

	if opts.Now.Sub(ds.LoopTime) > opts.NotLoopingAfter {
		ds.State = NotLooping
	}
	return ds, nil
}

func parsePump(raw RawDeviceStatus, ds *DeviceStatus) {
	if raw.Pump == nil {
		return
	}
	if t, err := ParseTime(raw.Pump.Clock); err == nil {
		ds.PumpClock = t
	}
	ds.Reservoir = raw.Pump.Reservoir
	if raw.Uploader != nil && raw.Uploader.Battery != nil {
		ds.Battery = raw.Uploader.Battery
	} else if raw.Pump.Battery != nil {
		ds.Battery = raw.Pump.Battery.Percent
	}
}

func parseLoop(l *RawLoop, ds *DeviceStatus, opts ParseOptions) error {
	ds.System = SystemLoop
	t, err := ParseTime(l.Timestamp)
	if err != nil {
		return fmt.Errorf("nightscout: parse loop timestamp: %w", err)
	}
	ds.LoopTime = t

	if present(l.FailureReason) {
		ds.State, ds.Failed = Failed, true
		return nil
	}

	ds.Enacted = l.Enacted != nil
	if l.Enacted != nil {
		ds.TempBasalRate = l.Enacted.Rate
	}
	if l.IOB != nil {
		ds.IOB = l.IOB.IOB
	}
	if l.COB != nil {
		ds.COB = l.COB.COB
	}
	if l.Predicted != nil && len(l.Predicted.Values) > 0 {
		vals := l.Predicted.Values
		ds.Predictions = map[string][]PredictionPoint{PredLoop: predictionPoints(t, vals)}
		last := vals[len(vals)-1]
		ds.EventualBG = &last
		ds.PredMin, ds.PredMax = minMax(vals)
	}
	ds.RecommendedBolus = l.RecommendedBolus
	ds.State = tempBasalState(l.RecommendedTempBasal, ds.Enacted, t, opts.LastBGTime)
	return nil
}

func parseOpenAPS(createdAt string, o *RawOpenAPS, ds *DeviceStatus, opts ParseOptions) error {
	ds.System = SystemOpenAPS
	t, err := ParseTime(createdAt)
	if err != nil {
		return fmt.Errorf("nightscout: parse created_at: %w", err)
	}
	ds.LoopTime = t

	if present(o.FailureReason) {
		ds.State, ds.Failed = Failed, true
		return nil
	}

	ds.Enacted = o.Enacted != nil
	if o.Enacted != nil {
		ds.TempBasalRate = o.Enacted.Rate
	}
	ds.IOB = openAPSIOB(o.IOB)

	if s := o.Suggested; s != nil {
		ds.COB = s.COB
		ds.InsulinReq = s.InsulinReq
		ds.SensitivityRatio = s.SensitivityRatio
		ds.TDD = s.TDD
		ds.ISF = s.ISF
		ds.CR = s.CR
		ds.CurrentTarget = s.CurrentTarget
		ds.CarbsReq = s.CarbsReq
		ds.MinGuardBG = s.MinGuardBG
		ds.LastSMBUnits = s.Units
		ds.EventualBG = s.EventualBG
		if st, err := ParseTime(s.Timestamp); err == nil {
			ds.SuggestedAt = st
		}

		var all []float64
		for _, name := range PredictionCurves {
			vals, ok := s.PredBGs[name]
			if !ok || len(vals) == 0 {
				continue
			}
			if ds.Predictions == nil {
				ds.Predictions = make(map[string][]PredictionPoint)
			}
			ds.Predictions[name] = predictionPoints(t, vals)
			all = append(all, vals...)
		}
		if len(all) > 0 {
			ds.PredMin, ds.PredMax = minMax(all)
		}
	}

	switch {
	case o.RecommendedTempBasal != nil:
		ds.State = tempBasalState(o.RecommendedTempBasal, ds.Enacted, t, opts.LastBGTime)
	case o.Enacted.NotReceived():
		ds.State = NotEnacted
	default:
		ds.State = Looping
	}
	return nil
}

// tempBasalState applies the open-loop rule: a recommendation newer than the
// last BG that was not enacted means the loop is open.
func tempBasalState(rec *RawTempBasal, enacted bool, loopTime, lastBG time.Time) LoopState {
	if rec == nil {
		return Looping
	}
	recAt, err := ParseTime(rec.Timestamp)
	if err != nil {
		return Looping
	}
	if lastBG.IsZero() {
		lastBG = loopTime
	}
	if recAt.After(lastBG) && !enacted {
		return OpenLoop
	}
	return Looping
}

// openAPSIOB reads iob as either an object or the array some uploaders send.
func openAPSIOB(raw json.RawMessage) *float64 {
	if !present(raw) {
		return nil
	}
	var obj struct {
		IOB *float64 `json:"iob"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.IOB
	}
	var arr []struct {
		IOB *float64 `json:"iob"`
	}
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > 0 {
		return arr[0].IOB
	}
	return nil
}

// predictionPoints spaces values PredictionInterval apart starting at from.
// Values above 600 mg/dL are skipped but still consume their slot.
func predictionPoints(from time.Time, vals []float64) []PredictionPoint {
	pts := make([]PredictionPoint, 0, len(vals))
	at := from
	for _, v := range vals {
		r := math.Round(v)
		if r <= maxPredictionMgdl {
			pts = append(pts, PredictionPoint{Time: at, Value: r})
		}
		at = at.Add(PredictionInterval)
	}
	return pts
}

func minMax(vals []float64) (*float64, *float64) {
	if len(vals) == 0 {
		return nil, nil
	}
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	lo, hi := s[0], s[len(s)-1]
	return &lo, &hi
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
}

// ParseTime accepts the ISO-8601 variants Nightscout uploaders emit.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
