package state

import (
	"strconv"
	"time"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/nightscout"
)

// Row is one line of the status table.
type Row struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Row names in display order.
const (
	RowIOB          = "IOB"
	RowCOB          = "COB"
	RowBasal        = "Basal"
	RowOverride     = "Override"
	RowBattery      = "Battery"
	RowReservoir    = "Reservoir"
	RowSensorChange = "Sensor change"
	RowPodChange    = "Pod change"
	RowRecBolus     = "Rec. bolus"
	RowMinMax       = "Min-Max"
	RowAutosens     = "Autosens"
	RowTDD          = "TDD"
	RowISF          = "ISF"
	RowCR           = "CR"
	RowTarget       = "Target"
	RowCarbsReq     = "Carbs req"
	RowUpdated      = "Updated"
)

const missing = "--"

// InfoRows renders the snapshot as the status table. Glucose-valued rows use
// units; every row is always present so the table keeps its shape.
func (s Snapshot) InfoRows(units string, now time.Time) []Row {
	ds := s.Loop
	if ds == nil {
		ds = &nightscout.DeviceStatus{}
	}
	bg := func(v *float64) string {
		if v == nil {
			return missing
		}
		return nightscout.FormatBG(*v, units)
	}

	rows := []Row{
		{RowIOB, num(ds.IOB, 2, "U")},
		{RowCOB, num(ds.COB, 0, "g")},
		{RowBasal, num(ds.TempBasalRate, 2, "U/h")},
		{RowOverride, orMissing(ds.Override)},
		{RowBattery, num(ds.Battery, 0, "%")},
		{RowReservoir, reservoir(s.Loop)},
		{RowSensorChange, missing},
		{RowPodChange, missing},
		{RowRecBolus, num(ds.RecommendedBolus, 2, "U")},
		{RowMinMax, missing},
		{RowAutosens, missing},
		{RowTDD, num(ds.TDD, 2, "U")},
		{RowISF, bg(ds.ISF)},
		{RowCR, num(ds.CR, 0, "g")},
		{RowTarget, bg(ds.CurrentTarget)},
		{RowCarbsReq, num(ds.CarbsReq, 0, "g")},
		{RowUpdated, missing},
	}

	if c := s.Careportal; c != nil {
		if c.Sensor != nil {
			rows[6].Value = c.Sensor.Remaining
		}
		if c.Site != nil {
			rows[7].Value = c.Site.Remaining
		}
		if ds.Override == "" && c.Override != nil {
			rows[3].Value = c.Override.Name
		}
	}
	if ds.PredMin != nil && ds.PredMax != nil {
		rows[9].Value = bg(ds.PredMin) + "-" + bg(ds.PredMax)
	}
	if ds.SensitivityRatio != nil {
		rows[10].Value = strconv.FormatFloat(*ds.SensitivityRatio*100, 'f', 0, 64) + "%"
	}
	if !ds.LoopTime.IsZero() {
		rows[16].Value = ds.LoopTime.Local().Format("15:04") + " (" + Ago(now.Sub(ds.LoopTime)) + ")"
	}
	return rows
}

// Ago renders an elapsed duration as "now", "4m" or "2h 5m".
func Ago(d time.Duration) string {
	if d < time.Minute {
		return "now"
	}
	m := int(d / time.Minute)
	if m < 60 {
		return strconv.Itoa(m) + "m"
	}
	return strconv.Itoa(m/60) + "h " + strconv.Itoa(m%60) + "m"
}

func num(v *float64, prec int, unit string) string {
	if v == nil {
		return missing
	}
	return strconv.FormatFloat(*v, 'f', prec, 64) + unit
}

func orMissing(s string) string {
	if s == "" {
		return missing
	}
	return s
}

// reservoir renders the pump reservoir. Pumps that cannot measure above
// 50U omit the value, which shows as "50+U".
func reservoir(ds *nightscout.DeviceStatus) string {
	if ds == nil {
		return missing
	}
	if ds.Reservoir == nil {
		if ds.PumpClock.IsZero() {
			return missing
		}
		return "50+U"
	}
	return strconv.FormatFloat(*ds.Reservoir, 'f', 0, 64) + "U"
}
