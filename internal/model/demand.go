package model

import "sort"

// DemandKey identifies the units of one bundle a patient needs on one day.
type DemandKey struct {
	Bundle  int `json:"bundle" yaml:"bundle"`
	Patient int `json:"patient" yaml:"patient"`
	Day     int `json:"day" yaml:"day"`
}

// Demand is a sparse (bundle, patient, day) -> units table.
//
// Lookup contract: Get returns 0 for every key that was never set or was
// set to a non-positive value. Only positive entries are stored, so Len and
// Keys describe exactly the nonzero demand.
type Demand struct {
	units map[DemandKey]float64
}

// NewDemand returns an empty table.
func NewDemand() *Demand {
	return &Demand{units: make(map[DemandKey]float64)}
}

// Get returns the units for (s, i, t), or 0 when absent.
func (d *Demand) Get(s, i, t int) float64 {
	if d == nil {
		return 0
	}
	return d.units[DemandKey{Bundle: s, Patient: i, Day: t}]
}

// Set stores units for (s, i, t). A non-positive value removes the entry.
func (d *Demand) Set(s, i, t int, units float64) {
	k := DemandKey{Bundle: s, Patient: i, Day: t}
	if units <= 0 {
		delete(d.units, k)
		return
	}
	d.units[k] = units
}

// Len returns the number of nonzero entries.
func (d *Demand) Len() int {
	if d == nil {
		return 0
	}
	return len(d.units)
}

// Keys returns the nonzero keys ordered by patient, day, then bundle.
func (d *Demand) Keys() []DemandKey {
	if d == nil {
		return nil
	}
	keys := make([]DemandKey, 0, len(d.units))
	for k := range d.units {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		ka, kb := keys[a], keys[b]
		if ka.Patient != kb.Patient {
			return ka.Patient < kb.Patient
		}
		if ka.Day != kb.Day {
			return ka.Day < kb.Day
		}
		return ka.Bundle < kb.Bundle
	})
	return keys
}

// DailyTotal returns the units of all bundles patient i needs on day t.
func (d *Demand) DailyTotal(i, t int) float64 {
	if d == nil {
		return 0
	}
	var total float64
	for k, u := range d.units {
		if k.Patient == i && k.Day == t {
			total += u
		}
	}
	return total
}
