package models

import (
	"sort"
	"strings"
	"time"
)

// Flattened wire-key suffixes.
const (
	suffixDate         = " Date"
	suffixBarcode      = " Barcode"
	suffixManufacturer = " Manufacturer"
)

// SubstanceObservation is what was recorded for one concept during a visit.
type SubstanceObservation struct {
	AdministeredDate time.Time `json:"administered_date,omitempty"`
	BarcodeID        string    `json:"barcode_id,omitempty"`
	Manufacturer     string    `json:"manufacturer,omitempty"`
	FreeValue        string    `json:"free_value,omitempty"`
}

func (o SubstanceObservation) isEmpty() bool {
	return o.AdministeredDate.IsZero() && o.BarcodeID == "" && o.Manufacturer == "" && o.FreeValue == ""
}

// Observations maps a concept name to its recorded observation.
type Observations map[string]SubstanceObservation

// Has reports whether concept has a non-empty observation.
func (o Observations) Has(concept string) bool {
	obs, ok := o[concept]
	return ok && !obs.isEmpty()
}

// Concepts returns the observed concept names, sorted.
func (o Observations) Concepts() []string {
	out := make([]string, 0, len(o))
	for c, obs := range o {
		if !obs.isEmpty() {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// EncodeObservations flattens typed observations into "<concept> <suffix>" keys.
// A free value is stored under the bare concept name.
func EncodeObservations(obs Observations) map[string]string {
	out := make(map[string]string)
	for concept, o := range obs {
		if !o.AdministeredDate.IsZero() {
			out[concept+suffixDate] = o.AdministeredDate.Format(time.DateOnly)
		}
		if o.BarcodeID != "" {
			out[concept+suffixBarcode] = o.BarcodeID
		}
		if o.Manufacturer != "" {
			out[concept+suffixManufacturer] = o.Manufacturer
		}
		if o.FreeValue != "" {
			out[concept] = o.FreeValue
		}
	}
	return out
}

// DecodeObservations reverses EncodeObservations. Unparseable dates are kept as free values
// of the "<concept> Date" key so no recorded data is dropped.
func DecodeObservations(flat map[string]string) Observations {
	out := make(Observations)
	set := func(concept string, fn func(*SubstanceObservation)) {
		o := out[concept]
		fn(&o)
		out[concept] = o
	}
	for key, value := range flat {
		switch {
		case strings.HasSuffix(key, suffixDate):
			concept := strings.TrimSuffix(key, suffixDate)
			d, err := time.Parse(time.DateOnly, value)
			if err != nil {
				set(key, func(o *SubstanceObservation) { o.FreeValue = value })
				continue
			}
			set(concept, func(o *SubstanceObservation) { o.AdministeredDate = d })
		case strings.HasSuffix(key, suffixBarcode):
			set(strings.TrimSuffix(key, suffixBarcode), func(o *SubstanceObservation) { o.BarcodeID = value })
		case strings.HasSuffix(key, suffixManufacturer):
			set(strings.TrimSuffix(key, suffixManufacturer), func(o *SubstanceObservation) { o.Manufacturer = value })
		default:
			set(key, func(o *SubstanceObservation) { o.FreeValue = value })
		}
	}
	return out
}
