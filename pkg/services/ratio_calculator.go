package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
)

// ratioPlaces is the number of decimals stored for w/c and w/b.
const ratioPlaces = 2

var errBlankNumber = errors.New("blank value")

// ComponentDosage is the part of a mix component the ratio calculation needs.
type ComponentDosage struct {
	ClassCode      string
	Dosage         decimal.Decimal
	IsCementitious bool
}

// Ratios holds the derived ratios of one mix. Null means not computable.
type Ratios struct {
	WC decimal.NullDecimal
	WB decimal.NullDecimal
}

// ComputeRatios derives w/c = water / cement and
// w/b = water / (cement + cementitious SCM) from component dosages.
// A missing numerator or a zero denominator yields a null ratio.
// Results are rounded half away from zero to two places.
func ComputeRatios(components []ComponentDosage) Ratios {
	var water, cement, scm decimal.Decimal
	hasWater := false
	for _, c := range components {
		switch c.ClassCode {
		case models.ClassWater:
			water = water.Add(c.Dosage)
			hasWater = true
		case models.ClassCement:
			cement = cement.Add(c.Dosage)
		case models.ClassSCM:
			if c.IsCementitious {
				scm = scm.Add(c.Dosage)
			}
		}
	}

	var r Ratios
	if !hasWater {
		return r
	}
	if cement.IsPositive() {
		r.WC = decimal.NewNullDecimal(RoundRatio(water.Div(cement)))
	}
	if binder := cement.Add(scm); binder.IsPositive() {
		r.WB = decimal.NewNullDecimal(RoundRatio(water.Div(binder)))
	}
	return r
}

// RoundRatio rounds a ratio to the stored precision.
func RoundRatio(d decimal.Decimal) decimal.Decimal {
	return d.Round(ratioPlaces)
}

// ParseDecimal parses a numeric cell. Surrounding whitespace is ignored and a
// single decimal comma ("0,45") is accepted. A comma followed by exactly three
// digits after a non-zero integer part ("1,050") may be a thousands separator
// and is rejected. Blank cells return errBlankNumber.
func ParseDecimal(text string) (decimal.Decimal, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return decimal.Zero, errBlankNumber
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		intPart, frac, _ := strings.Cut(s, ",")
		if len(frac) == 3 && strings.Trim(strings.TrimLeft(intPart, "+-"), "0") != "" {
			return decimal.Zero, fmt.Errorf("ambiguous number %q: comma may be a thousands separator", text)
		}
		s = intPart + "." + frac
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number: %q", text)
	}
	return d, nil
}

// RatioBounds is the plausible w/c range used for warnings.
type RatioBounds struct {
	WCMin decimal.Decimal
	WCMax decimal.Decimal
}

// NewRatioBounds builds bounds from configuration values.
func NewRatioBounds(minWC, maxWC float64) RatioBounds {
	return RatioBounds{WCMin: decimal.NewFromFloat(minWC), WCMax: decimal.NewFromFloat(maxWC)}
}

// Check returns a validation warning for every implausible ratio.
func (b RatioBounds) Check(r Ratios) []string {
	var warnings []string
	if r.WC.Valid && (r.WC.Decimal.LessThan(b.WCMin) || r.WC.Decimal.GreaterThan(b.WCMax)) {
		warnings = append(warnings, fmt.Sprintf("w/c ratio %s outside expected range %s-%s",
			r.WC.Decimal.StringFixed(ratioPlaces), b.WCMin.StringFixed(ratioPlaces), b.WCMax.StringFixed(ratioPlaces)))
	}
	if r.WC.Valid && r.WB.Valid && r.WB.Decimal.GreaterThan(r.WC.Decimal) {
		warnings = append(warnings, fmt.Sprintf("w/b ratio %s greater than w/c ratio %s",
			r.WB.Decimal.StringFixed(ratioPlaces), r.WC.Decimal.StringFixed(ratioPlaces)))
	}
	return warnings
}
