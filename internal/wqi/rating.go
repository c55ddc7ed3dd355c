package wqi

import "math"

// Rating is the CCME descriptive category of an index value.
type Rating string

const (
	RatingExcellent Rating = "Excellent"
	RatingGood      Rating = "Good"
	RatingFair      Rating = "Fair"
	RatingMarginal  Rating = "Marginal"
	RatingPoor      Rating = "Poor"
	RatingUndefined Rating = "Undefined"
)

// RatingOf maps an index value onto the CCME categories.
func RatingOf(wqi float64) Rating {
	switch {
	case math.IsNaN(wqi):
		return RatingUndefined
	case wqi >= 95:
		return RatingExcellent
	case wqi >= 80:
		return RatingGood
	case wqi >= 65:
		return RatingFair
	case wqi >= 45:
		return RatingMarginal
	default:
		return RatingPoor
	}
}

// Band is the lower edge of each rating, highest first.
type Band struct {
	Rating Rating
	Min    float64
}

func Bands() []Band {
	return []Band{
		{RatingExcellent, 95},
		{RatingGood, 80},
		{RatingFair, 65},
		{RatingMarginal, 45},
		{RatingPoor, math.Inf(-1)},
	}
}
