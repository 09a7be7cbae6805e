package engine

// NormalizeMargin maps user or spreadsheet input onto the stored fraction.
// Values >= 1.0 are percentages ("30" means 30%); values below 1.0 are
// already fractions. Negative input clamps to zero.
func NormalizeMargin(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v >= 1.0 {
		return v / 100
	}
	return v
}

// ExportMargin is the inverse mapping for export: fraction to percent.
func ExportMargin(fraction float64) float64 {
	return fraction * 100
}
