package pipeline

import "time"

// DefaultTolerance is the symmetric matching window between an acquisition
// claim and a gateway confirmation.
const DefaultTolerance = 10 * time.Minute

// DefaultThreshold is the ROAS level below which a campaign is flagged.
const DefaultThreshold = 1.0

// Context carries everything a run needs. It is immutable: each stage is a
// function of the Context and its inputs, nothing else.
type Context struct {
	DataDir    string
	ReportsDir string
	// Date is the reporting date (YYYY-MM-DD, UTC). Empty means derive the
	// second-latest date seen in the curated purchases (D-1 semantics).
	Date      string
	Tolerance time.Duration
	Threshold float64
	// XLSX additionally emits a workbook with the three derived reports.
	XLSX bool
}
