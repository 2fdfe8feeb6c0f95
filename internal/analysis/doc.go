// Package analysis turns a termination-time histogram into a survivor
// series and fits the decay model
//
//	S(t) = a·exp(-t/b) + c
//
// by Levenberg–Marquardt least squares. b is the lifetime constant of the
// surviving population; c absorbs particles that never terminate inside the
// histogram range.
//
//	curve, _ := analysis.Survivors(timeHist, total)
//	fit, err := analysis.FitSurvival(curve, analysis.DefaultFitConfig(total))
//	if err == nil {
//	    fmt.Printf("lifetime %.1f ± %.1f s\n", fit.Lifetime(), fit.LifetimeErr())
//	}
package analysis
