package integrator

import (
	"fmt"
	"strings"
)

type Method uint8

const (
	SSPRK3    Method = iota // Explicit three stage strong stability preserving Runge Kutta
	IMEXEuler               // Explicit hydro, implicit chemistry, first order
)

var (
	MethodNames = map[string]Method{
		"ssprk3":     SSPRK3,
		"rk3":        SSPRK3,
		"explicit":   SSPRK3,
		"imex":       IMEXEuler,
		"imex_euler": IMEXEuler,
		"imexeuler":  IMEXEuler,
		"ark":        IMEXEuler,
	}
	MethodPrintNames = []string{"SSP-RK3 (explicit)", "IMEX Euler (explicit hydro, implicit chemistry)"}
)

func (m Method) Print() (txt string) {
	txt = MethodPrintNames[m]
	return
}

// ParseMethod picks IMEX Euler for an empty label when chemistry is present
func ParseMethod(label string, nchem int) (m Method, err error) {
	var ok bool
	label = strings.ToLower(strings.TrimSpace(label))
	if len(label) == 0 {
		if nchem > 0 {
			return IMEXEuler, nil
		}
		return SSPRK3, nil
	}
	if m, ok = MethodNames[label]; !ok {
		err = fmt.Errorf("unable to use time integration method named %s", label)
	}
	return
}

func NewMethod(label string, nchem int) (m Method) {
	var err error
	if m, err = ParseMethod(label, nchem); err != nil {
		panic(err)
	}
	return
}

// Step modes
const (
	Adaptive = iota
	Fixed
	TransientThenFixed // Adaptive until T0+HTrans, fixed at HMax afterwards
)

type Options struct {
	Method     Method
	RTol, ATol float64
	H0         float64 // Initial step, 0 lets the stability estimate choose
	HMin, HMax float64 // 0 for no bound
	FixedStep  int
	HTrans     float64
	MaxNEF     int     // Failed attempts allowed per step
	EtaMxf     float64 // Step reduction after a failed attempt
	Growth     float64 // Largest step growth between steps
	MxSteps    int     // Steps allowed per call to Evolve, 0 for no limit
	MaxNIters  int     // Newton iterations per implicit solve
	NLConvCoef float64
	Predictor  int // 0 starts Newton from the explicit stage, 1 adds h*fimpl(y_n)
}

func DefaultOptions() Options {
	return Options{
		Method:     IMEXEuler,
		RTol:       1.e-4,
		ATol:       1.e-11,
		MaxNEF:     20,
		EtaMxf:     0.3,
		Growth:     20,
		MxSteps:    100000,
		MaxNIters:  3,
		NLConvCoef: 0.1,
	}
}

func (o *Options) Validate() (err error) {
	switch {
	case o.RTol < 0 || o.ATol < 0:
		err = fmt.Errorf("tolerances must be non negative, have rtol = %g, atol = %g", o.RTol, o.ATol)
	case o.FixedStep < Adaptive || o.FixedStep > TransientThenFixed:
		err = fmt.Errorf("fixedstep must be 0, 1 or 2, have %d", o.FixedStep)
	case o.FixedStep != Adaptive && o.HMax <= 0:
		err = fmt.Errorf("fixed step mode %d needs hmax > 0", o.FixedStep)
	case o.HMin > 0 && o.HMax > 0 && o.HMin > o.HMax:
		err = fmt.Errorf("hmin = %g exceeds hmax = %g", o.HMin, o.HMax)
	case o.EtaMxf <= 0 || o.EtaMxf >= 1:
		err = fmt.Errorf("etamxf must be in (0,1), have %g", o.EtaMxf)
	case o.MaxNIters < 1:
		err = fmt.Errorf("maxniters must be positive, have %d", o.MaxNIters)
	case o.NLConvCoef <= 0:
		err = fmt.Errorf("nlconvcoef must be positive, have %g", o.NLConvCoef)
	}
	return
}

func (o *Options) Print() {
	fmt.Printf("Time integration: %s\n", o.Method.Print())
	switch o.FixedStep {
	case Fixed:
		fmt.Printf("Fixed step h = %g\n", o.HMax)
	case TransientThenFixed:
		fmt.Printf("Adaptive for %g, then fixed step h = %g\n", o.HTrans, o.HMax)
	default:
		fmt.Printf("Adaptive step, hmin = %g, hmax = %g, growth = %g\n", o.HMin, o.HMax, o.Growth)
	}
	if o.Method == IMEXEuler {
		fmt.Printf("rtol = %g, atol = %g, maxniters = %d, nlconvcoef = %g\n",
			o.RTol, o.ATol, o.MaxNIters, o.NLConvCoef)
	}
}
