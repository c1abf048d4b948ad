package InputParameters

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/spf13/cast"

	"github.com/notargets/chemhydro/grid"
	"github.com/notargets/chemhydro/integrator"
	"github.com/notargets/chemhydro/linsolve"
	"github.com/notargets/chemhydro/model_problems/Euler3D"
	"github.com/notargets/chemhydro/problems"
	"github.com/notargets/chemhydro/utils"
)

// Parameters obtained from the YAML input file, or from the legacy
// key = value input. The json tags are the keys of both formats.
type InputParameters3D struct {
	Title   string `json:"Title"`
	Problem string `json:"problem"`
	// Domain and time interval
	XL float64 `json:"xl"`
	XR float64 `json:"xr"`
	YL float64 `json:"yl"`
	YR float64 `json:"yr"`
	ZL float64 `json:"zl"`
	ZR float64 `json:"zr"`
	T0 float64 `json:"t0"`
	TF float64 `json:"tf"`
	// Physics
	Gamma       float64 `json:"gamma"`
	MassUnits   float64 `json:"MassUnits"`
	LengthUnits float64 `json:"LengthUnits"`
	TimeUnits   float64 `json:"TimeUnits"`
	NChem       int     `json:"nchem"`
	Flux        string  `json:"flux"`
	// Grid, boundary codes 0 = periodic, 1 = Neumann, 2 = Dirichlet, 3 = reflecting
	NX   int `json:"nx"`
	NY   int `json:"ny"`
	NZ   int `json:"nz"`
	XLBC int `json:"xlbc"`
	XRBC int `json:"xrbc"`
	YLBC int `json:"ylbc"`
	YRBC int `json:"yrbc"`
	ZLBC int `json:"zlbc"`
	ZRBC int `json:"zrbc"`
	// Run control
	CFL       float64 `json:"cfl"`
	NOut      int     `json:"nout"`
	ShowStats bool    `json:"showstats"`
	Restart   int     `json:"restart"`
	OutputDir string  `json:"output_dir"`
	// Time integration
	Method     string  `json:"method"`
	Order      int     `json:"order"`
	DenseOrder int     `json:"dense_order"`
	ETable     int     `json:"etable"`
	ITable     int     `json:"itable"`
	MTable     int     `json:"mtable"`
	AdaptMeth  int     `json:"adapt_method"`
	MaxNEF     int     `json:"maxnef"`
	MxHNil     int     `json:"mxhnil"`
	MxSteps    int     `json:"mxsteps"`
	Safety     float64 `json:"safety"`
	Bias       float64 `json:"bias"`
	Growth     float64 `json:"growth"`
	PQ         int     `json:"pq"`
	K1         float64 `json:"k1"`
	K2         float64 `json:"k2"`
	K3         float64 `json:"k3"`
	EtaMx1     float64 `json:"etamx1"`
	EtaMxf     float64 `json:"etamxf"`
	H0         float64 `json:"h0"`
	HMin       float64 `json:"hmin"`
	HMax       float64 `json:"hmax"`
	FixedStep  int     `json:"fixedstep"`
	HTrans     float64 `json:"htrans"`
	RTol       float64 `json:"rtol"`
	ATol       float64 `json:"atol"`
	Predictor  int     `json:"predictor"`
	MaxNIters  int     `json:"maxniters"`
	NLConvCoef float64 `json:"nlconvcoef"`
	Fused      int     `json:"fusedkernels"`
	LocalRed   int     `json:"localreduce"`
	// Linear solver and chemistry
	LinSolver   string  `json:"linsolver"`
	MaxL        int     `json:"maxl"`
	RateFile    string  `json:"ratefile"`
	Redshift    float64 `json:"redshift"`
	NewtonIters int     `json:"newton_iters"`
	NewtonTol   float64 `json:"newton_tol"`
	// Parallel layout
	NProcs         int    `json:"nprocs"`
	NPX            int    `json:"npx"`
	NPY            int    `json:"npy"`
	NPZ            int    `json:"npz"`
	ExecPolicy     string `json:"exec_policy"`
	ParallelDegree int    `json:"parallel_degree"`
}

// NewInputParameters3D returns the defaults of every option
func NewInputParameters3D() (ip *InputParameters3D) {
	opts := integrator.DefaultOptions()
	ip = &InputParameters3D{
		Problem:     "compile",
		XR:          1,
		YR:          1,
		ZR:          1,
		TF:          0.1,
		Gamma:       1.4,
		MassUnits:   1,
		LengthUnits: 1,
		TimeUnits:   1,
		Flux:        "HLL",
		NX:          16,
		NY:          16,
		NZ:          16,
		CFL:         0.3,
		NOut:        10,
		Restart:     -1,
		OutputDir:   ".",
		MaxNEF:      opts.MaxNEF,
		MxSteps:     opts.MxSteps,
		Growth:      opts.Growth,
		EtaMxf:      opts.EtaMxf,
		RTol:        opts.RTol,
		ATol:        opts.ATol,
		MaxNIters:   opts.MaxNIters,
		NLConvCoef:  opts.NLConvCoef,
		LinSolver:   "sparse",
		NewtonIters: 10,
		NProcs:      1,
	}
	return
}

func (ip *InputParameters3D) Parse(data []byte) error {
	return yaml.Unmarshal(data, ip)
}

// fieldByKey maps every input key, lower cased, to its struct field index
var fieldByKey = func() (m map[string]int) {
	m = make(map[string]int)
	t := reflect.TypeOf(InputParameters3D{})
	for i := 0; i < t.NumField(); i++ {
		key := strings.Split(t.Field(i).Tag.Get("json"), ",")[0]
		m[strings.ToLower(key)] = i
	}
	return
}()

// Set assigns one option from its text form
func (ip *InputParameters3D) Set(key, value string) (err error) {
	var (
		idx, ok = fieldByKey[strings.ToLower(strings.TrimSpace(key))]
		val     = strings.Trim(strings.TrimSpace(value), `"'`)
	)
	if !ok {
		return fmt.Errorf("unknown input parameter %q", key)
	}
	fv := reflect.ValueOf(ip).Elem().Field(idx)
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(val)
	case reflect.Int:
		var n int
		if n, err = cast.ToIntE(val); err == nil {
			fv.SetInt(int64(n))
		}
	case reflect.Float64:
		var x float64
		if x, err = cast.ToFloat64E(val); err == nil {
			fv.SetFloat(x)
		}
	case reflect.Bool:
		var b bool
		if b, err = cast.ToBoolE(val); err != nil {
			// The legacy format writes flags as integers
			var n int
			if n, err = cast.ToIntE(val); err == nil {
				b = n != 0
			}
		}
		if err == nil {
			fv.SetBool(b)
		}
	default:
		panic(fmt.Errorf("input parameter %s has unsupported kind %s", key, fv.Kind()))
	}
	if err != nil {
		err = fmt.Errorf("input parameter %s: %v", key, err)
	}
	return
}

// KeyValues returns every option by its input key, the inverse of Set
func (ip *InputParameters3D) KeyValues() (kv map[string]any) {
	var (
		v = reflect.ValueOf(ip).Elem()
		t = v.Type()
	)
	kv = make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		key := strings.Split(t.Field(i).Tag.Get("json"), ",")[0]
		kv[key] = v.Field(i).Interface()
	}
	return
}

// ReadKeyValue applies a legacy input file: one "key = value" per line, with
// everything after a '#' ignored
func (ip *InputParameters3D) ReadKeyValue(r io.Reader) (err error) {
	var (
		scanner = bufio.NewScanner(r)
		line    int
	)
	for scanner.Scan() {
		line++
		txt := scanner.Text()
		if i := strings.IndexByte(txt, '#'); i >= 0 {
			txt = txt[:i]
		}
		if len(strings.TrimSpace(txt)) == 0 {
			continue
		}
		key, value, found := strings.Cut(txt, "=")
		if !found {
			return fmt.Errorf("line %d: expected key = value, have %q", line, strings.TrimSpace(txt))
		}
		if err = ip.Set(key, value); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return scanner.Err()
}

// ApplyOverrides applies command line settings of the form key=value
func (ip *InputParameters3D) ApplyOverrides(settings []string) (err error) {
	for _, s := range settings {
		key, value, found := strings.Cut(s, "=")
		if !found {
			return fmt.Errorf("override %q is not of the form key=value", s)
		}
		if err = ip.Set(key, value); err != nil {
			return
		}
	}
	return
}

func (ip *InputParameters3D) BCCodes() [3][2]int {
	return [3][2]int{{ip.XLBC, ip.XRBC}, {ip.YLBC, ip.YRBC}, {ip.ZLBC, ip.ZRBC}}
}

func (ip *InputParameters3D) BCs() (bcs [3][2]grid.BCType, err error) {
	for ax, pair := range ip.BCCodes() {
		for face, code := range pair {
			if bcs[ax][face], err = grid.ParseBCType(fmt.Sprint(code)); err != nil {
				return
			}
		}
	}
	return
}

// OutputInterval is the time between outputs, the whole run without output
func (ip *InputParameters3D) OutputInterval() float64 {
	if ip.NOut <= 0 {
		return ip.TF - ip.T0
	}
	return (ip.TF - ip.T0) / float64(ip.NOut)
}

// Validate rejects inconsistent settings before anything is allocated. All
// problems found are reported together.
func (ip *InputParameters3D) Validate() error {
	var errs []error
	add := func(format string, a ...any) { errs = append(errs, fmt.Errorf(format, a...)) }
	if !(ip.TF > ip.T0) {
		add("tf = %g must exceed t0 = %g", ip.TF, ip.T0)
	}
	if ip.NX < 1 || ip.NY < 1 || ip.NZ < 1 {
		add("grid %d x %d x %d must have at least one cell per axis", ip.NX, ip.NY, ip.NZ)
	}
	if ip.NChem < 0 {
		add("nchem = %d must not be negative", ip.NChem)
	}
	if ip.NProcs < 1 {
		add("nprocs = %d must be positive", ip.NProcs)
	}
	if _, err := ip.BCs(); err != nil {
		errs = append(errs, err)
	}
	if ip.FixedStep != integrator.Adaptive {
		if ip.HMax <= 0 {
			add("fixedstep = %d needs hmax > 0", ip.FixedStep)
		}
		if ip.HTrans > 0 && ip.HTrans >= ip.OutputInterval() {
			add("htrans = %g must be smaller than the output interval %g", ip.HTrans, ip.OutputInterval())
		}
	}
	if _, err := integrator.ParseMethod(ip.Method, ip.NChem); err != nil {
		errs = append(errs, err)
	}
	if _, err := problems.ParseProblemType(ip.Problem); err != nil {
		errs = append(errs, err)
	}
	if _, err := linsolve.ParseSolverType(ip.LinSolver); err != nil {
		errs = append(errs, err)
	}
	if _, ok := Euler3D.FluxNames[strings.ToLower(ip.Flux)]; !ok && len(ip.Flux) != 0 {
		add("unable to use flux named %s", ip.Flux)
	}
	if _, ok := utils.ExecNames[strings.ToLower(ip.ExecPolicy)]; !ok && len(ip.ExecPolicy) != 0 {
		add("unable to use execution policy named %s", ip.ExecPolicy)
	}
	return errors.Join(errs...)
}

// IntegratorOptions translates the time integration settings
func (ip *InputParameters3D) IntegratorOptions() (opts integrator.Options, err error) {
	opts = integrator.DefaultOptions()
	if opts.Method, err = integrator.ParseMethod(ip.Method, ip.NChem); err != nil {
		return
	}
	opts.RTol, opts.ATol = ip.RTol, ip.ATol
	opts.H0, opts.HMin, opts.HMax = ip.H0, ip.HMin, ip.HMax
	opts.FixedStep = ip.FixedStep
	if ip.FixedStep != integrator.Adaptive && ip.HTrans > 0 {
		opts.FixedStep = integrator.TransientThenFixed
	}
	opts.HTrans = ip.HTrans
	opts.Predictor = ip.Predictor
	if ip.MaxNEF > 0 {
		opts.MaxNEF = ip.MaxNEF
	}
	if ip.EtaMxf > 0 {
		opts.EtaMxf = ip.EtaMxf
	}
	if ip.Growth > 0 {
		opts.Growth = ip.Growth
	}
	if ip.MxSteps != 0 {
		opts.MxSteps = max(ip.MxSteps, 0)
	}
	if ip.MaxNIters > 0 {
		opts.MaxNIters = ip.MaxNIters
	}
	if ip.NLConvCoef > 0 {
		opts.NLConvCoef = ip.NLConvCoef
	}
	err = opts.Validate()
	return
}

// Ignored lists the integrator tuning keys that are set but have no effect
// on the built in methods
func (ip *InputParameters3D) Ignored() (keys []string) {
	for key, v := range map[string]float64{
		"order": float64(ip.Order), "dense_order": float64(ip.DenseOrder),
		"etable": float64(ip.ETable), "itable": float64(ip.ITable), "mtable": float64(ip.MTable),
		"adapt_method": float64(ip.AdaptMeth), "mxhnil": float64(ip.MxHNil),
		"safety": ip.Safety, "bias": ip.Bias, "pq": float64(ip.PQ),
		"k1": ip.K1, "k2": ip.K2, "k3": ip.K3, "etamx1": ip.EtaMx1,
		"fusedkernels": float64(ip.Fused), "localreduce": float64(ip.LocalRed),
	} {
		if v != 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return
}

func (ip *InputParameters3D) Print() {
	if len(ip.Title) != 0 {
		fmt.Printf("\"%s\"\t\t= Title\n", ip.Title)
	}
	fmt.Printf("[%s]\t\t= Problem\n", ip.Problem)
	fmt.Printf("[%g, %g] x [%g, %g] x [%g, %g]\t= Domain\n", ip.XL, ip.XR, ip.YL, ip.YR, ip.ZL, ip.ZR)
	fmt.Printf("%d x %d x %d\t\t\t= Grid\n", ip.NX, ip.NY, ip.NZ)
	fmt.Printf("[%g, %g]\t\t\t= Time interval\n", ip.T0, ip.TF)
	fmt.Printf("%8.5f\t\t= CFL\n", ip.CFL)
	fmt.Printf("%8.5f\t\t= Gamma\n", ip.Gamma)
	fmt.Printf("[%s]\t\t\t= Flux Type\n", ip.Flux)
	fmt.Printf("[%d]\t\t\t\t= nchem\n", ip.NChem)
	fmt.Printf("%v\t= BC codes (x, y, z)\n", ip.BCCodes())
	fmt.Printf("%g, %g, %g\t\t\t= Mass, length, time units\n", ip.MassUnits, ip.LengthUnits, ip.TimeUnits)
	fmt.Printf("[%s]\t\t\t= Linear solver\n", ip.LinSolver)
	fmt.Printf("%d\t\t\t\t= Outputs\n", ip.NOut)
	if ip.Restart >= 0 {
		fmt.Printf("%d\t\t\t\t= Restart from output\n", ip.Restart)
	}
}
