package ratetable

import (
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ctessum/cdf"
	"github.com/sirupsen/logrus"

	"github.com/notargets/chemhydro/cluster"
)

const tempDim = "nT"

var (
	// OpenRetries and OpenInterval control how the root rank retries a rate
	// file open that fails, for files on slow shared filesystems
	OpenRetries  uint64 = 3
	OpenInterval        = 50 * time.Millisecond
)

// Write stores every table of s as a double variable along one temperature
// dimension, with the grid as global attributes
func (s *Set) Write(w *os.File) (err error) {
	h := cdf.NewHeader([]string{tempDim}, []int{s.NBins + 1})
	comment := s.Comment
	if len(comment) == 0 {
		comment = "chemistry rate tables"
	}
	h.AddAttribute("", "comment", comment)
	h.AddAttribute("", "TLow", []float64{s.TLow})
	h.AddAttribute("", "THigh", []float64{s.THigh})
	h.AddAttribute("", "NBins", []int32{int32(s.NBins)})
	h.AddAttribute("", "redshift", []float64{s.Redshift})
	for _, name := range s.Names {
		h.AddVariable(name, []string{tempDim}, []float64{0})
	}
	h.Define()
	if errs := h.Check(); len(errs) != 0 {
		return fmt.Errorf("ratetable: invalid header: %v", errs)
	}
	var f *cdf.File
	if f, err = cdf.Create(w, h); err != nil {
		return
	}
	for i, name := range s.Names {
		wr := f.Writer(name, []int{0}, []int{s.NBins + 1})
		if _, err = wr.Write(s.Values[i]); err != nil {
			return fmt.Errorf("ratetable: writing %s: %v", name, err)
		}
	}
	return cdf.UpdateNumRecs(w)
}

// Read loads a Set written by Write
func Read(rw cdf.ReaderWriterAt) (s *Set, err error) {
	var f *cdf.File
	if f, err = cdf.Open(rw); err != nil {
		return nil, fmt.Errorf("ratetable: %v", err)
	}
	var (
		TLow, THigh float64
		NBins       int
	)
	if TLow, err = floatAttribute(f, "TLow"); err != nil {
		return
	}
	if THigh, err = floatAttribute(f, "THigh"); err != nil {
		return
	}
	switch nb := f.Header.GetAttribute("", "NBins").(type) {
	case []int32:
		NBins = int(nb[0])
	default:
		return nil, fmt.Errorf("ratetable: missing attribute NBins")
	}
	if s, err = NewSet(TLow, THigh, NBins); err != nil {
		return
	}
	if z, e := floatAttribute(f, "redshift"); e == nil {
		s.Redshift = z
	}
	if c, ok := f.Header.GetAttribute("", "comment").(string); ok {
		s.Comment = c
	}
	for _, name := range f.Header.Variables() {
		lens := f.Header.Lengths(name)
		if len(lens) != 1 || lens[0] != NBins+1 {
			return nil, fmt.Errorf("ratetable: variable %s has shape %v, want [%d]", name, lens, NBins+1)
		}
		buf := make([]float64, NBins+1)
		if _, err = f.Reader(name, nil, nil).Read(buf); err != nil {
			return nil, fmt.Errorf("ratetable: reading %s: %v", name, err)
		}
		if err = s.Add(name, buf); err != nil {
			return
		}
	}
	return
}

func floatAttribute(f *cdf.File, name string) (v float64, err error) {
	switch a := f.Header.GetAttribute("", name).(type) {
	case []float64:
		if len(a) > 0 {
			return a[0], nil
		}
	}
	err = fmt.Errorf("ratetable: missing attribute %s", name)
	return
}

// ReadFile opens path, retrying transient failures, and reads it
func ReadFile(path string) (s *Set, err error) {
	var fp *os.File
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = OpenInterval
	err = backoff.Retry(func() (e error) {
		fp, e = os.Open(path)
		return
	}, backoff.WithMaxRetries(b, OpenRetries))
	if err != nil {
		return nil, fmt.Errorf("ratetable: %v", err)
	}
	defer fp.Close()
	return Read(fp)
}

type loaded struct {
	s   *Set
	err error
}

// LoadOnRoot reads path on rank 0 and shares the result with every rank. A
// read failure is returned on all ranks. The Set is shared, not copied,
// since it is never mutated after loading.
func LoadOnRoot(ctx *cluster.Context, path string, log logrus.FieldLogger) (s *Set, err error) {
	var l loaded
	if ctx.IsRoot() {
		l.s, l.err = ReadFile(path)
		if log != nil {
			if l.err != nil {
				log.WithField("file", path).Error(l.err)
			} else {
				log.WithFields(logrus.Fields{
					"file": path, "tables": len(l.s.Names),
				}).Info("rate tables loaded")
			}
		}
	}
	l = cluster.Bcast(ctx, 0, l)
	return l.s, l.err
}

// Share distributes a Set built on rank 0, such as a generated one
func Share(ctx *cluster.Context, s *Set) *Set {
	return cluster.Bcast(ctx, 0, s)
}
