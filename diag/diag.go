// Package diag turns the stats package's compiled-in-or-out
// counters into two developer-facing shapes: a github.com/google/pprof
// profile.Profile a developer can load straight into `go tool pprof`,
// and thousands-separated text lines via golang.org/x/text/message for
// a console dump — replacing bare fmt.Printf("%v pages")-style counter
// printing with the ecosystem's own locale-aware number formatting.
package diag

import (
	"io"
	"reflect"

	"github.com/google/pprof/profile"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"stats"
)

// CounterSample names one exported counter or cycle value.
type CounterSample struct {
	Name  string
	Value int64
}

// Snapshot walks st (a pointer to a subsystem's stats struct, the same
// shape stats.Stats2String accepts) via reflection and returns one
// CounterSample per stats.Counter_t/stats.Cycles_t field found.
func Snapshot(st interface{}) []CounterSample {
	v := reflect.ValueOf(st)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	var out []CounterSample
	for i := 0; i < v.NumField(); i++ {
		name := v.Type().Field(i).Name
		switch val := v.Field(i).Interface().(type) {
		case stats.Counter_t:
			out = append(out, CounterSample{Name: name, Value: int64(val)})
		case stats.Cycles_t:
			out = append(out, CounterSample{Name: name + "_cycles", Value: int64(val)})
		}
	}
	return out
}

// BuildProfile packages samples as a pprof profile.Profile: one
// synthetic location/function ("kernel_counters") carrying every
// sample's value, labeled by counter name so `go tool pprof -tags`
// can break them out.
func BuildProfile(samples []CounterSample) *profile.Profile {
	fn := &profile.Function{ID: 1, Name: "kernel_counters"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn, Line: 1}}}
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "counter", Unit: "count"}},
		Function:   []*profile.Function{fn},
		Location:   []*profile.Location{loc},
	}
	for _, s := range samples {
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{s.Value},
			Label:    map[string][]string{"counter": {s.Name}},
		})
	}
	return p
}

// WriteProfile gzip-encodes p's pprof wire format to w.
func WriteProfile(p *profile.Profile, w io.Writer) error {
	return p.Write(w)
}

var printer = message.NewPrinter(language.English)

// FormatLine renders one counter as "name: 1,234,567", the
// thousands-grouped rendition of a diagnostic dump line.
func FormatLine(name string, value int64) string {
	return printer.Sprintf("%s: %d", name, value)
}
