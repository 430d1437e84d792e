// Package link turns a build strategy into the directives the binding step
// links with.
package link

import (
	"fmt"
	"io"
	"strings"

	"github.com/goplus/dlibsys/internal/build"
	"github.com/goplus/dlibsys/internal/config"
)

// SystemLibraries are linked when dlib comes from the host, in link order.
var SystemLibraries = []string{"dlib", "lapack", "cblas"}

// Kind is the type of a Directive.
type Kind string

const (
	LinkLib    Kind = "link-lib"
	LinkSearch Kind = "link-search"
	Include    Kind = "include"
)

// Directive is one instruction for the linker or binding generator.
type Directive struct {
	Kind  Kind
	Value string
}

func (d Directive) String() string { return "dlibsys:" + string(d.Kind) + "=" + d.Value }

// Plan is the ordered set of link instructions for one build.
type Plan struct {
	Libraries    []string
	SearchPaths  []string
	IncludePaths []string
}

// NewPlan derives the plan from the strategy and, for bundled builds, the
// compiled archive.
func NewPlan(cfg config.BuildConfiguration, res build.Result) Plan {
	if cfg.Strategy() != config.CompileBundled {
		return Plan{Libraries: append([]string(nil), SystemLibraries...)}
	}
	return Plan{
		Libraries:    []string{build.LibraryName},
		SearchPaths:  []string{res.LibDir},
		IncludePaths: []string{res.IncludeDir},
	}
}

// Directives lists search paths first, then libraries, then include hints.
func (p Plan) Directives() []Directive {
	var ds []Directive
	for _, s := range p.SearchPaths {
		ds = append(ds, Directive{LinkSearch, s})
	}
	for _, l := range p.Libraries {
		ds = append(ds, Directive{LinkLib, l})
	}
	for _, i := range p.IncludePaths {
		ds = append(ds, Directive{Include, i})
	}
	return ds
}

// Emit writes one directive per line to w.
func (p Plan) Emit(w io.Writer) error {
	for _, d := range p.Directives() {
		if _, err := fmt.Fprintln(w, d); err != nil {
			return err
		}
	}
	return nil
}

// CgoEnv renders the plan as CGO_CPPFLAGS and CGO_LDFLAGS assignments.
func (p Plan) CgoEnv() []string {
	var cpp, ld []string
	for _, i := range p.IncludePaths {
		cpp = append(cpp, "-I"+i)
	}
	for _, s := range p.SearchPaths {
		ld = append(ld, "-L"+s)
	}
	for _, l := range p.Libraries {
		ld = append(ld, "-l"+l)
	}
	return []string{
		"CGO_CPPFLAGS=" + strings.Join(cpp, " "),
		"CGO_LDFLAGS=" + strings.Join(ld, " "),
	}
}
