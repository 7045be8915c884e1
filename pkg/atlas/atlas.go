// Package atlas charts, flattens and packs meshes into a shared UV atlas.
package atlas

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/uvatlas/pkg/atlas/chart"
	"github.com/Faultbox/uvatlas/pkg/atlas/mesh"
	"github.com/Faultbox/uvatlas/pkg/atlas/pack"
	"github.com/Faultbox/uvatlas/pkg/atlas/param"
	"github.com/Faultbox/uvatlas/pkg/geom"
)

// Status is the completion state of a run.
type Status int

const (
	StatusOK Status = iota
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Vertex is one deduplicated output vertex.
type Vertex struct {
	XRef  int        // Input position index
	UV    mgl64.Vec2 // Normalized, layout offsets applied
	Page  int        // -1 when the chart was not placed
	Chart int        // -1 when the face belongs to no chart
}

// MeshResult is the output for one input mesh.
type MeshResult struct {
	Name     string
	Vertices []Vertex
	Indices  []int // Three per input face, into Vertices
	Charts   int
	Err      error // Every failure of this mesh, combined
}

// Page describes one atlas page.
type Page struct {
	Width       int
	Height      int
	Charts      int
	Utilization float64
}

// Result is the output of Generate.
type Result struct {
	Meshes        []MeshResult
	Pages         []Page
	TexelsPerUnit float64
	Status        Status
}

// Err combines the failures of every mesh, plus ErrCancelled when the run was cancelled.
func (r *Result) Err() error {
	var err error
	for _, m := range r.Meshes {
		err = multierr.Append(err, m.Err)
	}
	if r.Status == StatusCancelled && !errors.Is(err, ErrCancelled) {
		err = multierr.Append(err, ErrCancelled)
	}
	return err
}

// meshJob is the charted and flattened state of one mesh.
type meshJob struct {
	done    bool
	mesh    *mesh.Mesh
	charts  []*chart.Chart
	islands []*param.Island // Parallel to charts, nil for failed charts
	err     error
}

// Generate runs the whole pipeline over decls. Failures are scoped to the
// smallest unit and reported in the result; the returned error is only set
// for invalid options. A cancelled context yields StatusCancelled and the
// islands placed so far.
func Generate(ctx context.Context, decls []mesh.Decl, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := opts.logger()
	start := time.Now()

	jobs := make([]meshJob, len(decls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCount(opts.Workers))
	for i := range decls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			jobs[i] = chartMesh(gctx, decls[i], opts, log)
			return nil
		})
	}
	cancelled := g.Wait() != nil || ctx.Err() != nil

	res := &Result{Meshes: make([]MeshResult, len(decls))}
	var items []pack.Item
	slot := make([][]int, len(jobs))
	for mi := range jobs {
		slot[mi] = make([]int, len(jobs[mi].islands))
		for ci, is := range jobs[mi].islands {
			slot[mi][ci] = -1
			if is != nil && !cancelled {
				slot[mi][ci] = len(items)
				items = append(items, pack.Item{Mesh: mi, Chart: ci, Island: is})
			}
		}
	}

	packed := &pack.Result{}
	if len(items) > 0 {
		var err error
		packed, err = pack.Pack(ctx, items, opts.PackOptions(), log)
		if err != nil {
			cancelled = true
		}
	}
	if cancelled {
		res.Status = StatusCancelled
	}
	res.TexelsPerUnit = packed.TexelsPerUnit
	for _, p := range packed.Pages {
		res.Pages = append(res.Pages, Page{Width: p.Width, Height: p.Height, Charts: p.Charts, Utilization: p.Utilization})
	}

	out := new(errgroup.Group)
	out.SetLimit(workerCount(opts.Workers))
	for mi := range jobs {
		out.Go(func() error {
			res.Meshes[mi] = assemble(decls[mi].Name, &jobs[mi], slot[mi], packed, opts)
			return nil
		})
	}
	_ = out.Wait()

	charts := 0
	for _, m := range res.Meshes {
		charts += m.Charts
	}
	for i, p := range res.Pages {
		log.Debug("atlas page",
			zap.Int("page", i),
			zap.Int("width", p.Width),
			zap.Int("height", p.Height),
			zap.Int("charts", p.Charts),
			zap.Float64("utilization", p.Utilization))
	}
	log.Info("atlas generated",
		zap.Int("meshes", len(decls)),
		zap.Int("charts", charts),
		zap.Int("pages", len(res.Pages)),
		zap.Stringer("status", res.Status),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func workerCount(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

// chartMesh builds, charts and flattens one mesh. A job left not done means
// the context was cancelled.
func chartMesh(ctx context.Context, decl mesh.Decl, opts Options, log *zap.Logger) meshJob {
	m, err := mesh.Build(decl)
	if err != nil {
		log.Warn("malformed mesh", zap.String("mesh", decl.Name), zap.Error(err))
		return meshJob{done: true, err: &MalformedMeshError{Mesh: decl.Name, Err: err}}
	}

	var charts []*chart.Chart
	existing := opts.PackOnly && m.HasUVs()
	if existing {
		for _, comp := range m.Components {
			charts = append(charts, chart.FromUVs(m, comp)...)
		}
	} else {
		if opts.PackOnly {
			log.Warn("packOnly mesh has no UVs, charting it", zap.String("mesh", m.Name))
		}
		if charts, err = chartComponents(ctx, m, opts); err != nil {
			return meshJob{}
		}
	}
	chart.Renumber(charts)

	parts := make([]flattened, len(charts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCount(opts.Workers))
	for i, c := range charts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			parts[i] = flatten(m, c, existing, opts, log)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return meshJob{}
	}

	job := meshJob{done: true, mesh: m}
	var causes []error
	for _, p := range parts {
		job.charts = append(job.charts, p.charts...)
		job.islands = append(job.islands, p.islands...)
		for range p.charts {
			causes = append(causes, p.err)
		}
	}
	chart.Renumber(job.charts)
	for i, cause := range causes {
		if cause == nil {
			continue
		}
		if !existing {
			cause = &DegenerateChartError{Mesh: m.Name, Chart: i, Err: cause}
		}
		job.err = multierr.Append(job.err, &ParameterizationFailure{
			Mesh:  m.Name,
			Chart: i,
			Faces: len(job.charts[i].Faces),
			Err:   cause,
		})
	}
	log.Debug("mesh charted",
		zap.String("mesh", m.Name),
		zap.Int("faces", len(m.Faces)),
		zap.Int("components", len(m.Components)),
		zap.Int("charts", len(job.charts)))
	return job
}

// chartComponents charts the connected components concurrently and
// concatenates them in component order.
func chartComponents(ctx context.Context, m *mesh.Mesh, opts Options) ([]*chart.Chart, error) {
	per := make([][]*chart.Chart, len(m.Components))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCount(opts.Workers))
	for i, comp := range m.Components {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			per[i] = chart.BuildFaces(m, comp, opts.ChartOptions())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var charts []*chart.Chart
	for _, cs := range per {
		charts = append(charts, cs...)
	}
	return charts, nil
}

// flattened is the outcome for one chart: the chart itself or the charts it
// was re-seeded into, with their islands. err is set when the chart failed.
type flattened struct {
	charts  []*chart.Chart
	islands []*param.Island
	err     error
}

// flatten parameterizes c. A degenerate chart is re-seeded into charts of at
// most half its area and retried once.
func flatten(m *mesh.Mesh, c *chart.Chart, existing bool, opts Options, log *zap.Logger) flattened {
	if existing {
		is, err := param.FromUVs(m, c)
		if err != nil {
			return flattened{charts: []*chart.Chart{c}, islands: []*param.Island{nil}, err: err}
		}
		return flattened{charts: []*chart.Chart{c}, islands: []*param.Island{is}}
	}

	is, err := param.Parameterize(m, c)
	if err == nil {
		return flattened{charts: []*chart.Chart{c}, islands: []*param.Island{is}}
	}
	log.Debug("re-seeding degenerate chart",
		zap.String("mesh", m.Name),
		zap.Int("chart", c.ID),
		zap.Int("faces", len(c.Faces)),
		zap.Error(err))

	co := opts.ChartOptions()
	co.MaxChartArea = c.Area / 2
	subs := chart.BuildFaces(m, c.Faces, co)
	if len(subs) > 1 {
		islands := make([]*param.Island, len(subs))
		retry := error(nil)
		for i, s := range subs {
			if islands[i], retry = param.Parameterize(m, s); retry != nil {
				break
			}
		}
		if retry == nil {
			return flattened{charts: subs, islands: islands}
		}
		err = retry
	}
	return flattened{charts: []*chart.Chart{c}, islands: []*param.Island{nil}, err: err}
}

type vertexKey struct {
	chart, corner, xref int
}

// assemble writes the output vertices and indices of one mesh.
func assemble(name string, job *meshJob, slot []int, packed *pack.Result, opts Options) MeshResult {
	out := MeshResult{Name: name, Err: job.err}
	if !job.done {
		out.Err = multierr.Append(out.Err, fmt.Errorf("mesh %q: %w", name, ErrCancelled))
		return out
	}
	m := job.mesh
	if m == nil {
		return out
	}
	out.Charts = len(job.charts)

	for ci, s := range slot {
		if s < 0 || !packed.Placements[s].Overflow {
			continue
		}
		out.Err = multierr.Append(out.Err, &PackingOverflow{Mesh: name, Chart: ci, MaxPages: opts.MaxPages})
	}

	faceChart := chart.FaceCharts(m, job.charts)
	local := make([]int, len(m.Faces))
	for _, is := range job.islands {
		if is == nil {
			continue
		}
		for li, f := range is.Faces {
			local[f] = li
		}
	}

	index := make(map[vertexKey]int, len(m.Faces)*3/2)
	out.Indices = make([]int, 0, len(m.Faces)*3)
	for f := range m.Faces {
		ci := faceChart[f]
		for k := range 3 {
			xref := m.Faces[f].V[k]
			key := vertexKey{chart: ci, corner: -1, xref: xref}
			v := Vertex{XRef: xref, Page: -1, Chart: ci}
			if ci >= 0 && job.islands[ci] != nil {
				is := job.islands[ci]
				cv := is.Corners[local[f]][k]
				key.corner = cv
				if s := slot[ci]; s >= 0 && packed.Placements[s].Placed() {
					pl := packed.Placements[s]
					page := packed.Pages[pl.Page]
					t := pl.Apply(is.UV[cv])
					uv := mgl64.Vec2{
						geom.Clamp(t[0]/float64(page.Width), 0, 1),
						geom.Clamp(t[1]/float64(page.Height), 0, 1),
					}
					v.UV = uv.Add(opts.Layout.Offset(pl.Page))
					v.Page = pl.Page
				}
			}
			idx, ok := index[key]
			if !ok {
				idx = len(out.Vertices)
				index[key] = idx
				out.Vertices = append(out.Vertices, v)
			}
			out.Indices = append(out.Indices, idx)
		}
	}
	return out
}

// Offset returns the UV translation of a page under the layout.
func (l Layout) Offset(page int) mgl64.Vec2 {
	switch l {
	case LayoutSpreadX:
		return mgl64.Vec2{float64(page), 0}
	case LayoutUDIM:
		return mgl64.Vec2{float64(page % 10), float64(page / 10)}
	default:
		return mgl64.Vec2{}
	}
}
