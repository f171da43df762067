// Package rules provides the CEL-Go based screening engine.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/jonboulle/clockwork"
	"github.com/opensource-finance/adscreen/internal/domain"
	"github.com/opensource-finance/adscreen/internal/table"
	"github.com/opensource-finance/adscreen/internal/velocity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("adscreen-rules")

// Engine is the CEL-based screening engine. It is safe for concurrent use.
type Engine struct {
	env      *cel.Env
	families map[domain.FamilyKind]*compiledFamily
	cfg      domain.EngineConfig
	clock    clockwork.Clock
	logger   *slog.Logger
}

// compiledFamily holds a family with its branch programs.
type compiledFamily struct {
	Family
	branches []compiledBranch
}

type compiledBranch struct {
	Branch
	program cel.Program
	vars    []string // row variables the expression reads
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for day counts.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine compiles every family and returns a ready engine.
func NewEngine(cfg domain.EngineConfig, opts ...Option) (*Engine, error) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkWorkers <= 0 {
		cfg.ChunkWorkers = DefaultChunkWorkers
	}

	envOpts := make([]cel.EnvOption, 0, len(rowVariables)+len(thresholdVariables)+8)
	for name := range rowVariables {
		envOpts = append(envOpts, cel.Variable(name, cel.DoubleType))
	}
	for _, name := range thresholdVariables {
		envOpts = append(envOpts, cel.Variable(name, cel.DoubleType))
	}
	envOpts = append(envOpts,
		cel.Constant("acos_strict", cel.DoubleType, types.Double(ACOSCeilingStrict)),
		cel.Constant("acos_loose", cel.DoubleType, types.Double(ACOSCeilingLoose)),
		cel.Constant("fresh_days", cel.DoubleType, types.Double(FreshCampaignDays)),
		cel.Constant("settled_days", cel.DoubleType, types.Double(SettledCampaignDay)),
		cel.Constant("fresh_clicks", cel.DoubleType, types.Double(FreshCampaignClick)),
	)

	env, err := cel.NewEnv(envOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{
		env:      env,
		families: make(map[domain.FamilyKind]*compiledFamily),
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, f := range Families() {
		compiled, err := e.compileFamily(f)
		if err != nil {
			return nil, err
		}
		e.families[f.Kind] = compiled
	}
	return e, nil
}

func (e *Engine) compileFamily(f Family) (*compiledFamily, error) {
	cf := &compiledFamily{Family: f}
	for _, b := range f.Branches {
		ast, issues := e.env.Compile(b.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile %s/%s: %w", f.Kind, b.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("%s/%s: expression must return bool, got %s", f.Kind, b.Name, ast.OutputType())
		}

		progOpts := []cel.ProgramOption{cel.EvalOptions(cel.OptOptimize)}
		if e.cfg.CostLimit > 0 {
			progOpts = append(progOpts, cel.CostLimit(e.cfg.CostLimit))
		}
		program, err := e.env.Program(ast, progOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for %s/%s: %w", f.Kind, b.Name, err)
		}

		cf.branches = append(cf.branches, compiledBranch{
			Branch:  b,
			program: program,
			vars:    referencedRowVariables(ast),
		})
	}
	return cf, nil
}

func referencedRowVariables(ast *cel.Ast) []string {
	seen := make(map[string]struct{})
	var vars []string
	for _, ref := range ast.NativeRep().ReferenceMap() {
		if _, ok := rowVariables[ref.Name]; !ok {
			continue
		}
		if _, dup := seen[ref.Name]; dup {
			continue
		}
		seen[ref.Name] = struct{}{}
		vars = append(vars, ref.Name)
	}
	return vars
}

// eval reports whether the branch holds for the row. A branch reading an
// unknown value is false, so missing cells never trigger a mutation.
func (b *compiledBranch) eval(act *rowActivation) (bool, error) {
	for _, v := range b.vars {
		if math.IsNaN(act.number(v)) {
			return false, nil
		}
	}
	out, _, err := b.program.Eval(act)
	if err != nil {
		return false, fmt.Errorf("evaluate %s: %w", b.Name, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("evaluate %s: non-bool result %v", b.Name, out)
	}
	return ok, nil
}

// match returns the index of the first true branch, or -1.
func (f *compiledFamily) match(act *rowActivation) (int, error) {
	for i := range f.branches {
		ok, err := f.branches[i].eval(act)
		if err != nil {
			return -1, err
		}
		if ok {
			return i, nil
		}
	}
	return -1, nil
}

// Request is one screening invocation.
type Request struct {
	Family     domain.FamilyKind
	Table      *table.Table
	Thresholds domain.Thresholds

	// Previous is the earlier period, required by spend-decline screening.
	Previous *table.Table

	// Identifiers restricts screening to these portfolios (campaign names
	// for spend-decline). Empty means no restriction.
	Identifiers []string

	// CascadeBidCut makes invalid-campaign screening return the keyword and
	// product-targeting rows of the selected campaigns with their bids cut.
	CascadeBidCut bool

	// OnChunk reports chunk progress.
	OnChunk func(done, total int)
}

// BranchHit counts the rows a branch matched.
type BranchHit struct {
	Name    string
	Effects Mutation
	Rows    int
}

// Outcome is the result of a screening run.
type Outcome struct {
	Family    domain.FamilyKind
	Table     *table.Table
	InputRows int
	Hits      []BranchHit
}

// Screen runs a screening and returns the matched, mutated rows.
// The result is empty, never nil, when nothing matched.
func (e *Engine) Screen(ctx context.Context, req Request) (*table.Table, error) {
	out, err := e.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return out.Table, nil
}

// Run dispatches the request to its family and reports per-branch counts.
func (e *Engine) Run(ctx context.Context, req Request) (*Outcome, error) {
	if req.Table == nil {
		return nil, ErrMissingTable
	}

	ctx, span := tracer.Start(ctx, "screen "+req.Family.String(),
		trace.WithAttributes(
			attribute.String("screen.family", req.Family.String()),
			attribute.Int("screen.rows", req.Table.Len()),
			attribute.Int("screen.identifiers", len(req.Identifiers)),
		),
	)
	defer span.End()

	start := e.clock.Now()
	ids := uniqueIdentifiers(req.Identifiers)

	var out *Outcome
	var err error
	switch req.Family {
	case domain.FamilyProduct,
		domain.FamilyAdTargeting,
		domain.FamilyBidPosition,
		domain.FamilySearchTerm,
		domain.FamilyKeyword:
		out, err = e.screenRows(ctx, req, ids)
	case domain.FamilyInvalidCampaign:
		out, err = e.screenRows(ctx, req, ids)
		if err == nil && req.CascadeBidCut {
			out, err = cascadeBidCut(req.Table, out)
		}
	case domain.FamilySpendDecline:
		out, err = screenTrend(req, ids)
	default:
		err = fmt.Errorf("%w: %d", ErrUnknownFamily, int(req.Family))
	}
	if err != nil {
		span.RecordError(err)
		e.logger.Error("screening failed",
			"family", req.Family.String(),
			"rows", req.Table.Len(),
			"error", err,
		)
		return nil, err
	}

	span.SetAttributes(attribute.Int("screen.matched", out.Table.Len()))
	e.logger.Info("screening completed",
		"family", req.Family.String(),
		"rows", out.InputRows,
		"matched", out.Table.Len(),
		"duration_ms", e.clock.Since(start).Milliseconds(),
	)
	return out, nil
}

// screenRows evaluates a row-level family over chunks of the table,
// mutating matched rows in place.
func (e *Engine) screenRows(ctx context.Context, req Request, ids []string) (*Outcome, error) {
	fam, ok := e.families[req.Family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, req.Family)
	}
	if err := req.Table.Schema().Require(fam.RequiredColumns()...); err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		if err := req.Table.Schema().Require(domain.ColPortfolio); err != nil {
			return nil, err
		}
	}

	bindings := thresholdBindings(req.Thresholds)
	now := e.clock.Now()
	activate := func(r *table.Record) *rowActivation {
		return &rowActivation{rec: r, thresholds: bindings, now: now}
	}
	cond := func(r *table.Record) (bool, error) {
		idx, err := fam.match(activate(r))
		return idx >= 0, err
	}

	hits := make([]atomic.Int64, len(fam.branches))
	update := SetText(domain.ColAction, domain.ActionUpdate)

	opts := ChunkOptions{
		Size:        e.cfg.ChunkSize,
		Workers:     e.cfg.ChunkWorkers,
		TaskTimeout: e.cfg.TaskTimeout,
		OnChunk:     req.OnChunk,
	}

	matched, err := EvaluateChunks(ctx, req.Table, opts, func(ctx context.Context, chunk *table.Table) (*table.Table, error) {
		selected, err := FilterPartitioned(ctx, chunk, ids, e.cfg.PartitionWorkers, cond, fam.EntityLevel, fam.Gate)
		if err != nil {
			return nil, err
		}

		// Rows of a chunk belong to this task alone.
		for _, r := range selected.Rows() {
			idx, err := fam.match(activate(r))
			if err != nil {
				return nil, err
			}
			if idx < 0 {
				continue
			}
			hits[idx].Add(1)
			if fam.Updates {
				if err := update.Apply(r); err != nil {
					return nil, err
				}
			}
			if err := fam.branches[idx].Effects.Apply(r); err != nil {
				return nil, err
			}
		}

		e.logger.Debug("chunk screened",
			"family", fam.Kind.String(),
			"rows", chunk.Len(),
			"matched", selected.Len(),
		)
		return selected, nil
	})
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Family:    req.Family,
		Table:     matched,
		InputRows: req.Table.Len(),
	}
	for i, b := range fam.branches {
		out.Hits = append(out.Hits, BranchHit{
			Name:    b.Name,
			Effects: b.Effects,
			Rows:    int(hits[i].Load()),
		})
	}
	return out, nil
}

// cascadeBidCut replaces the selected campaigns with their keyword and
// product-targeting rows, bids cut by InvalidBidFactor.
func cascadeBidCut(t *table.Table, campaigns *Outcome) (*Outcome, error) {
	if err := t.Schema().Require(domain.ColCampaignName, domain.ColBid, domain.ColAction); err != nil {
		return nil, err
	}

	names := make(map[string]struct{}, campaigns.Table.Len())
	for _, r := range campaigns.Table.Rows() {
		names[r.Text(domain.ColCampaignName)] = struct{}{}
	}

	related, err := t.Select(func(r *table.Record) (bool, error) {
		level := r.Text(domain.ColEntityLevel)
		if level != domain.EntityKeyword && level != domain.EntityProductTargeting {
			return false, nil
		}
		_, ok := names[r.Text(domain.ColCampaignName)]
		return ok, nil
	})
	if err != nil {
		return nil, err
	}

	cut := Mutation{
		Scale(domain.ColBid, InvalidBidFactor),
		SetText(domain.ColAction, domain.ActionUpdate),
	}
	for _, r := range related.Rows() {
		if err := cut.Apply(r); err != nil {
			return nil, err
		}
	}

	campaigns.Table = related
	campaigns.Hits = append(campaigns.Hits, BranchHit{Name: "bid-cut", Effects: cut, Rows: related.Len()})
	return campaigns, nil
}

func screenTrend(req Request, names []string) (*Outcome, error) {
	if req.Previous == nil {
		return nil, ErrMissingPrevious
	}
	declining, err := velocity.Compare(req.Previous, req.Table, req.Thresholds.Spend, names)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Family:    req.Family,
		Table:     declining,
		InputRows: req.Table.Len(),
		Hits:      []BranchHit{{Name: "spend-declining", Rows: declining.Len()}},
	}, nil
}

// uniqueIdentifiers drops blanks and duplicates so partitions stay disjoint.
func uniqueIdentifiers(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Family returns the declaration of a row-level family.
func (e *Engine) Family(kind domain.FamilyKind) (Family, bool) {
	f, ok := e.families[kind]
	if !ok {
		return Family{}, false
	}
	return f.Family, true
}
