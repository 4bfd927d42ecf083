package vds

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"floe/internal/granule"
	"floe/internal/logging"
)

// DefaultDropVars are derived/ancillary variables not kept in the canonical
// store.
var DefaultDropVars = []string{"dt_1km_data", "sst_anomaly"}

// Builder is the external virtual-reference construction collaborator. Given
// one source file URL it produces a single-timestep dataset.
//
// BuildVirtual records byte-range references without touching payload bytes.
// BuildMaterialized resolves the references (fetching payload) and is used
// only for independent cross-validation, never for production writes.
type Builder interface {
	BuildVirtual(ctx context.Context, url string) (*VirtualDataset, error)
	BuildMaterialized(ctx context.Context, url string) (*VirtualDataset, error)
}

// AssembleOptions control dataset assembly.
type AssembleOptions struct {
	// Access selects which granule URL to resolve.
	Access granule.AccessMode
	// Virtual selects byte-range references (true) or materialized arrays.
	Virtual bool
	// Parallel bounds concurrent per-file builds; <= 1 means sequential.
	Parallel int
	// DropVars overrides DefaultDropVars when non-nil.
	DropVars []string
}

// Assembler turns located granules into one concatenated virtual dataset.
type Assembler struct {
	builder Builder
	logger  *slog.Logger
}

// NewAssembler creates an Assembler over the given builder collaborator.
func NewAssembler(builder Builder, logger *slog.Logger) *Assembler {
	logger = logging.Default(logger)
	return &Assembler{
		builder: builder,
		logger:  logger.With("component", "assembler"),
	}
}

// FromGranules resolves each granule to exactly one URL, builds a per-file
// dataset (in input order, optionally in parallel), applies the variable-drop
// policy, and concatenates along time with attribute reconciliation.
func (a *Assembler) FromGranules(ctx context.Context, granules []granule.Record, opts AssembleOptions) (*VirtualDataset, error) {
	if len(granules) == 0 {
		return nil, fmt.Errorf("assemble: no granules given")
	}
	dropVars := opts.DropVars
	if dropVars == nil {
		dropVars = DefaultDropVars
	}

	build := a.builder.BuildVirtual
	if !opts.Virtual {
		build = a.builder.BuildMaterialized
	}

	a.logger.Info("assembling dataset",
		"granules", len(granules),
		"virtual", opts.Virtual,
		"access", opts.Access.String())

	parts := make([]*VirtualDataset, len(granules))
	g, gctx := errgroup.WithContext(ctx)
	if opts.Parallel > 1 {
		g.SetLimit(opts.Parallel)
	} else {
		g.SetLimit(1)
	}
	for i, rec := range granules {
		g.Go(func() error {
			url := rec.URL(opts.Access)
			if url == "" {
				return fmt.Errorf("assemble: granule %s has no %s URL", rec.ID, opts.Access)
			}
			ds, err := build(gctx, url)
			if err != nil {
				return fmt.Errorf("assemble: granule %s: %w", rec.ID, err)
			}
			ds.DropVars(dropVars)
			parts[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out, err := Concat(parts...)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}
	a.logger.Debug("dataset assembled", "timesteps", len(out.Times), "vars", len(out.Vars))
	return out, nil
}
