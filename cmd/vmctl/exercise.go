package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jtienhaara/musaico-sub031/memory/buffer"
	"github.com/jtienhaara/musaico-sub031/memory/region"
	"github.com/jtienhaara/musaico-sub031/memory/security"
)

var (
	exerciseBuffers int
	exerciseFields  int
)

var vmctlCreds = security.Credentials{ID: "vmctl", Name: "vmctl"}

func init() {
	cmd := newExerciseCmd()
	cmd.Flags().IntVar(&exerciseBuffers, "buffers", 4, "Number of buffers to allocate")
	cmd.Flags().IntVar(&exerciseFields, "fields", 256, "Fields written to each buffer")
	rootCmd.AddCommand(cmd)
}

func newExerciseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exercise",
		Short: "Allocate, fill, verify and free buffers",
		Long: `The exercise command allocates buffers through the configured stack,
writes a distinct field to every position, syncs, reads everything back and
frees the buffers, then reports paging and request statistics.

Example:
  vmctl exercise --buffers 8 --fields 1000
  vmctl exercise -c vm.yaml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExercise(cmd.Context())
		},
	}
}

type exerciseReport struct {
	Buffers     int                `json:"buffers"`
	Fields      int                `json:"fields"`
	Failures    int                `json:"failures"`
	Mismatches  int                `json:"mismatches"`
	Pages       int                `json:"pages"`
	Resident    int                `json:"resident"`
	StoredPages int                `json:"stored_pages"`
	StoredBytes uint64             `json:"stored_bytes"`
	Elapsed     time.Duration      `json:"elapsed_ns"`
	Metrics     map[string]float64 `json:"metrics"`
}

func exerciseField(b, i int) buffer.Field {
	return buffer.Field{Name: fmt.Sprintf("b%d.f%d", b, i), Value: fmt.Appendf(nil, "value-%d-%d", b, i)}
}

func runExercise(ctx context.Context) error {
	if exerciseBuffers <= 0 || exerciseFields <= 0 {
		return fmt.Errorf("--buffers and --fields must be positive")
	}

	start := time.Now()
	s, err := newStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	rep := exerciseReport{Buffers: exerciseBuffers, Fields: exerciseFields}
	n := int64(exerciseFields)

	for bi := range exerciseBuffers {
		r := region.Array.Range(int64(bi)*n, int64(bi+1)*n-1)
		b, err := s.memory.Allocate(ctx, vmctlCreds, r)
		if err != nil {
			return err
		}
		printVerbose("allocated %s as segment %s\n", r, b.Segment().ID())

		for i := range exerciseFields {
			p := r.Start().Add(region.Array.Size(int64(i)))
			if err := b.TrySet(ctx, p, exerciseField(bi, i)); err != nil {
				rep.Failures++
				printVerbose("set %s: %v\n", p, err)
			}
		}
		if err := b.Sync(ctx); err != nil {
			return err
		}
		for i := range exerciseFields {
			p := r.Start().Add(region.Array.Size(int64(i)))
			got, err := b.TryGet(ctx, p)
			switch {
			case err != nil:
				rep.Failures++
				printVerbose("get %s: %v\n", p, err)
			case !got.Equal(exerciseField(bi, i)):
				rep.Mismatches++
			}
		}

		st := b.Segment().Area().Stats()
		rep.Pages += st.Pages
		rep.Resident += st.Resident
	}

	keys, err := s.store.Keys(ctx)
	if err != nil {
		return err
	}
	rep.StoredPages = len(keys)
	for _, k := range keys {
		data, err := s.store.Load(ctx, k)
		if err != nil {
			return err
		}
		rep.StoredBytes += uint64(len(data))
	}

	if err := s.memory.Close(ctx); err != nil {
		return err
	}
	rep.Elapsed = time.Since(start)
	if rep.Metrics, err = s.counters(); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(rep)
	}
	printInfo("%s", renderExercise(rep))
	return nil
}
