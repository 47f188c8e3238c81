package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jtienhaara/musaico-sub031/memory/buffer"
	"github.com/jtienhaara/musaico-sub031/memory/region"
)

var (
	inspectSize   int64
	inspectWrites []int64
	inspectSync   bool
)

func init() {
	cmd := newInspectCmd()
	cmd.Flags().Int64Var(&inspectSize, "size", 64, "Number of fields in the buffer")
	cmd.Flags().Int64SliceVar(&inspectWrites, "write", []int64{0}, "Positions to write before inspecting")
	cmd.Flags().BoolVar(&inspectSync, "sync", false, "Write dirty pages back before inspecting")
	rootCmd.AddCommand(cmd)
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Show the page table of a freshly written buffer",
		Long: `The inspect command allocates one buffer, writes the given positions and
prints its page table: every page's region, swap state and dirty flag,
followed by the pages held in the swap store.

Example:
  vmctl inspect --size 256 --write 0,70,200
  vmctl inspect --size 256 --write 0,70,200 --sync --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context())
		},
	}
}

type pageRow struct {
	Region string `json:"region"`
	State  string `json:"state"`
	Dirty  bool   `json:"dirty"`
}

type storedRow struct {
	Key   string `json:"key"`
	Bytes uint64 `json:"bytes"`
}

type inspectReport struct {
	Segment string      `json:"segment"`
	Region  string      `json:"region"`
	Pages   []pageRow   `json:"pages"`
	Stored  []storedRow `json:"stored"`
}

func runInspect(ctx context.Context) error {
	if inspectSize <= 0 {
		return fmt.Errorf("--size must be positive")
	}

	s, err := newStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	r := region.Array.Range(0, inspectSize-1)
	b, err := s.memory.Allocate(ctx, vmctlCreds, r)
	if err != nil {
		return err
	}
	for _, i := range inspectWrites {
		p := region.Array.Position(i)
		if err := b.TrySet(ctx, p, buffer.Field{Name: fmt.Sprintf("f%d", i), Value: []byte(p.String())}); err != nil {
			return err
		}
	}
	if inspectSync {
		if err := b.Sync(ctx); err != nil {
			return err
		}
	}

	a := b.Segment().Area()
	rep := inspectReport{Segment: b.Segment().ID(), Region: a.Region().String()}
	for _, p := range a.Table().All() {
		rep.Pages = append(rep.Pages, pageRow{
			Region: p.Region().String(),
			State:  p.SwapState().Name(),
			Dirty:  p.Paging().IsDirty(p),
		})
	}
	keys, err := s.store.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		data, err := s.store.Load(ctx, k)
		if err != nil {
			return err
		}
		rep.Stored = append(rep.Stored, storedRow{Key: k, Bytes: uint64(len(data))})
	}

	if jsonOut {
		return printJSON(rep)
	}
	printInfo("%s", renderInspect(rep))
	return nil
}
