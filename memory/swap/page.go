package swap

import (
	"fmt"

	"github.com/jtienhaara/musaico-sub031/memory/buffer"
	"github.com/jtienhaara/musaico-sub031/memory/paging"
	"github.com/jtienhaara/musaico-sub031/memory/region"
)

// Key names the stored copy of the page of owner starting at r's start.
func Key(owner string, r region.Region) string {
	return fmt.Sprintf("%s/%d", owner, r.Start().Index())
}

// FieldPage is a resident page.
type FieldPage struct {
	sys    *System
	key    string
	fields *buffer.Fields
}

var _ paging.Page = (*FieldPage)(nil)

func (p *FieldPage) Region() region.Region       { return p.fields.Region() }
func (p *FieldPage) SwapState() paging.SwapState { return p.sys.fields }
func (p *FieldPage) Paging() paging.KernelPaging { return p.sys }

// Key returns the store key of the page.
func (p *FieldPage) Key() string { return p.key }

// Get returns the Field at pos, or NullField outside the page.
func (p *FieldPage) Get(pos region.Position) buffer.Field {
	return p.fields.Get(pos)
}

// Set stores f at pos and marks the page dirty. Positions outside the page
// are ignored.
func (p *FieldPage) Set(pos region.Position, f buffer.Field) {
	if !p.Region().Contains(pos) {
		return
	}
	p.fields.Set(pos, f)
	_ = p.sys.Dirty(p)
}

func (p *FieldPage) String() string {
	return fmt.Sprintf("fields%s", p.Region())
}

// StoredPage stands in for a page held by the Store.
type StoredPage struct {
	sys    *System
	key    string
	region region.Region
}

var _ paging.Page = (*StoredPage)(nil)

func (p *StoredPage) Region() region.Region       { return p.region }
func (p *StoredPage) SwapState() paging.SwapState { return p.sys.stored }
func (p *StoredPage) Paging() paging.KernelPaging { return p.sys }

// Key returns the store key of the page.
func (p *StoredPage) Key() string { return p.key }

func (p *StoredPage) String() string {
	return fmt.Sprintf("stored%s", p.region)
}
