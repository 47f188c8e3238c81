// Package swap implements the swap system behind a paged area.
//
// # Swap States
//
// A System has two SwapStates. Pages in the "fields" state are resident
// FieldPages whose Fields can be read and written directly. Pages in the
// "stored" state are StoredPages: placeholders whose Fields live, encoded by
// internal/fieldcodec, in a backing Store under the page key.
//
//	fields  --SwapOut-->  stored
//	stored  --SwapIn--->  fields
//
// # Dirty Pages
//
// System is also the KernelPaging authority of every page it creates. Set on
// a FieldPage marks it dirty; Clean writes a dirty FieldPage back to the
// Store. SwapOut cleans before handing back the StoredPage, so nothing
// written is lost on eviction.
//
// # Stores
//
//   - MemoryStore keeps encoded pages in a map. Useful for tests and as the
//     default when nothing should touch disk.
//   - BoltStore keeps them in one bucket of a bbolt database.
//   - MappedStore keeps them in fixed-size slots of a memory-mapped file and
//     flushes dirty slots with msync. Its slot index lives in memory, so like
//     a swap partition it starts empty every time it is opened.
package swap
