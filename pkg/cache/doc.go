// Package cache implements a tag-indexed cache over a shared atomic store.
//
// Entries are written under "{module}:{key}" (or "{key}" without a module)
// and every tag keeps a set of the physical keys carrying it, under
// "tags:{module}:{tag}" or "tags:{tag}". Invalidating a tag deletes each
// member and then the set. Tags are isolated per module, except the reserved
// "frequent" tag, whose index is shared by every module.
//
// # Quick Start
//
//	c, err := cache.New(cache.Config{Store: st, DefaultExpiration: 10 * time.Minute})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	err = c.Set(ctx, "order:1", payload, cache.EntryOptions{
//		Expiration: 5 * time.Minute,
//		Tags:       []string{"customer:42"},
//		Module:     "orders",
//	})
//	if err != nil && !errors.IsWarning(err) {
//		return err
//	}
//
//	n, err := c.InvalidateByTag(ctx, "customer:42", "orders")
//
// # Typed values
//
// GetAs, SetAs and GetOrSetAs encode values with the configured Codec,
// MessagePack by default:
//
//	order, ok, err := cache.GetAs[Order](ctx, c, "order:1", "orders")
//
// # Consistency
//
// Single-entry operations inherit the store's per-key atomicity. The tag
// index is eventually consistent: members may point at expired or removed
// entries until InvalidateByTag or PruneTag drops them, and a partial index
// failure during Set is reported as a warning-level
// *errors.PartialIndexError while the entry stays readable. A Set racing an
// InvalidateByTag on the same tag may land on either side of it.
//
// Setting GuardInvalidation with a Locker serialises invalidations and prunes
// of the same tag. Concurrent GetOrSet misses for one key share a single
// factory call within a process; GuardFill extends that across processes
// through a "fill:" lock.
package cache
