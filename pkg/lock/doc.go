// Package lock provides a distributed mutual-exclusion lock on top of an
// AtomicStore.
//
// # Protocol
//
// A lock is a single key, lock:{name}, holding a random holder token:
//
//   - Acquire writes the token with SET-if-absent and a lease. It never blocks;
//     a held lock yields errors.ErrAlreadyHeld.
//   - Renew extends the lease only while the stored token is still ours.
//   - Release deletes the key only while the stored token is still ours, in one
//     atomic script. A holder whose lease already expired gets
//     errors.ErrLostOwnership and cannot delete the next holder's lock.
//
// Leases are bounded by Config.MaxDuration (at least one second). A holder
// that crashes leaves the lock to expire; a holder that runs longer than its
// lease without calling Renew may overlap with the next holder.
//
// # Quick Start
//
//	locker, err := lock.New(lock.Config{Store: st, MaxDuration: 10 * time.Second})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	err = locker.WithLock(ctx, "reports:rebuild", 5*time.Second, func(ctx context.Context, h *lock.Handle) error {
//		return rebuild(ctx)
//	})
//
// AcquireWithTimeout polls with jittered exponential backoff so that many
// processes waiting on one lock do not retry in lockstep.
package lock
