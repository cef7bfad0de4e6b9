package hostdb

import (
	"context"
	"net"
	"time"
)

// resolveKey implements the bulk of spec §4.4's state machine for a
// name-keyed resolution (NEW→PROBE→{RETURN_HIT, SYNTH_HOSTFILE,
// PENDING_FIRST, PENDING_FOLLOWER, STALE_REFRESH}). Go's goroutines
// and channels stand in for the continuation/event-loop machinery the
// spec describes: resolveKey blocks the calling goroutine exactly at
// the suspension points spec §5 allows (issuing DNS, waiting on a
// pending queue), never anywhere else.
func (db *DB) resolveKey(ctx context.Context, key Key, name string, typ RecordType, family Family, style FamilyStyle, opts ResolveOptions) (*Record, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = db.config.TimeoutDuration()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	now := time.Now()
	p := db.cache.partitionFor(key)

	// PROBE
	if !opts.ForceDNS {
		if rec := p.get(key.Fold()); rec != nil {
			if !rec.IsExpired(now) {
				if rec.IsConfiguredStale(now, db.config.VerifyAfterDuration()) && p.admitStaleRefresh(key.Fold()) {
					go db.runDNSAndPublish(timeout, key, name, typ, family, style, rec)
				}
				return rec, nil // RETURN_HIT
			}
			if rec.ServeStaleAllowed(now, db.config.ServeStaleForDuration()) {
				db.stats.totalServeStale.Add(1)
				if p.admitStaleRefresh(key.Fold()) {
					go db.runDNSAndPublish(timeout, key, name, typ, family, style, rec)
				}
				return rec, nil // STALE_REFRESH
			}
			db.stats.ttlExpires.Add(1)
		}
	}

	// SYNTH_HOSTFILE
	if db.hostfile != nil && typ == RecordAddr {
		if hf := db.hostfile.Get(); hf != nil {
			if rec := hf.lookupForward(name, family); rec != nil {
				return rec, nil
			}
		}
	}

	// PENDING_FIRST / PENDING_FOLLOWER
	w := newWaiter()
	if p.admitPending(key.Fold(), w) {
		go db.runDNSAndPublish(timeout, key, name, typ, family, style, nil)
	}

	select {
	case rec := <-w.ch:
		return rec, nil
	case <-ctx.Done():
		w.Cancel()
		return nil, ctx.Err()
	}
}

// resolveAddrKey is resolveKey's reverse-lookup counterpart: same
// coalescing shape, but there is no hosts-file-forward/literal-IP path
// (those are handled by ResolveByAddr before this is called) and no
// family fallback (PTR has no family axis).
func (db *DB) resolveAddrKey(ctx context.Context, key Key, addr net.IP, opts ResolveOptions) (*Record, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = db.config.TimeoutDuration()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	now := time.Now()
	p := db.cache.partitionFor(key)

	if !opts.ForceDNS {
		if rec := p.get(key.Fold()); rec != nil {
			if !rec.IsExpired(now) {
				return rec, nil
			}
			if rec.ServeStaleAllowed(now, db.config.ServeStaleForDuration()) {
				db.stats.totalServeStale.Add(1)
				if p.admitStaleRefresh(key.Fold()) {
					go db.runAddrDNSAndPublish(timeout, key, addr)
				}
				return rec, nil
			}
			db.stats.ttlExpires.Add(1)
		}
	}

	w := newWaiter()
	if p.admitPending(key.Fold(), w) {
		go db.runAddrDNSAndPublish(timeout, key, addr)
	}

	select {
	case rec := <-w.ch:
		return rec, nil
	case <-ctx.Done():
		w.Cancel()
		return nil, ctx.Err()
	}
}

// detachedContext builds a context carrying timeout but rooted at
// Background rather than the admitting caller's ctx (spec §4.4's
// cancellation semantics: "It does not cancel DNS even if it was
// PENDING_FIRST, because followers may still need the result"). A
// plain child context would be cancelled the moment the admitting
// caller's own ctx is cancelled or times out, which is exactly the
// behavior the spec forbids. The returned cancel must be called once
// the goroutine it was built for returns, so its timer does not leak
// until the full timeout elapses.
func detachedContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// runDNSAndPublish issues DNS (DNS_IN_FLIGHT), handles family fallback
// and failure, builds and publishes the resulting Record (DNS_DONE_OK
// / DNS_DONE_FAIL / PUBLISH), and wakes every waiter queued for key
// (WAKE). predecessor, if non-nil, is the stale record being refreshed
// in the STALE_REFRESH path; its target liveness is migrated into the
// new Record either way.
func (db *DB) runDNSAndPublish(timeout time.Duration, key Key, name string, typ RecordType, family Family, style FamilyStyle, predecessor *Record) {
	ctx, cancel := detachedContext(timeout)
	defer cancel()

	origKey := key
	origPartition := db.cache.partitionFor(origKey)
	p := origPartition
	var rec *Record
	var err error

	if typ == RecordSRV {
		rec, err = db.lookupSRV(ctx, key, name, predecessor)
	} else {
		rec, err = db.lookupAddr(ctx, key, name, family, predecessor)
		if (err != nil || rec == nil || rec.Failed) && style.allowsFallback() {
			fb := fallbackFamily(family)
			fbMark := markForFamily(fb)
			fbKey := hashKey(name, 0, fbMark, "")
			fbRec, fbErr := db.lookupAddr(ctx, fbKey, name, fb, nil)
			if fbErr == nil && fbRec != nil && !fbRec.Failed {
				rec, err = fbRec, nil
				key = fbKey
				p = db.cache.partitionFor(key)
			}
		}
	}

	if rec == nil {
		rec = MarkFailed(key, name, typ, family, time.Now(), clampTTL(db.config.FailTimeoutDuration(), db.config.MaxTTLDuration()))
	}

	p.put(key.Fold(), rec, rec.TTL, time.Now())

	// Waiters coalesced onto origKey's pending queue (spec §4.4
	// PENDING_FIRST/FOLLOWER) regardless of which key the record
	// ultimately publishes under — FAMILY_FALLBACK changes the mark on
	// the published key, but every caller that queued behind this
	// request is still parked on origKey.
	if origKey == key {
		for _, w := range p.wake(key.Fold()) {
			w.Deliver(rec)
		}
	} else {
		for _, w := range origPartition.wake(origKey.Fold()) {
			w.Deliver(rec)
		}
	}
}

func (db *DB) runAddrDNSAndPublish(timeout time.Duration, key Key, addr net.IP) {
	ctx, cancel := detachedContext(timeout)
	defer cancel()

	p := db.cache.partitionFor(key)
	resp, err := db.resolver.LookupAddr(ctx, addr)

	var rec *Record
	if err == nil && resp.Success {
		rec = NewRecord(key, resp.CanonicalName, RecordHost, FamilyUnspec, 0)
		rec.ResponseTime = time.Now()
		rec.TTL = resolveTTL(db.config.TTLMode, 0, db.config.DefaultTTLDuration(), db.config.MaxTTLDuration())
	} else {
		rec = MarkFailed(key, addr.String(), RecordHost, FamilyUnspec, time.Now(), clampTTL(db.config.FailTimeoutDuration(), db.config.MaxTTLDuration()))
	}

	p.put(key.Fold(), rec, rec.TTL, time.Now())
	for _, w := range p.wake(key.Fold()) {
		w.Deliver(rec)
	}
}

// lookupAddr performs a single gethostbyname attempt and builds the
// DNS_DONE_OK/DNS_DONE_FAIL Record, migrating liveness from
// predecessor (spec §4.4). It does not publish or wake; callers do
// that once, after any family fallback has been decided.
func (db *DB) lookupAddr(ctx context.Context, key Key, name string, family Family, predecessor *Record) (*Record, error) {
	resp, err := db.resolver.LookupHost(ctx, name, family)
	if err != nil {
		return nil, err
	}
	if !resp.Success || len(resp.Addresses) == 0 {
		if predecessor != nil && predecessor.ServeStaleAllowed(time.Now(), db.config.ServeStaleForDuration()) {
			return predecessor, nil
		}
		return nil, nil
	}

	max := db.config.RoundRobinMaxCount
	addrs := resp.Addresses
	var skipped int
	valid := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if a == nil || a.IsUnspecified() {
			skipped++
			continue
		}
		valid = append(valid, a)
		if max > 0 && len(valid) >= max {
			break
		}
	}
	if skipped > 0 && db.logger != nil {
		db.logger.Debugf("hostdb: %s: skipped %d invalid addresses in response", name, skipped)
	}
	if len(valid) == 0 {
		return nil, nil
	}

	rec := NewRecord(key, name, RecordAddr, family, len(valid))
	for i, a := range valid {
		rec.Targets[i].IP = a
	}
	rec.ResponseTime = time.Now()
	rec.TTL = resolveTTL(db.config.TTLMode, resp.TTL, db.config.DefaultTTLDuration(), db.config.MaxTTLDuration())
	db.stats.ttlSum.Add(int64(rec.TTL / time.Second))
	rec.migrateLiveness(predecessor)
	return rec, nil
}

// lookupSRV performs getSRVbyname and builds the SRV Record, sorted
// by priority ascending per invariant 3 (within-priority order is
// whatever stable order the resolver returned, serving as the
// "pre-randomization at construction" the spec allows).
func (db *DB) lookupSRV(ctx context.Context, key Key, name string, predecessor *Record) (*Record, error) {
	resp, err := db.resolver.LookupSRV(ctx, name)
	if err != nil {
		return nil, err
	}
	if !resp.Success || len(resp.Records) == 0 {
		if predecessor != nil && predecessor.ServeStaleAllowed(time.Now(), db.config.ServeStaleForDuration()) {
			return predecessor, nil
		}
		return nil, nil
	}

	answers := append([]SRVAnswer(nil), resp.Records...)
	sortSRVByPriority(answers)

	rec := NewRecord(key, name, RecordSRV, FamilyUnspec, len(answers))
	for i, a := range answers {
		rec.Targets[i].Priority = a.Priority
		rec.Targets[i].Weight = a.Weight
		rec.Targets[i].Port = a.Port
		rec.Targets[i].SRVName = a.Target
	}
	rec.ResponseTime = time.Now()
	rec.TTL = resolveTTL(db.config.TTLMode, resp.TTL, db.config.DefaultTTLDuration(), db.config.MaxTTLDuration())
	rec.migrateLiveness(predecessor)
	return rec, nil
}

func sortSRVByPriority(a []SRVAnswer) {
	for i := 1; i < len(a); i++ {
		j := i
		for j > 0 && a[j-1].Priority > a[j].Priority {
			a[j-1], a[j] = a[j], a[j-1]
			j--
		}
	}
}
