package hostdb

import "time"

// StartTick launches the background 1-Hz task described in spec §4.8,
// adapted from the teacher's startCacheCleanup (cache.go): a
// time.Ticker drives DB.Tick once a second until Stop is called.
func (db *DB) StartTick() {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case now := <-ticker.C:
				db.Tick(now)
			case <-db.stopTick:
				return
			}
		}
	}()
}

// Stop halts the background tick goroutine started by StartTick.
func (db *DB) Stop() {
	close(db.stopTick)
}
