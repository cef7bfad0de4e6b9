package hostdb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Snapshot format constants, spec §4.7.
const (
	snapshotMagic       uint32 = 0x48445342 // "HDSB"
	snapshotMajor       uint8  = 1
	snapshotMinor       uint8  = 0
	snapshotObjectMajor uint8  = 1
	snapshotObjectMinor uint8  = 0
)

// writeHeader writes the fixed 8-byte header: magic(u32) major(u8)
// minor(u8) object_major(u8) object_minor(u8), little-endian.
func writeHeader(w io.Writer) error {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], snapshotMagic)
	buf[4] = snapshotMajor
	buf[5] = snapshotMinor
	buf[6] = snapshotObjectMajor
	buf[7] = snapshotObjectMinor
	_, err := w.Write(buf[:])
	return err
}

// readHeader reads and validates the header. Compatibility follows
// original_source's RefCountCacheHeader.compatible: major must match
// exactly, minor must be >= what's on disk, checked independently for
// the cache format (major/minor) and the stored object format
// (object_major/object_minor).
func readHeader(r io.Reader) error {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("read snapshot header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != snapshotMagic {
		return fmt.Errorf("snapshot magic mismatch: got %#x want %#x", magic, snapshotMagic)
	}
	major, minor := buf[4], buf[5]
	objMajor, objMinor := buf[6], buf[7]
	if major != snapshotMajor || minor > snapshotMinor {
		return fmt.Errorf("snapshot format %d.%d incompatible with %d.%d", major, minor, snapshotMajor, snapshotMinor)
	}
	if objMajor != snapshotObjectMajor || objMinor > snapshotObjectMinor {
		return fmt.Errorf("snapshot object format %d.%d incompatible with %d.%d", objMajor, objMinor, snapshotObjectMajor, snapshotObjectMinor)
	}
	return nil
}

// writeRecordFrame writes one meta+payload frame: key(u64)
// payload_size(u32) expiry(i64) then the marshaled payload.
func writeRecordFrame(w io.Writer, r *Record) error {
	payload, err := r.Marshal()
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	var meta [20]byte
	binary.LittleEndian.PutUint64(meta[0:8], r.Key.Fold())
	binary.LittleEndian.PutUint32(meta[8:12], uint32(len(payload)))
	expiry := int64(-1)
	if !r.ExpiryTime().IsZero() {
		expiry = r.ExpiryTime().Unix()
	}
	binary.LittleEndian.PutUint64(meta[12:20], uint64(expiry))
	if _, err := w.Write(meta[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// readRecordFrame reads one meta+payload frame, returning the decoded
// Record and its on-disk expiry (epoch seconds, -1 = never).
func readRecordFrame(r io.Reader) (rec *Record, expiry int64, err error) {
	var meta [20]byte
	if _, err := io.ReadFull(r, meta[:]); err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		return nil, 0, fmt.Errorf("read record meta: %w", err)
	}
	size := binary.LittleEndian.Uint32(meta[8:12])
	expiry = int64(binary.LittleEndian.Uint64(meta[12:20]))

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, 0, fmt.Errorf("read record payload: %w", err)
	}
	rec, err = UnmarshalRecord(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, expiry, nil
}

// WriteSnapshot implements spec §4.7's write protocol: for each
// partition in order, briefly lock it to copy out live handles, then
// write their frames outside the lock, pacing so elapsed time tracks
// (partition_index+1) * syncPeriod / K. Output goes to path+".syncing"
// and is atomically renamed over path on success; on any error the
// temp file is removed and the previous snapshot is left intact.
func (c *Cache) WriteSnapshot(path string, syncPeriod time.Duration) error {
	tmpPath := path + ".syncing"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	bw := bufio.NewWriter(f)

	if err := writeHeader(bw); err != nil {
		bw.Flush()
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write snapshot header: %w", err)
	}

	k := len(c.partitions)
	var totalItems, totalSize int64
	start := time.Now()
	for i, p := range c.partitions {
		live := p.snapshotLive()
		for _, r := range live {
			if r.ExpiryTime().After(time.Now()) {
				if err := writeRecordFrame(bw, r); err != nil {
					for _, rr := range live {
						rr.Release()
					}
					bw.Flush()
					f.Close()
					os.Remove(tmpPath)
					return fmt.Errorf("write snapshot record: %w", err)
				}
				totalItems++
				totalSize += entrySize(r)
			}
			r.Release()
		}

		if syncPeriod > 0 && k > 0 {
			budget := syncPeriod * time.Duration(i+1) / time.Duration(k)
			if sleep := budget - time.Since(start); sleep > 0 {
				time.Sleep(sleep)
			}
		}
	}

	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close snapshot: %w", err)
	}

	if dir, derr := os.Open(filepath.Dir(path)); derr == nil {
		dir.Sync()
		dir.Close()
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot into place: %w", err)
	}

	c.stats.recordSync(totalItems, totalSize, time.Now().Unix())
	return nil
}

// ReadSnapshot implements spec §4.7's read protocol: validates the
// header, reads each frame, skips entries whose expiry is already
// past, and inserts the rest via put with ttl = expiry - now clamped
// to >= 0.
func (c *Cache) ReadSnapshot(path string, now time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if err := readHeader(br); err != nil {
		return err
	}

	for {
		rec, expiry, err := readRecordFrame(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if expiry >= 0 && expiry <= now.Unix() {
			continue
		}
		var ttl time.Duration
		if expiry < 0 {
			ttl = c.config.MaxTTLDuration()
		} else {
			ttl = time.Duration(expiry-now.Unix()) * time.Second
			if ttl < 0 {
				ttl = 0
			}
		}
		rec.ResponseTime = now
		rec.TTL = ttl
		c.partitionFor(rec.Key).put(rec.Key.Fold(), rec, ttl, now)
	}
	return nil
}
