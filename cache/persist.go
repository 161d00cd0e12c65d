package cache

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/miekg/dns"
)

// fileVersion is the cache-file format version (spec §6.3). Unknown
// versions invalidate the whole file rather than attempting partial reads.
const fileVersion uint16 = 1

// SaveSnapshot serializes every fresh entry to path using the length-prefixed
// record format from spec §6.3:
//
//	{version:u16, count:u32, [entry...]}
//	entry = {key_len:u16, key:bytes, stored_at:u64, ttl:u32, msg_len:u32, msg:bytes}
//
// Persistence errors are CacheErrors: logged and ignored by the caller
// (spec §7), never fatal — SaveSnapshot itself just returns the error and
// leaves that judgment to the caller.
func (c *Cache) SaveSnapshot(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("cache: create snapshot: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	type rec struct {
		key      Key
		storedAt time.Time
		ttl      uint32
		wire     []byte
	}
	var records []rec
	c.ForEach(func(k Key, msg *dns.Msg, storedAt time.Time, ttl uint32) {
		wire, packErr := msg.Pack()
		if packErr != nil {
			return
		}
		records = append(records, rec{key: k, storedAt: storedAt, ttl: ttl, wire: wire})
	})

	if err := binary.Write(w, binary.BigEndian, fileVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(records))); err != nil {
		return err
	}
	for _, r := range records {
		keyBytes := encodeKey(r.key)
		if err := binary.Write(w, binary.BigEndian, uint16(len(keyBytes))); err != nil {
			return err
		}
		if _, err := w.Write(keyBytes); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, uint64(r.storedAt.Unix())); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, r.ttl); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, uint32(len(r.wire))); err != nil {
			return err
		}
		if _, err := w.Write(r.wire); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadSnapshot reads path written by SaveSnapshot, discarding entries whose
// effective TTL has already elapsed (spec §6.3 round-trip law) and ignoring
// the file entirely if its version doesn't match fileVersion.
func (c *Cache) LoadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cache: open snapshot: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return fmt.Errorf("cache: read snapshot version: %w", err)
	}
	if version != fileVersion {
		return fmt.Errorf("cache: unknown snapshot version %d", version)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return err
	}

	now := c.now()
	for i := uint32(0); i < count; i++ {
		var keyLen uint16
		if err := binary.Read(r, binary.BigEndian, &keyLen); err != nil {
			return err
		}
		keyBytes := make([]byte, keyLen)
		if _, err := io.ReadFull(r, keyBytes); err != nil {
			return err
		}
		key, err := decodeKey(keyBytes)
		if err != nil {
			return err
		}

		var storedAtUnix uint64
		if err := binary.Read(r, binary.BigEndian, &storedAtUnix); err != nil {
			return err
		}
		var ttl uint32
		if err := binary.Read(r, binary.BigEndian, &ttl); err != nil {
			return err
		}
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return err
		}
		wire := make([]byte, msgLen)
		if _, err := io.ReadFull(r, wire); err != nil {
			return err
		}

		storedAt := time.Unix(int64(storedAtUnix), 0)
		if now.Sub(storedAt) > time.Duration(ttl)*time.Second {
			continue // stale; discard per spec §6.3
		}

		msg := new(dns.Msg)
		if err := msg.Unpack(wire); err != nil {
			continue
		}

		sh := c.shardFor(key)
		sh.mu.Lock()
		e := &entry{key: key, msg: msg, storedAt: storedAt, originalTTL: ttl}
		e.elem = sh.lru.PushBack(e) // loaded entries start as least-recently-used
		sh.items[key] = e
		sh.mu.Unlock()
	}
	return nil
}

func encodeKey(k Key) []byte {
	buf := make([]byte, 0, len(k.Name)+5)
	buf = append(buf, byte(k.Qtype>>8), byte(k.Qtype))
	buf = append(buf, byte(k.Qclass>>8), byte(k.Qclass))
	buf = append(buf, k.Name...)
	return buf
}

func decodeKey(b []byte) (Key, error) {
	if len(b) < 4 {
		return Key{}, fmt.Errorf("cache: truncated key")
	}
	qtype := uint16(b[0])<<8 | uint16(b[1])
	qclass := uint16(b[2])<<8 | uint16(b[3])
	name := string(b[4:])
	return Key{Name: name, Qtype: qtype, Qclass: qclass}, nil
}
