package coldstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"civsense.world/internal/sim/chunk"
	"civsense.world/internal/sim/civcache"
	"civsense.world/internal/sim/encoding"
)

// Store is the cold persistence tier for evicted region aggregates: one
// sqlite row per (world, region key). Writes are fire-and-forget through a
// buffered channel drained by a single writer goroutine; reads are
// synchronous single-row lookups. The engine stays fully correct with no
// store at all, so every failure here degrades to a miss.
type Store struct {
	db  *sql.DB
	log *log.Logger

	ch   chan row
	wg   sync.WaitGroup
	once sync.Once

	// sendMu serializes enqueues against Close so a racing Persist can
	// never send on the closed channel.
	sendMu  sync.RWMutex
	closed  atomic.Bool
	dropped sync.Map // world -> struct{}; reads short-circuit

	enc *zstd.Encoder
	dec *zstd.Decoder
}

type row struct {
	world string
	key   chunk.RegionKey
	snap  civcache.RegionSnapshot
}

func Open(path string, logger *log.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:  db,
		log: logger,
		// Sized for burst evictions of many regions at once.
		ch:  make(chan row, 16384),
		enc: enc,
		dec: dec,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS coarse_entries (
			world TEXT NOT NULL,
			rx INTEGER NOT NULL,
			rz INTEGER NOT NULL,
			ry INTEGER NOT NULL,
			scores BLOB NOT NULL,
			states BLOB NOT NULL,
			presence_ms INTEGER NOT NULL,
			touched_ms INTEGER NOT NULL,
			PRIMARY KEY (world, rx, rz, ry)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_coarse_touched ON coarse_entries(world, touched_ms);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.sendMu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.sendMu.Unlock()
		s.wg.Wait()
		s.enc.Close()
		s.dec.Close()
		err = s.db.Close()
	})
	return err
}

/// Persist enqueues one evicted region. Never blocks: if the writer falls
// behind, the row is dropped — the entry is re-derivable from the world.
// Implements civcache.ColdSink.
func (s *Store) Persist(world string, key chunk.RegionKey, snap civcache.RegionSnapshot) {
	if s == nil {
		return
	}
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- row{world: world, key: key, snap: snap}:
	default:
		if s.log != nil {
			s.log.Printf("coldstore: write queue full, dropping region %+v of %s", key, world)
		}
	}
}

// Load fetches one row. Any failure — missing row, timeout, closed store,
// dropped world — is reported as a plain miss.
func (s *Store) Load(ctx context.Context, world string, key chunk.RegionKey) (civcache.RegionSnapshot, bool) {
	if s == nil || s.closed.Load() {
		return civcache.RegionSnapshot{}, false
	}
	if _, gone := s.dropped.Load(world); gone {
		return civcache.RegionSnapshot{}, false
	}

	var (
		scoresBlob []byte
		statesBlob []byte
		presenceMS int64
		touchedMS  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT scores, states, presence_ms, touched_ms FROM coarse_entries WHERE world=? AND rx=? AND rz=? AND ry=?`,
		world, key.RX, key.RZ, key.RY,
	).Scan(&scoresBlob, &statesBlob, &presenceMS, &touchedMS)
	if err != nil {
		if err != sql.ErrNoRows && s.log != nil {
			s.log.Printf("coldstore: load %+v of %s: %v", key, world, err)
		}
		return civcache.RegionSnapshot{}, false
	}

	states, err := encoding.DecodeStates(statesBlob)
	if err != nil || len(states) != key.Cells() {
		if s.log != nil {
			s.log.Printf("coldstore: corrupt state blob for %+v of %s: %v", key, world, err)
		}
		return civcache.RegionSnapshot{}, false
	}
	scores, err := s.decodeScores(scoresBlob, len(states))
	if err != nil {
		if s.log != nil {
			s.log.Printf("coldstore: corrupt score blob for %+v of %s: %v", key, world, err)
		}
		return civcache.RegionSnapshot{}, false
	}
	return civcache.RegionSnapshot{
		Scores:   scores,
		States:   states,
		Presence: time.UnixMilli(presenceMS),
		Touched:  time.UnixMilli(touchedMS),
	}, true
}

// DropWorld makes subsequent reads for the world short-circuit immediately.
// In-flight writes are allowed to complete; the data is keyed by world and
// position, not by session.
func (s *Store) DropWorld(world string) {
	s.dropped.Store(world, struct{}{})
}

// AdmitWorld re-enables reads for a world after a DropWorld.
func (s *Store) AdmitWorld(world string) {
	s.dropped.Delete(world)
}

func (s *Store) loop() {
	upsert, err := s.db.Prepare(
		`INSERT OR REPLACE INTO coarse_entries(world,rx,rz,ry,scores,states,presence_ms,touched_ms) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		if s.log != nil {
			s.log.Printf("coldstore: prepare: %v", err)
		}
		for range s.ch {
		}
		return
	}
	defer upsert.Close()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = 2 * time.Second
	)

	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if tx == nil {
			txx, err := s.db.BeginTx(context.Background(), nil)
			if err != nil {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			tx = txx
		}
		if err := s.writeRow(tx.Stmt(upsert), r); err != nil {
			if s.log != nil {
				s.log.Printf("coldstore: write %+v of %s: %v", r.key, r.world, err)
			}
			_ = tx.Rollback()
			tx = nil
			opCount = 0
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	commit()
}

func (s *Store) writeRow(stmt *sql.Stmt, r row) error {
	defer stmt.Close()
	_, err := stmt.Exec(
		r.world,
		r.key.RX, r.key.RZ, r.key.RY,
		s.encodeScores(r.snap.Scores),
		encoding.EncodeStates(r.snap.States),
		r.snap.Presence.UnixMilli(),
		r.snap.Touched.UnixMilli(),
	)
	return err
}

// Score blobs are little-endian float64 arrays, zstd-compressed. Runs of
// zero cells compress to almost nothing.
func (s *Store) encodeScores(scores []float64) []byte {
	raw := make([]byte, 8*len(scores))
	for i, v := range scores {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
	}
	return s.enc.EncodeAll(raw, nil)
}

func (s *Store) decodeScores(blob []byte, cells int) ([]float64, error) {
	raw, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, err
	}
	if len(raw) != 8*cells {
		return nil, fmt.Errorf("score blob holds %d bytes, want %d", len(raw), 8*cells)
	}
	scores := make([]float64, cells)
	for i := range scores {
		scores[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return scores, nil
}
