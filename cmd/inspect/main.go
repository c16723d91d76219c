package main

import (
	"bufio"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"civsense.world/internal/sim/encoding"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "regions":
			regionsCmd(os.Args[2:])
			return
		case "decisions":
			decisionsCmd(os.Args[2:])
			return
		}
	}
	worldsCmd(os.Args[1:])
}

// worldsCmd prints one summary row per world found in the cold store.
func worldsCmd(args []string) {
	fs := flag.NewFlagSet("worlds", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/scores.db)")
	_ = fs.Parse(args)

	db := openDB(*dataDir, *dbPath)
	defer db.Close()

	rows, err := db.Query(
		`SELECT world, COUNT(*), MIN(touched_ms), MAX(touched_ms), MAX(presence_ms)
		 FROM coarse_entries GROUP BY world ORDER BY world`)
	if err != nil {
		fatal("query:", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			world                              string
			regions                            int
			oldestMS, newestMS, lastPresenceMS int64
		)
		if err := rows.Scan(&world, &regions, &oldestMS, &newestMS, &lastPresenceMS); err != nil {
			fatal("scan:", err)
		}
		printJSON(struct {
			World        string `json:"world"`
			Regions      int    `json:"regions"`
			Oldest       string `json:"oldest"`
			Newest       string `json:"newest"`
			LastPresence string `json:"last_presence"`
		}{
			World:        world,
			Regions:      regions,
			Oldest:       time.UnixMilli(oldestMS).UTC().Format(time.RFC3339),
			Newest:       time.UnixMilli(newestMS).UTC().Format(time.RFC3339),
			LastPresence: time.UnixMilli(lastPresenceMS).UTC().Format(time.RFC3339),
		})
	}
}

// regionsCmd prints per-region rows for one world, decoded score sums
// included, newest first.
func regionsCmd(args []string) {
	fs := flag.NewFlagSet("regions", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/scores.db)")
	world := fs.String("world", "", "world id (required)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	if strings.TrimSpace(*world) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	if *limit <= 0 {
		*limit = 20
	}

	db := openDB(*dataDir, *dbPath)
	defer db.Close()

	dec, err := zstd.NewReader(nil)
	if err != nil {
		fatal("zstd:", err)
	}
	defer dec.Close()

	rows, err := db.Query(
		`SELECT rx, rz, ry, scores, states, presence_ms, touched_ms
		 FROM coarse_entries WHERE world=? ORDER BY touched_ms DESC LIMIT ?`,
		*world, *limit)
	if err != nil {
		fatal("query:", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rx, rz, ry             int
			scoresBlob, statesBlob []byte
			presenceMS, touchedMS  int64
		)
		if err := rows.Scan(&rx, &rz, &ry, &scoresBlob, &statesBlob, &presenceMS, &touchedMS); err != nil {
			fatal("scan:", err)
		}

		sum, valid, dirty, force := 0.0, 0, 0, 0
		states, serr := encoding.DecodeStates(statesBlob)
		if raw, err := dec.DecodeAll(scoresBlob, nil); serr == nil && err == nil && len(raw) == 8*len(states) {
			for i, st := range states {
				switch st {
				case 1:
					valid++
					sum += math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
				case 2:
					dirty++
				case 3:
					valid++
					force++
				}
			}
		}

		printJSON(struct {
			RX       int     `json:"rx"`
			RZ       int     `json:"rz"`
			RY       int     `json:"ry"`
			Sum      float64 `json:"sum"`
			Valid    int     `json:"valid"`
			Dirty    int     `json:"dirty"`
			Force    int     `json:"force"`
			Presence string  `json:"presence"`
			Touched  string  `json:"touched"`
		}{
			RX: rx, RZ: rz, RY: ry,
			Sum: sum, Valid: valid, Dirty: dirty, Force: force,
			Presence: time.UnixMilli(presenceMS).UTC().Format(time.RFC3339),
			Touched:  time.UnixMilli(touchedMS).UTC().Format(time.RFC3339),
		})
	}
}

// decisionsCmd tails the newest decision log file.
func decisionsCmd(args []string) {
	fs := flag.NewFlagSet("decisions", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	limit := fs.Int("limit", 50, "print at most this many entries, newest last")
	_ = fs.Parse(args)

	dir := filepath.Join(*dataDir, "decisions")
	ents, err := os.ReadDir(dir)
	if err != nil {
		fatal("read:", err)
	}
	var files []string
	for _, e := range ents {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl.zst") {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no decision logs found")
		os.Exit(2)
	}
	sort.Strings(files)

	f, err := os.Open(filepath.Join(dir, files[len(files)-1]))
	if err != nil {
		fatal("open:", err)
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		fatal("zstd:", err)
	}
	defer zr.Close()

	var lines []string
	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if *limit > 0 && len(lines) > *limit {
			lines = lines[1:]
		}
	}
	for _, l := range lines {
		fmt.Println(l)
	}
}

func openDB(dataDir, dbPath string) *sql.DB {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = filepath.Join(dataDir, "scores.db")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fatal("open:", err)
	}
	return db
}

func printJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		fatal("marshal:", err)
	}
	fmt.Println(string(b))
}

func fatal(msg string, err error) {
	fmt.Fprintln(os.Stderr, msg, err)
	os.Exit(1)
}
