package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"turtleworld.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	bodyID := fs.String("body", "", "body id (influences)")
	from := fs.Uint64("from", 0, "first step (influences)")
	to := fs.Uint64("to", 0, "last step (influences; defaults to latest)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(context.Background(), db, q, queryOpts{limit: *limit, bodyID: *bodyID, from: *from, to: *to}, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") || strings.HasPrefix(err.Error(), "missing") {
			fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-world WORLD|-db PATH] snapshots|steps|influences|meta")
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type queryOpts struct {
	limit    int
	bodyID   string
	from, to uint64
}

// runQuery prints one JSON line per row of the named query.
func runQuery(ctx context.Context, db *sqlx.DB, q string, o queryOpts, w io.Writer) error {
	if o.limit <= 0 {
		o.limit = 20
	}
	switch q {
	case "snapshots":
		var rows []indexdb.SnapshotRow
		if err := db.SelectContext(ctx, &rows, `SELECT step,path,seed,width,height,bodies,objects FROM snapshots ORDER BY step DESC LIMIT ?`, o.limit); err != nil {
			return fmt.Errorf("query: %w", err)
		}
		for _, r := range rows {
			printJSON(w, r)
		}

	case "steps":
		var rows []indexdb.StepRow
		if err := db.SelectContext(ctx, &rows, `SELECT step,time,digest,expected,reported,timed_out,joins,leaves,influences FROM steps ORDER BY step DESC LIMIT ?`, o.limit); err != nil {
			return fmt.Errorf("query: %w", err)
		}
		for _, r := range rows {
			printJSON(w, r)
		}

	case "influences":
		if strings.TrimSpace(o.bodyID) == "" {
			return fmt.Errorf("missing -body")
		}
		to := o.to
		if to == 0 {
			if err := db.GetContext(ctx, &to, `SELECT COALESCE(MAX(step),0) FROM steps`); err != nil {
				return fmt.Errorf("latest step: %w", err)
			}
		}
		var rows []indexdb.InfluenceRow
		if err := db.SelectContext(ctx, &rows, `SELECT step,seq,body_id,kind,influence_json FROM influences
			WHERE body_id=? AND step BETWEEN ? AND ? ORDER BY step,seq LIMIT ?`, o.bodyID, int64(o.from), int64(to), o.limit); err != nil {
			return fmt.Errorf("query: %w", err)
		}
		for _, r := range rows {
			printJSON(w, r)
		}

	case "meta":
		rows, err := db.QueryxContext(ctx, `SELECT key,value FROM meta ORDER BY key`)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Key   string `db:"key" json:"key"`
				Value string `db:"value" json:"value"`
			}
			if err := rows.StructScan(&r); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(w, r)
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown query: %s", q)
	}
	return nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
