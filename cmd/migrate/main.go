package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"fingate.org/internal/migrate"
	"fingate.org/internal/obs"
	"fingate.org/internal/store/pg"
)

func main() {
	flags := pflag.NewFlagSet("migrate", pflag.ExitOnError)
	var (
		dsn     = flags.String("dsn", os.Getenv("FINGATE_PG_DSN"), "PostgreSQL DSN (default $FINGATE_PG_DSN)")
		timeout = flags.Duration("timeout", 30*time.Second, "overall timeout")
		dir     = flags.String("dir", "", "read migrations from this directory instead of the embedded set")
	)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [flags] up|down|seed|status")
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	if *dsn == "" {
		fail("missing DSN: provide --dsn or FINGATE_PG_DSN", nil)
	}
	if flags.NArg() == 0 {
		flags.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := pg.Open(ctx, *dsn, pg.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		fail("open db", err)
	}
	defer db.Close()

	var opts []migrate.Option
	if *dir != "" {
		opts = append(opts, migrate.WithFS(os.DirFS(*dir), "migrations", "seeds"))
	}
	mgr := migrate.NewManager(db, opts...)

	cmd := flags.Arg(0)
	var names []string
	switch cmd {
	case "up":
		names, err = mgr.Up(ctx)
	case "seed":
		names, err = mgr.Seed(ctx)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if name != "" {
			names = []string{name}
		}
	case "status":
		names, err = mgr.Status(ctx)
	default:
		fail(fmt.Sprintf("unknown command %q", cmd), nil)
	}
	if err != nil {
		fail("migrate "+cmd, err)
	}
	for _, n := range names {
		fmt.Println(n)
	}
	obs.Info("migrate_done", map[string]any{"command": cmd, "count": len(names)})
}

func fail(msg string, err error) {
	fields := map[string]any{}
	if err != nil {
		fields["error"] = err
	}
	obs.Error(msg, fields)
	os.Exit(1)
}
