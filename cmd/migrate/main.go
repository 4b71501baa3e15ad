package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"copyflow.org/internal/migrate"
	"copyflow.org/internal/store/mongo"
	"copyflow.org/migrations"
)

func main() {
	log.SetFlags(0)
	var (
		dsn      = flag.String("dsn", os.Getenv("COPYFLOW_PG_DSN"), "PostgreSQL DSN")
		mongoURI = flag.String("mongo", os.Getenv("COPYFLOW_MONGO_URI"), "MongoDB URI (index bootstrap only)")
		mongoDB  = flag.String("mongo-db", envOr("COPYFLOW_MONGO_DB", "copyflow"), "MongoDB database name")
	)
	flag.Parse()

	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|indexes]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if flag.Arg(0) == "indexes" {
		if *mongoURI == "" {
			log.Fatal("missing URI: provide via -mongo or COPYFLOW_MONGO_URI")
		}
		store, err := mongo.Open(ctx, *mongoURI, *mongoDB)
		if err != nil {
			log.Fatalf("connect mongo: %v", err)
		}
		defer store.Close(ctx)
		if err := store.EnsureIndexes(ctx); err != nil {
			log.Fatalf("ensure indexes: %v", err)
		}
		return
	}

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or COPYFLOW_PG_DSN")
	}
	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, migrations.FS)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
