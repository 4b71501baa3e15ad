package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"copyflow.org/internal/auth"
	"copyflow.org/internal/content"
	"copyflow.org/internal/genai"
	"copyflow.org/internal/httpapi"
	"copyflow.org/internal/obs"
	"copyflow.org/internal/publish"
	"copyflow.org/internal/store/mongo"
	"copyflow.org/internal/store/pg"
	"copyflow.org/internal/stream"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

type backend struct {
	contentStore content.Store
	userStore    auth.UserStore
	close        func(context.Context) error
}

// openBackend picks the store from the environment: Postgres when
// COPYFLOW_PG_DSN is set, MongoDB when COPYFLOW_MONGO_URI is set, otherwise
// in-memory for local development.
func openBackend(ctx context.Context) (backend, error) {
	if dsn := os.Getenv("COPYFLOW_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			return backend{}, err
		}
		return backend{
			contentStore: store,
			userStore:    store,
			close:        func(context.Context) error { return store.Close() },
		}, nil
	}
	if uri := os.Getenv("COPYFLOW_MONGO_URI"); uri != "" {
		dbName := os.Getenv("COPYFLOW_MONGO_DB")
		if dbName == "" {
			dbName = "copyflow"
		}
		store, err := mongo.Open(ctx, uri, dbName)
		if err != nil {
			return backend{}, err
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			return backend{}, err
		}
		return backend{
			contentStore: store,
			userStore:    store,
			close:        store.Close,
		}, nil
	}
	log.Println("no store configured, using in-memory backend")
	return backend{
		contentStore: content.NewInMemory(),
		userStore:    auth.NewInMemoryUsers(),
		close:        func(context.Context) error { return nil },
	}, nil
}

func webhooksFromEnv() map[string]string {
	hooks := make(map[string]string)
	for channel, env := range map[string]string{
		publish.ChannelBlog:     "COPYFLOW_WEBHOOK_BLOG",
		publish.ChannelTwitter:  "COPYFLOW_WEBHOOK_TWITTER",
		publish.ChannelLinkedIn: "COPYFLOW_WEBHOOK_LINKEDIN",
	} {
		if url := os.Getenv(env); url != "" {
			hooks[channel] = url
		}
	}
	return hooks
}

func main() {
	obs.Init()
	obs.SetBuildInfo(version, commit)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	be, err := openBackend(ctx)
	cancel()
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	endpoint := os.Getenv("COPYFLOW_GENAI_ENDPOINT")
	if endpoint == "" {
		endpoint = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent"
	}
	gen, err := genai.NewClient(endpoint, os.Getenv("COPYFLOW_GENAI_KEY"))
	if err != nil {
		log.Fatalf("genai client: %v", err)
	}

	hub := stream.NewHub()
	items := content.NewService(be.contentStore, gen, hub)
	users, err := auth.NewUsers(be.userStore)
	if err != nil {
		log.Fatalf("user service: %v", err)
	}
	publisher := publish.NewService(items, webhooksFromEnv())

	api := httpapi.New(httpapi.Config{
		Items:      items,
		Users:      users,
		Publisher:  publisher,
		Strategist: gen,
		Hub:        hub,
		ReadyProbe: items.Ping,
		Version:    version,
	})

	addr := os.Getenv("COPYFLOW_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// No write timeout: /v1/events streams until the client leaves.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting copyflow-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = be.close(shutdownCtx)
	log.Println("Stopped")
}
