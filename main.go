package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/akwean/TaskFlow-gre/api"
	"github.com/akwean/TaskFlow-gre/realtime"
	"github.com/akwean/TaskFlow-gre/storage"
)

func main() {
	_ = godotenv.Load()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing storage config")
	}
	tables := storage.Tables{
		Boards:      envOr("BOARDS_TABLE", "boards"),
		Lists:       envOr("LISTS_TABLE", "lists"),
		Cards:       envOr("CARDS_TABLE", "cards"),
		Memberships: envOr("MEMBERSHIPS_TABLE", "memberships"),
		Users:       envOr("USERS_TABLE", "users"),
	}
	base, err := storage.New(connStr, tables)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	var store api.Storage = base
	var rc *redis.Client
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		rc = redis.NewClient(redisOptions(redisConn))
		ttl := 5 * time.Minute
		if v := os.Getenv("CACHE_TTL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				log.Fatalf("invalid CACHE_TTL: %v", err)
			}
			ttl = d
		}
		store = storage.NewCache(base, rc, ttl)
	}

	var auth *api.Auth
	if secret := os.Getenv("AUTH_SHARED_SECRET"); secret != "" {
		auth = api.NewSharedSecretAuth([]byte(secret))
	} else {
		jwtAudience := os.Getenv("AUTH_AUDIENCE")
		domain := os.Getenv("AUTH_DOMAIN")
		if jwtAudience == "" || domain == "" {
			log.Fatal("missing auth config: set AUTH_SHARED_SECRET or AUTH_DOMAIN/AUTH_AUDIENCE")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewJWKSAuth(jwks, jwtAudience, "https://"+domain+"/")
	}

	origins := []string{"*"}
	if v := os.Getenv("CLIENT_ORIGIN"); v != "" {
		origins = strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}

	logger := log.New()
	logger.SetLevel(log.GetLevel())

	var bus *realtime.Bus
	if rc != nil {
		bus = realtime.NewBus(rc, envOr("BUS_CHANNEL", "board-events"), logger)
	}
	hub := realtime.NewHub(bus, logger)
	if bus != nil {
		go bus.Subscribe(context.Background(), hub)
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, store, auth, hub, logger)
	e.GET("/ws", realtime.Handler(hub, auth, api.NewBoardAccess(store), originPatterns(origins), logger))

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}
	e.Logger.Fatal(e.Start(listenAddr))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// originPatterns strips schemes from the CORS allow-list; the websocket
// accept check matches host patterns, not full origins.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		if o != "" {
			patterns = append(patterns, o)
		}
	}
	return patterns
}

// redisOptions accepts either a redis URL or an Azure-style
// comma-separated connection string.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
