package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/quotaforge/ratelimit"
	"github.com/redis/go-redis/v9"
)

func main() {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: redisAddr})

	engine, err := ratelimit.NewRedisEngine(client,
		ratelimit.WithPrefix("demo"),
		ratelimit.WithTimeout(100*time.Millisecond),
		ratelimit.WithDefaultAlgorithm(ratelimit.TokenBucket),
	)
	if err != nil {
		log.Fatal(err)
	}

	http.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// Rate limit: 5 req/sec burst, per remote address.
		id := ratelimit.Identity{ID: r.RemoteAddr}

		res, err := engine.Check(ctx, id, "5/second")
		if err != nil {
			// Fail open or closed? Here we fail open: allow traffic on a
			// backend or programmer error rather than take the service down.
			log.Printf("ratelimit error: %v", err)
		} else if !res.Allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%.2f", res.RetryAfter.Seconds()))
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("Rate limit exceeded\n"))
			return
		}

		w.Write([]byte("Pong!\n"))
	})

	log.Printf("Server listening on :8080 (Redis: %s)", redisAddr)
	log.Fatal(http.ListenAndServe(":8080", nil))
}
