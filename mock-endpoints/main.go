// Mock receiver for exercising deliveries locally. Each route simulates a
// different kind of endpoint; set WEBHOOK_SECRET to have signatures
// verified against it.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/taskhive/hookbridge/internal/signature"
)

var (
	requestCount atomic.Int64
	flakyCount   atomic.Int64
	secret       = os.Getenv("WEBHOOK_SECRET")
)

func main() {
	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}

	// Successful endpoint — always returns 200
	http.HandleFunc("/webhook/success", func(w http.ResponseWriter, r *http.Request) {
		logRequest(r, requestCount.Add(1), 200)
		respond(w, http.StatusOK, map[string]string{"status": "received"})
	})

	// Slow endpoint — delays 15 seconds, longer than the default attempt
	// timeout
	http.HandleFunc("/webhook/slow", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		time.Sleep(15 * time.Second)
		logRequest(r, count, 200)
		respond(w, http.StatusOK, map[string]string{"status": "received (slow)"})
	})

	// Failing endpoint — always returns 500
	http.HandleFunc("/webhook/fail", func(w http.ResponseWriter, r *http.Request) {
		logRequest(r, requestCount.Add(1), 500)
		respond(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	})

	// Rejecting endpoint — always returns 400, should never be retried
	http.HandleFunc("/webhook/reject", func(w http.ResponseWriter, r *http.Request) {
		logRequest(r, requestCount.Add(1), 400)
		respond(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
	})

	// Flaky endpoint — fails twice, then succeeds
	http.HandleFunc("/webhook/flaky", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		if flakyCount.Add(1)%3 != 0 {
			logRequest(r, count, 503)
			respond(w, http.StatusServiceUnavailable, map[string]string{"error": "try again"})
			return
		}
		logRequest(r, count, 200)
		respond(w, http.StatusOK, map[string]string{"status": "received (third time lucky)"})
	})

	// Verifying endpoint — checks the signature against WEBHOOK_SECRET
	http.HandleFunc("/webhook/verify", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			respond(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			return
		}

		sig, ok := signature.ParseHeader(r.Header.Get("X-Signature"))
		if !ok {
			logRequest(r, count, 401)
			respond(w, http.StatusUnauthorized, map[string]string{"error": "missing signature"})
			return
		}
		err = signature.Verify(body, sig, secret, r.Header.Get("X-Timestamp"), signature.DefaultFreshnessWindow)
		if err != nil {
			logRequest(r, count, 401)
			respond(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
			return
		}

		logRequest(r, count, 200)
		respond(w, http.StatusOK, map[string]string{"status": "verified"})
	})

	// Stats endpoint — shows request count
	http.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]int64{"total_requests": requestCount.Load()})
	})

	log.Printf("Mock endpoint server starting on :%s", port)
	log.Printf("  POST /webhook/success  -> 200 OK")
	log.Printf("  POST /webhook/slow     -> 200 OK (15s delay)")
	log.Printf("  POST /webhook/fail     -> 500 Error")
	log.Printf("  POST /webhook/reject   -> 400 Error (no retry expected)")
	log.Printf("  POST /webhook/flaky    -> 503, 503, 200, ...")
	log.Printf("  POST /webhook/verify   -> 200 if signature matches WEBHOOK_SECRET")
	log.Printf("  GET  /stats            -> request count")

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func respond(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func logRequest(r *http.Request, count int64, status int) {
	fmt.Printf("[#%d] %s %s -> %d | sig=%s event=%s ts=%s\n",
		count,
		r.Method,
		r.URL.Path,
		status,
		truncate(r.Header.Get("X-Signature"), 24),
		r.Header.Get("X-Event"),
		r.Header.Get("X-Timestamp"),
	)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
