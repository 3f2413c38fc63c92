// webhook-receiver is a standalone test sink for paceline batch deliveries.
//
// It logs every delivery, verifies HMAC signatures when SECRET is set, and
// exposes counters for integration testing. Run it next to a paceline
// instance with SCRAPER_WEBHOOK_URL pointed at /hook.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type batchPayload struct {
	CycleStart     string `json:"cycle_start"`
	TasksGenerated int    `json:"tasks_generated"`
	TargetsSkipped int    `json:"targets_skipped"`
	Tasks          []struct {
		TaskID        string `json:"task_id"`
		TargetID      string `json:"target_id"`
		OffsetSeconds int    `json:"offset_seconds"`
		FireAt        string `json:"fire_at"`
	} `json:"tasks"`
}

type delivery struct {
	Timestamp      string `json:"timestamp"`
	DeliveryID     string `json:"delivery_id"`
	CycleStart     string `json:"cycle_start"`
	Tasks          int    `json:"tasks"`
	SignatureValid *bool  `json:"signature_valid,omitempty"`
}

type stats struct {
	Batches        int64      `json:"batches"`
	Tasks          int64      `json:"tasks"`
	BadSignatures  int64      `json:"bad_signatures"`
	LastDeliveries []delivery `json:"last_deliveries"`
	Since          string     `json:"since"`
}

var (
	mu             sync.Mutex
	batches        int64
	tasks          int64
	badSignatures  int64
	lastDeliveries []delivery
	since          time.Time
	maxStored      = 50
	secret         string
)

func main() {
	since = time.Now().UTC()
	secret = os.Getenv("SECRET")

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/hook", hookHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		batches = 0
		tasks = 0
		badSignatures = 0
		lastDeliveries = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("webhook-receiver listening on %s (signature checks: %v)", addr, secret != "")
	log.Fatal(http.ListenAndServe(addr, nil))
}

func hookHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	d := delivery{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		DeliveryID: r.Header.Get("X-Paceline-Delivery-ID"),
		CycleStart: r.Header.Get("X-Paceline-Cycle-Start"),
	}

	var payload batchPayload
	if err := json.Unmarshal(body, &payload); err == nil {
		d.Tasks = len(payload.Tasks)
	}

	if secret != "" {
		valid := verifySignature(secret, body, r.Header.Get("X-Paceline-Signature"))
		d.SignatureValid = &valid
		if !valid {
			mu.Lock()
			badSignatures++
			mu.Unlock()
			log.Printf("hook: bad signature for delivery %s", d.DeliveryID)
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprintln(w, `{"error":"bad signature"}`)
			return
		}
	}

	mu.Lock()
	batches++
	tasks += int64(d.Tasks)
	lastDeliveries = append(lastDeliveries, d)
	if len(lastDeliveries) > maxStored {
		lastDeliveries = lastDeliveries[len(lastDeliveries)-maxStored:]
	}
	current := batches
	mu.Unlock()

	log.Printf("hook: batch #%d cycle=%s tasks=%d", current, d.CycleStart, d.Tasks)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Batches:        batches,
		Tasks:          tasks,
		BadSignatures:  badSignatures,
		LastDeliveries: lastDeliveries,
		Since:          since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
