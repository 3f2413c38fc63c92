package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type HTTPBatchSender struct {
	client *http.Client
}

func NewHTTPBatchSender() *HTTPBatchSender {
	return &HTTPBatchSender{
		client: &http.Client{},
	}
}

// Send posts the batch payload with HMAC signature.
// Headers: X-Paceline-Delivery-ID, X-Paceline-Cycle-Start, X-Paceline-Signature
func (s *HTTPBatchSender) Send(ctx context.Context, req BatchRequest) SendResult {
	start := time.Now()

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return SendResult{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	signature := computeSignature(req.Secret, body)

	timeout := req.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return SendResult{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Paceline-Delivery-ID", req.DeliveryID)
	httpReq.Header.Set("X-Paceline-Cycle-Start", req.Payload.CycleStart)
	httpReq.Header.Set("X-Paceline-Signature", signature)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return SendResult{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	return SendResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming batch deliveries.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
