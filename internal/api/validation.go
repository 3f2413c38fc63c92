package api

import (
	"fmt"
	"net/url"
	"strings"

	"paceline/internal/domain"
)

func validateCreateTarget(req CreateTargetRequest) error {
	if strings.TrimSpace(req.TargetID) == "" {
		return fmt.Errorf("target_id is required")
	}

	if req.Priority != "" && !domain.PriorityTier(req.Priority).IsValid() {
		return fmt.Errorf("invalid priority: must be high, medium or low")
	}

	if req.EndpointRef != "" {
		if err := validateEndpointRef(req.EndpointRef); err != nil {
			return fmt.Errorf("invalid endpoint_ref: %w", err)
		}
	}

	return nil
}

// validateEndpointRef accepts either an absolute http(s) URL or a bare
// resource reference like "Device/abc".
func validateEndpointRef(ref string) error {
	if !strings.Contains(ref, "://") {
		return nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
