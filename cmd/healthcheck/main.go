// Command healthcheck checks a service's /healthz endpoint and exits non-zero
// when it is not healthy. It is meant for container HEALTHCHECK directives.
//
// The target defaults to http://localhost:8080/healthz; set HEALTHCHECK_URL or
// pass the URL as the first argument to override it.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"
)

const defaultURL = "http://localhost:8080/healthz"

func main() {
	if err := check(context.Background(), target(os.Args[1:]), &http.Client{Timeout: 3 * time.Second}); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func target(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if v := os.Getenv("HEALTHCHECK_URL"); v != "" {
		return v
	}
	return defaultURL
}

type unhealthyError struct{ status string }

func (e unhealthyError) Error() string { return "unhealthy: " + e.status }

func check(ctx context.Context, url string, client *http.Client) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return unhealthyError{status: resp.Status}
	}
	return nil
}
