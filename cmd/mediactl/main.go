// Command mediactl is a small operator CLI that queries a running
// mediacored instance's public API facets over HTTP, the admin/
// diagnose counterpart to the mediacored server binary.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	fs := flag.NewFlagSet("mediactl", flag.ExitOnError)
	addr := fs.String("addr", "http://127.0.0.1:1985", "base URL of the mediacored API")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  summary              print the summaries facet\n")
		fmt.Fprintf(os.Stderr, "  streams              list mounted HTTP-remux streams\n")
		fmt.Fprintf(os.Stderr, "  clients [stream]     list connected viewers, optionally for one stream\n")
		fmt.Fprintf(os.Stderr, "  vhosts               list known vhosts\n")
		fmt.Fprintf(os.Stderr, "  reload               trigger rpc=reload on the raw config channel\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		os.Exit(1)
	}

	client := &http.Client{Timeout: *timeout}

	var err error
	switch cmd := args[0]; cmd {
	case "summary":
		err = fetchAndPrint(client, *addr+"/api/v1/summaries")
	case "streams":
		err = fetchAndPrint(client, *addr+"/api/v1/streams")
	case "vhosts":
		err = fetchAndPrint(client, *addr+"/api/v1/vhosts")
	case "clients":
		url := *addr + "/api/v1/clients"
		if len(args) > 1 {
			url += "?stream=" + args[1]
		}
		err = fetchAndPrint(client, url)
	case "reload":
		err = fetchAndPrint(client, *addr+"/api/v1/raw?rpc=reload")
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		fs.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// fetchAndPrint GETs url, re-indents the envelope JSON for readability,
// and exits non-zero if the envelope's code field is non-zero.
func fetchAndPrint(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	pretty, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("re-encode response: %w", err)
	}
	fmt.Println(string(pretty))

	if code, ok := envelope["code"].(float64); ok && code != 0 {
		return fmt.Errorf("server returned non-zero code %v", code)
	}
	return nil
}
